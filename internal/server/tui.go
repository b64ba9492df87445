// ABOUTME: Server TUI for displaying receivers, session and relay stats
// ABOUTME: Real-time status display using bubbletea
package server

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Resonate-Protocol/cast-relay/internal/app"
	"github.com/Resonate-Protocol/cast-relay/internal/version"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

const refreshInterval = time.Second

// TUI shows a live summary of the service
type TUI struct {
	opts []tea.ProgramOption
}

// NewTUI creates a full-screen TUI
func NewTUI() *TUI {
	return &TUI{opts: []tea.ProgramOption{tea.WithAltScreen()}}
}

// newHeadlessTUI renders to out and reads keys from in
func newHeadlessTUI(in io.Reader, out io.Writer) *TUI {
	return &TUI{opts: []tea.ProgramOption{tea.WithInput(in), tea.WithOutput(out)}}
}

type summaryMsg app.Summary

type tuiModel struct {
	summary  app.Summary
	fetch    func() app.Summary
	quitting bool
}

// Run shows the TUI until the user quits or ctx is cancelled
func (t *TUI) Run(ctx context.Context, fetch func() app.Summary) error {
	program := tea.NewProgram(tuiModel{summary: fetch(), fetch: fetch}, t.opts...)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			program.Quit()
		case <-done:
		}
	}()

	_, err := program.Run()
	return err
}

func (m tuiModel) Init() tea.Cmd {
	return m.refresh()
}

func (m tuiModel) refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return summaryMsg(m.fetch())
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}

	case summaryMsg:
		m.summary = app.Summary(msg)
		return m, m.refresh()
	}

	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	sectionStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	footnoteStyle = lipgloss.NewStyle().Faint(true)
)

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down server...\n"
	}

	s := m.summary
	var b strings.Builder

	b.WriteString(titleStyle.Render(version.String()))
	b.WriteString("\n\n")

	field := func(name, value string) {
		b.WriteString(headerStyle.Render(name + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	url := s.URL
	if url == "" {
		url = "no LAN address"
	}
	field("Setup page", url)
	field("Uptime", s.Uptime.Round(time.Second).String())

	sessionText := s.Session.String()
	if s.Device != "" {
		sessionText += " to " + s.Device
	}
	field("Session", sessionText)

	current := s.CurrentName
	if current == "" {
		current = "nothing"
	}
	field("Casting", current)
	field("Staged files", fmt.Sprintf("%d", s.Staged))
	field("Engines", engineList(s.Engines))

	sweeps := fmt.Sprintf("%d ok, %d failed", s.Sweeps.Succeeded, s.Sweeps.Failed)
	if !s.Sweeps.LastSweep.IsZero() {
		sweeps += ", last " + humanize.Time(s.Sweeps.LastSweep)
	}
	field("Sweeps", sweeps)
	if s.Sweeps.LastError != "" {
		b.WriteString(errorStyle.Render("  " + s.Sweeps.LastError))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Receivers (%d)", len(s.Receivers))))
	b.WriteString("\n\n")
	if len(s.Receivers) == 0 {
		b.WriteString(valueStyle.Render("  No receivers found"))
		b.WriteString("\n")
	}
	for _, rc := range s.Receivers {
		b.WriteString(fmt.Sprintf("  • %s", rc.DisplayName))
		b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, %s)", rc.ModelName, rc.Host)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(footnoteStyle.Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

func engineList(engines map[string]bool) string {
	if len(engines) == 0 {
		return "none"
	}
	names := make([]string, 0, len(engines))
	for name, ok := range engines {
		if !ok {
			name += " (missing)"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
