// ABOUTME: Engine selection and request handling for speech synthesis
// ABOUTME: "auto" prefers piper when installed and falls back to espeak
package tts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// AutoEngine selects the best installed engine
const AutoEngine = "auto"

// Request is one synthesis request
type Request struct {
	Text   string  `json:"text"`
	Engine string  `json:"engine"`
	Rate   float64 `json:"rate"`
	Voice  string  `json:"voice"`
}

// Audio is the synthesized result
type Audio struct {
	Engine      string
	ContentType string
	Data        []byte
}

// Synthesizer dispatches requests to engines in preference order
type Synthesizer struct {
	engines []Engine
	logger  *log.Logger
}

// NewSynthesizer creates a synthesizer; earlier engines win auto selection
func NewSynthesizer(logger *log.Logger, engines ...Engine) *Synthesizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Synthesizer{engines: engines, logger: logger}
}

// Engine resolves a name, or "auto", to an engine
func (s *Synthesizer) Engine(name string) (Engine, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	if name == "" || name == AutoEngine {
		for _, e := range s.engines {
			if e.Available() {
				return e, nil
			}
		}
		return nil, ErrEngineNotAvailable
	}

	for _, e := range s.engines {
		if e.Name() == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, name)
}

// Available reports which engines are installed
func (s *Synthesizer) Available() map[string]bool {
	out := make(map[string]bool, len(s.engines))
	for _, e := range s.engines {
		out[e.Name()] = e.Available()
	}
	return out
}

// Synthesize runs req through the selected engine
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (Audio, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}

	engine, err := s.Engine(req.Engine)
	if err != nil {
		return Audio{}, err
	}

	rate := req.Rate
	if rate <= 0 {
		rate = 1
	}

	start := time.Now()
	data, err := engine.Synthesize(ctx, text, rate, req.Voice)
	if err != nil {
		return Audio{}, err
	}

	s.logger.Debug("Synthesized speech",
		"engine", engine.Name(), "chars", len(text), "size", humanize.Bytes(uint64(len(data))), "took", time.Since(start))
	return Audio{Engine: engine.Name(), ContentType: ContentType, Data: data}, nil
}

// Voices lists the voices of the named engine and reports which engine answered
func (s *Synthesizer) Voices(ctx context.Context, name string) (string, []Voice, error) {
	engine, err := s.Engine(name)
	if err != nil {
		return "", nil, err
	}
	voices, err := engine.Voices(ctx)
	if err != nil {
		return engine.Name(), nil, err
	}
	return engine.Name(), voices, nil
}
