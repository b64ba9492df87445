// Package tts synthesizes speech with locally installed engines.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// ContentType is the media type every engine produces
const ContentType = "audio/wav"

var (
	ErrEngineNotAvailable = errors.New("TTS engine is not available")
	ErrUnknownEngine      = errors.New("unknown TTS engine")
	ErrEmptyText          = errors.New("no text to synthesize")
	ErrGenerationFailed   = errors.New("audio generation failed")
)

// Voice is one selectable voice
type Voice struct {
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
	Path     string `json:"path,omitempty"`
}

// Engine turns text into WAV audio
type Engine interface {
	Name() string
	Available() bool
	Synthesize(ctx context.Context, text string, rate float64, voice string) ([]byte, error)
	Voices(ctx context.Context) ([]Voice, error)
}

// runFunc executes a binary, feeding stdin and returning stdout
type runFunc func(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error)

func runCommand(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// lookPath returns the first candidate found on PATH
func lookPath(candidates ...string) string {
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path
		}
	}
	return ""
}
