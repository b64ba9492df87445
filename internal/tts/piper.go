// ABOUTME: Piper engine
// ABOUTME: Pipes text into a fresh piper process per request and reads the WAV it writes
package tts

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultPiperModel is used when a request names no voice
const DefaultPiperModel = "en_US-lessac-medium"

// PiperConfig holds Piper engine configuration
type PiperConfig struct {
	Binary string
	// Model is the default voice model name or .onnx path
	Model string
	// ModelDirs are searched for .onnx voices
	ModelDirs []string
}

// DefaultModelDirs returns the usual piper model locations
func DefaultModelDirs() []string {
	dirs := []string{"/usr/share/piper/models", "/usr/local/share/piper/models"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append([]string{filepath.Join(home, ".local", "share", "piper", "models")}, dirs...)
	}
	return dirs
}

// PiperEngine synthesizes with Piper
type PiperEngine struct {
	config PiperConfig
	run    runFunc
}

// NewPiper creates a Piper engine
func NewPiper(config PiperConfig) *PiperEngine {
	if config.Binary == "" {
		config.Binary = lookPath("piper")
	}
	if config.Model == "" {
		config.Model = DefaultPiperModel
	}
	if config.ModelDirs == nil {
		config.ModelDirs = DefaultModelDirs()
	}
	return &PiperEngine{config: config, run: runCommand}
}

func (e *PiperEngine) Name() string { return "piper" }

func (e *PiperEngine) Available() bool { return e.config.Binary != "" }

// Synthesize writes text to piper's stdin. Rate maps to piper's length scale.
func (e *PiperEngine) Synthesize(ctx context.Context, text string, rate float64, voice string) ([]byte, error) {
	if !e.Available() {
		return nil, fmt.Errorf("%w: piper", ErrEngineNotAvailable)
	}

	out, err := os.CreateTemp("", "tts-*.wav")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	out.Close()
	defer os.Remove(out.Name())

	model := voice
	if model == "" {
		model = e.config.Model
	}

	args := []string{"--model", e.resolveModel(model), "--output_file", out.Name()}
	if rate > 0 && rate != 1 {
		args = append(args, "--length_scale", strconv.FormatFloat(1/rate, 'f', 3, 64))
	}

	if _, err := e.run(ctx, e.config.Binary, args, strings.NewReader(text)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	data, err := os.ReadFile(out.Name())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: piper produced no audio", ErrGenerationFailed)
	}
	return data, nil
}

// resolveModel maps a voice name to an installed model file when one exists
func (e *PiperEngine) resolveModel(name string) string {
	if strings.HasSuffix(name, ".onnx") {
		return name
	}
	for _, v := range e.scan() {
		if v.Name == name {
			return v.Path
		}
	}
	return name
}

// Voices lists .onnx models under the model directories
func (e *PiperEngine) Voices(context.Context) ([]Voice, error) {
	return e.scan(), nil
}

func (e *PiperEngine) scan() []Voice {
	voices := []Voice{}
	for _, dir := range e.config.ModelDirs {
		filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() || filepath.Ext(path) != ".onnx" {
				return nil
			}
			voices = append(voices, Voice{
				Name: strings.TrimSuffix(d.Name(), ".onnx"),
				Path: path,
			})
			return nil
		})
	}
	sort.Slice(voices, func(i, j int) bool { return voices[i].Name < voices[j].Name })
	return voices
}
