// ABOUTME: Tests for the TTS engines and synthesizer
// ABOUTME: Swaps the process runner for a recorder so no engine needs installing
package tts

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRun struct {
	name  string
	args  []string
	stdin string
}

func recorder(runs *[]recordedRun, out []byte, err error) runFunc {
	return func(_ context.Context, name string, args []string, stdin io.Reader) ([]byte, error) {
		run := recordedRun{name: name, args: args}
		if stdin != nil {
			data, _ := io.ReadAll(stdin)
			run.stdin = string(data)
		}
		*runs = append(*runs, run)
		return out, err
	}
}

func TestEspeakSynthesizeArgs(t *testing.T) {
	var runs []recordedRun
	e := &EspeakEngine{binary: "/usr/bin/espeak", run: recorder(&runs, []byte("RIFF"), nil)}

	data, err := e.Synthesize(context.Background(), "hello there", 1.5, "en-us")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), data)

	require.Len(t, runs, 1)
	assert.Equal(t, "/usr/bin/espeak", runs[0].name)
	assert.Equal(t, []string{"--stdout", "-s", "262", "-v", "en-us", "--", "hello there"}, runs[0].args)
}

func TestEspeakFailures(t *testing.T) {
	var runs []recordedRun

	missing := &EspeakEngine{run: recorder(&runs, nil, nil)}
	_, err := missing.Synthesize(context.Background(), "hi", 1, "")
	assert.ErrorIs(t, err, ErrEngineNotAvailable)

	broken := &EspeakEngine{binary: "espeak", run: recorder(&runs, nil, errors.New("exit status 1"))}
	_, err = broken.Synthesize(context.Background(), "hi", 1, "")
	assert.ErrorIs(t, err, ErrGenerationFailed)

	silent := &EspeakEngine{binary: "espeak", run: recorder(&runs, nil, nil)}
	_, err = silent.Synthesize(context.Background(), "hi", 1, "")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestParseEspeakVoices(t *testing.T) {
	out := []byte(`Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  af              --/M      Afrikaans          gmw/af
 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)

 5  x
`)
	voices := parseEspeakVoices(out)
	require.Len(t, voices, 2)
	assert.Equal(t, Voice{Name: "Afrikaans", Language: "af"}, voices[0])
	assert.Equal(t, Voice{Name: "English_(America)", Language: "en-us"}, voices[1])
}

func TestPiperSynthesize(t *testing.T) {
	var runs []recordedRun
	e := NewPiper(PiperConfig{Binary: "piper", ModelDirs: []string{}})
	e.run = func(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error) {
		recorder(&runs, nil, nil)(ctx, name, args, stdin)
		// piper writes the WAV to the --output_file path
		for i, a := range args {
			if a == "--output_file" {
				return nil, os.WriteFile(args[i+1], []byte("RIFFpiper"), 0o644)
			}
		}
		return nil, errors.New("no output file")
	}

	data, err := e.Synthesize(context.Background(), "read this", 2, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFFpiper"), data)

	require.Len(t, runs, 1)
	assert.Equal(t, "read this", runs[0].stdin)
	assert.Equal(t, "--model", runs[0].args[0])
	assert.Equal(t, DefaultPiperModel, runs[0].args[1])
	assert.Contains(t, runs[0].args, "--length_scale")
	assert.Contains(t, runs[0].args, "0.500")

	// The temp output is removed
	assert.NoFileExists(t, runs[0].args[3])
}

func TestPiperVoices(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "en"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en", "en_US-amy-low.onnx"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en", "en_US-amy-low.onnx.json"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "de_DE-thorsten.onnx"), nil, 0o644))

	e := NewPiper(PiperConfig{Binary: "piper", ModelDirs: []string{dir, filepath.Join(dir, "missing")}})
	voices, err := e.Voices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 2)
	assert.Equal(t, "de_DE-thorsten", voices[0].Name)
	assert.Equal(t, "en_US-amy-low", voices[1].Name)
	assert.Equal(t, filepath.Join(dir, "en", "en_US-amy-low.onnx"), voices[1].Path)

	assert.Equal(t, voices[1].Path, e.resolveModel("en_US-amy-low"))
	assert.Equal(t, "other", e.resolveModel("other"))
}

type stubEngine struct {
	name      string
	available bool
	calls     int
}

func (s *stubEngine) Name() string    { return s.name }
func (s *stubEngine) Available() bool { return s.available }
func (s *stubEngine) Synthesize(context.Context, string, float64, string) ([]byte, error) {
	s.calls++
	return []byte(s.name), nil
}
func (s *stubEngine) Voices(context.Context) ([]Voice, error) {
	return []Voice{{Name: s.name + "-voice"}}, nil
}

func TestSynthesizerAutoSelection(t *testing.T) {
	piper := &stubEngine{name: "piper"}
	espeak := &stubEngine{name: "espeak", available: true}
	s := NewSynthesizer(nil, piper, espeak)

	audio, err := s.Synthesize(context.Background(), Request{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "espeak", audio.Engine)
	assert.Equal(t, ContentType, audio.ContentType)

	piper.available = true
	audio, err = s.Synthesize(context.Background(), Request{Text: "hi", Engine: "auto"})
	require.NoError(t, err)
	assert.Equal(t, "piper", audio.Engine)

	assert.Equal(t, map[string]bool{"piper": true, "espeak": true}, s.Available())
}

func TestSynthesizerErrors(t *testing.T) {
	s := NewSynthesizer(nil, &stubEngine{name: "espeak"})

	_, err := s.Synthesize(context.Background(), Request{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = s.Synthesize(context.Background(), Request{Text: "hi", Engine: "festival"})
	assert.ErrorIs(t, err, ErrUnknownEngine)

	_, err = s.Synthesize(context.Background(), Request{Text: "hi"})
	assert.ErrorIs(t, err, ErrEngineNotAvailable)
}

func TestSynthesizerVoices(t *testing.T) {
	s := NewSynthesizer(nil, &stubEngine{name: "piper"}, &stubEngine{name: "espeak", available: true})

	engine, voices, err := s.Voices(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "espeak", engine)
	assert.Equal(t, []Voice{{Name: "espeak-voice"}}, voices)

	engine, _, err = s.Voices(context.Background(), "PIPER")
	require.NoError(t, err)
	assert.Equal(t, "piper", engine)
}
