// ABOUTME: eSpeak engine
// ABOUTME: Runs espeak or espeak-ng and reads WAV from stdout
package tts

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
)

// espeakBaseWPM is eSpeak's default speaking rate in words per minute
const espeakBaseWPM = 175

// EspeakEngine synthesizes with eSpeak
type EspeakEngine struct {
	binary string
	run    runFunc
}

// NewEspeak creates an eSpeak engine. An empty binary is looked up on PATH.
func NewEspeak(binary string) *EspeakEngine {
	if binary == "" {
		binary = lookPath("espeak", "espeak-ng")
	}
	return &EspeakEngine{binary: binary, run: runCommand}
}

func (e *EspeakEngine) Name() string { return "espeak" }

func (e *EspeakEngine) Available() bool { return e.binary != "" }

// Synthesize speaks text at rate times the normal speed
func (e *EspeakEngine) Synthesize(ctx context.Context, text string, rate float64, voice string) ([]byte, error) {
	if !e.Available() {
		return nil, fmt.Errorf("%w: espeak", ErrEngineNotAvailable)
	}

	args := []string{"--stdout", "-s", strconv.Itoa(int(espeakBaseWPM * rate))}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	// Separate the text so leading dashes are not read as flags
	args = append(args, "--", text)

	out, err := e.run(ctx, e.binary, args, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: espeak produced no audio", ErrGenerationFailed)
	}
	return out, nil
}

// Voices lists installed voices from `espeak --voices`
func (e *EspeakEngine) Voices(ctx context.Context) ([]Voice, error) {
	if !e.Available() {
		return []Voice{}, nil
	}
	out, err := e.run(ctx, e.binary, []string{"--voices"}, nil)
	if err != nil {
		return nil, err
	}
	return parseEspeakVoices(out), nil
}

// parseEspeakVoices reads the table printed by --voices:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  af              --/M      Afrikaans          gmw/af
func parseEspeakVoices(out []byte) []Voice {
	voices := []Voice{}
	scanner := bufio.NewScanner(bytes.NewReader(out))

	header := true
	for scanner.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		voices = append(voices, Voice{Name: fields[3], Language: fields[1]})
	}
	return voices
}
