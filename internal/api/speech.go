// ABOUTME: Health and speech synthesis endpoints
// ABOUTME: Returns WAV audio directly without casting it
package api

import (
	"net/http"
	"strconv"

	"github.com/Resonate-Protocol/cast-relay/internal/tts"
	"github.com/Resonate-Protocol/cast-relay/internal/version"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	engines := map[string]bool{"chromecast": true}
	for name, ok := range a.svc.TTS.Available() {
		engines[name] = ok
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"server_id": a.svc.ServerID,
		"version":   version.Version,
		"engines":   engines,
	})
}

func (a *API) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req tts.Request
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	audio, err := a.svc.TTS.Synthesize(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", audio.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.Header().Set("X-TTS-Engine", audio.Engine)
	w.WriteHeader(http.StatusOK)
	w.Write(audio.Data)
}

func (a *API) handleVoices(w http.ResponseWriter, r *http.Request) {
	engine, voices, err := a.svc.TTS.Voices(r.Context(), r.URL.Query().Get("engine"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"engine": engine, "voices": voices})
}
