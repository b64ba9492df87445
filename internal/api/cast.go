// ABOUTME: Cast endpoints: devices, sessions, relayed audio and transport control
// ABOUTME: Staged audio is served back to receivers from /serve_cast_audio/
package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/Resonate-Protocol/cast-relay/internal/cast"
	"github.com/Resonate-Protocol/cast-relay/internal/relay"
	"github.com/Resonate-Protocol/cast-relay/internal/session"
	"github.com/Resonate-Protocol/cast-relay/internal/tts"
	"github.com/go-chi/chi/v5"
)

// defaultAudioType is assumed when an upload carries no usable type
const defaultAudioType = "audio/wav"

type device struct {
	UUID  string `json:"uuid"`
	Name  string `json:"name"`
	Model string `json:"model"`
	Host  string `json:"host"`
}

type statusResponse struct {
	Connected bool             `json:"connected"`
	Device    string           `json:"device,omitempty"`
	UUID      string           `json:"uuid,omitempty"`
	State     cast.PlayerState `json:"state,omitempty"`
	Playing   bool             `json:"playing"`
	Paused    bool             `json:"paused"`
}

func newStatusResponse(s session.Status) statusResponse {
	return statusResponse{
		Connected: s.Connected,
		Device:    s.DeviceName,
		UUID:      s.DeviceID,
		State:     s.PlayerState,
		Playing:   s.PlayerState == cast.StatePlaying,
		Paused:    s.PlayerState == cast.StatePaused,
	}
}

func (a *API) handleDevices(w http.ResponseWriter, r *http.Request) {
	receivers := a.svc.Registry.List()
	devices := make([]device, 0, len(receivers))
	for _, rc := range receivers {
		devices = append(devices, device{UUID: rc.ID, Name: rc.DisplayName, Model: rc.ModelName, Host: rc.Host})
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	a.svc.Discovery.Trigger()
	a.writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
}

func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UUID string `json:"uuid"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.UUID == "" {
		a.writeError(w, fmt.Errorf("%w: uuid is required", errBadRequest))
		return
	}

	rc, err := a.svc.Sessions.Connect(r.Context(), req.UUID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"success": true, "device": rc.DisplayName})
}

func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	a.svc.Sessions.Disconnect(r.Context())
	a.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleCastData(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := a.svc.Sessions.Current(); !ok {
		a.writeError(w, session.ErrNoActiveConnection)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		a.writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("audio")
	if err != nil {
		a.writeError(w, fmt.Errorf("%w: no audio file provided", errBadRequest))
		return
	}
	defer file.Close()

	res, err := a.svc.Relay.Cast(r.Context(), file, uploadType(hdr.Header.Get("Content-Type")))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": res.URL})
}

// uploadType keeps audio types and falls back to WAV for anything else
func uploadType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "audio/") {
		return defaultAudioType
	}
	return mediaType
}

func (a *API) handleCastURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.URL == "" {
		a.writeError(w, fmt.Errorf("%w: url is required", errBadRequest))
		return
	}
	if req.ContentType == "" {
		req.ContentType = defaultAudioType
	}

	if err := a.svc.Relay.CastURL(r.Context(), req.URL, req.ContentType); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": req.URL})
}

func (a *API) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req tts.Request
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	res, err := a.svc.Speak(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": res.URL})
}

func (a *API) handleServeAudio(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	f, staged, err := a.svc.Store.Open(name)
	if err != nil {
		if errors.Is(err, relay.ErrNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		a.writeError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", staged.ContentType)
	http.ServeContent(w, r, staged.Name, staged.CreatedAt, f)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, newStatusResponse(a.svc.Sessions.Status(r.Context())))
}

func (a *API) handleControl(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	if err := a.svc.Playback.Control(r.Context(), req.Action); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
