// ABOUTME: JSON responses and error mapping
// ABOUTME: Every failure is reported as {"error", "code"} with a matching status
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Resonate-Protocol/cast-relay/internal/playback"
	"github.com/Resonate-Protocol/cast-relay/internal/relay"
	"github.com/Resonate-Protocol/cast-relay/internal/session"
	"github.com/Resonate-Protocol/cast-relay/internal/tts"
)

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{session.ErrDeviceNotFound, http.StatusNotFound, "DeviceNotFound"},
	{session.ErrConnectionFailed, http.StatusBadGateway, "ConnectionFailed"},
	{session.ErrNoActiveConnection, http.StatusBadRequest, "NoActiveConnection"},
	{playback.ErrInvalidAction, http.StatusBadRequest, "InvalidAction"},
	{playback.ErrPlaybackFailed, http.StatusGatewayTimeout, "PlaybackFailed"},
	{playback.ErrCommandFailed, http.StatusBadGateway, "CommandFailed"},
	{relay.ErrStorage, http.StatusInternalServerError, "StorageError"},
	{relay.ErrNotFound, http.StatusNotFound, "NotFound"},
	{tts.ErrEmptyText, http.StatusBadRequest, "BadRequest"},
	{tts.ErrUnknownEngine, http.StatusBadRequest, "UnknownEngine"},
	{tts.ErrEngineNotAvailable, http.StatusServiceUnavailable, "EngineUnavailable"},
	{tts.ErrGenerationFailed, http.StatusInternalServerError, "SynthesisFailed"},
	{errBadRequest, http.StatusBadRequest, "BadRequest"},
}

// classify maps err to a status and code; unknown errors are internal
func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "Internal"
}

func (a *API) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Warn("Error encoding JSON", "err", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("Request failed", "code", code, "err", err)
	}
	a.writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

// decodeJSON reads a JSON body into v
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}
