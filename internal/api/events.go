// ABOUTME: Websocket stream of session status
// ABOUTME: Pushes status on every session change and on a fixed interval
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Resonate-Protocol/cast-relay/internal/session"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("WebSocket upgrade error", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	changes := make(chan struct{}, 1)
	unsubscribe := a.svc.Sessions.OnChange(func(session.State) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	// Reads only detect the peer going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(a.eventsInterval)
	defer ticker.Stop()

	for {
		status := newStatusResponse(a.svc.Sessions.Status(ctx))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(status); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.logger.Debug("Event stream write failed", "err", err)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-changes:
		case <-ticker.C:
		}
	}
}
