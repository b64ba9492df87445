// ABOUTME: Receiver application and media control over a Cast V2 connection
// ABOUTME: Launches the media receiver, loads URLs and drives playback
package castv2

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Resonate-Protocol/cast-relay/internal/cast"
)

// ensureApp launches the media receiver once and connects to its transport
func (c *Conn) ensureApp(ctx context.Context) (*application, error) {
	c.mu.Lock()
	app := c.app
	c.mu.Unlock()
	if app != nil {
		return app, nil
	}

	resp, err := c.request(ctx, nsReceiver, receiverID, &launchRequest{
		header: header{Type: typeLaunch},
		AppID:  c.opts.AppID,
	})
	if err != nil {
		return nil, err
	}
	if resp.Type != typeReceiverStatus {
		return nil, replyError(resp)
	}

	var status receiverStatus
	if err := json.Unmarshal(resp.Payload, &status); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequest, err)
	}

	for _, a := range status.Status.Applications {
		if a.AppID != c.opts.AppID {
			continue
		}
		if err := c.send(nsConnection, a.TransportID, &header{Type: typeConnect}); err != nil {
			return nil, err
		}

		launched := a
		c.mu.Lock()
		c.app = &launched
		c.mediaSessionID = 0
		c.mu.Unlock()

		c.logger.Debug("Media receiver ready", "session", a.SessionID, "transport", a.TransportID)
		return &launched, nil
	}
	return nil, ErrAppNotFound
}

// PlayMedia loads url into the media receiver with autoplay
func (c *Conn) PlayMedia(ctx context.Context, url, contentType string) error {
	app, err := c.ensureApp(ctx)
	if err != nil {
		return err
	}

	resp, err := c.request(ctx, nsMedia, app.TransportID, &loadRequest{
		header:    header{Type: typeLoad},
		SessionID: app.SessionID,
		Media: mediaInfo{
			ContentID:   url,
			ContentType: contentType,
			StreamType:  "BUFFERED",
		},
		Autoplay: true,
	})
	if err != nil {
		return err
	}
	if resp.Type != typeMediaStatus {
		return replyError(resp)
	}
	return nil
}

// Play resumes the current media
func (c *Conn) Play(ctx context.Context) error {
	return c.mediaCommand(ctx, typePlay)
}

// Pause pauses the current media
func (c *Conn) Pause(ctx context.Context) error {
	return c.mediaCommand(ctx, typePause)
}

// Stop stops the current media
func (c *Conn) Stop(ctx context.Context) error {
	return c.mediaCommand(ctx, typeStop)
}

func (c *Conn) mediaCommand(ctx context.Context, kind string) error {
	c.mu.Lock()
	app, mediaID := c.app, c.mediaSessionID
	c.mu.Unlock()
	if app == nil || mediaID == 0 {
		return ErrNoMedia
	}

	resp, err := c.request(ctx, nsMedia, app.TransportID, &mediaCommand{
		header:         header{Type: kind},
		MediaSessionID: mediaID,
	})
	if err != nil {
		return err
	}
	if resp.Type != typeMediaStatus {
		return replyError(resp)
	}
	return nil
}

// QueryStatus asks the media receiver for its player state. With no
// application running the player is idle.
func (c *Conn) QueryStatus(ctx context.Context) (cast.PlayerState, error) {
	c.mu.Lock()
	app := c.app
	c.mu.Unlock()

	select {
	case <-c.done:
		return cast.StateUnknown, ErrClosed
	default:
	}
	if app == nil {
		return cast.StateIdle, nil
	}

	resp, err := c.request(ctx, nsMedia, app.TransportID, &header{Type: typeGetStatus})
	if err != nil {
		return cast.StateUnknown, err
	}
	if resp.Type != typeMediaStatus {
		return cast.StateUnknown, replyError(resp)
	}

	var status mediaStatus
	if err := json.Unmarshal(resp.Payload, &status); err != nil {
		return cast.StateUnknown, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	if len(status.Status) == 0 {
		return cast.StateIdle, nil
	}
	return playerState(status.Status[0].PlayerState), nil
}

// CloseSession stops the media receiver application
func (c *Conn) CloseSession(ctx context.Context) error {
	c.mu.Lock()
	app := c.app
	c.app = nil
	c.mediaSessionID = 0
	c.mu.Unlock()
	if app == nil {
		return nil
	}

	c.send(nsConnection, app.TransportID, &header{Type: typeClose})

	resp, err := c.request(ctx, nsReceiver, receiverID, &stopRequest{
		header:    header{Type: typeStop},
		SessionID: app.SessionID,
	})
	if err != nil {
		return err
	}
	if resp.Type != typeReceiverStatus {
		return replyError(resp)
	}
	return nil
}

// replyError turns an error reply into an error carrying its reason
func replyError(resp response) error {
	var r struct {
		Reason string `json:"reason"`
	}
	json.Unmarshal(resp.Payload, &r)

	switch resp.Type {
	case typeLaunchError, typeLoadFailed, typeLoadCancelled, typeInvalidRequest:
		if r.Reason != "" {
			return fmt.Errorf("%w: %s: %s", ErrRequest, resp.Type, r.Reason)
		}
		return fmt.Errorf("%w: %s", ErrRequest, resp.Type)
	}
	return fmt.Errorf("%w: %w %s", ErrRequest, errUnknownReply, resp.Type)
}
