// ABOUTME: Playback controller delegating transport commands to the active session
// ABOUTME: Play waits until the receiver reports active playback or times out
package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/cast-relay/internal/cast"
	"github.com/Resonate-Protocol/cast-relay/internal/session"
	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
)

const (
	DefaultPlayTimeout  = 15 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
)

var (
	ErrPlaybackFailed = errors.New("playback failed")
	ErrInvalidAction  = errors.New("invalid action")
	ErrCommandFailed  = errors.New("command failed")
)

// Sessions exposes the active connection
type Sessions interface {
	Current() (cast.Conn, cast.Receiver, bool)
}

// Config holds controller configuration
type Config struct {
	Sessions     Sessions
	PlayTimeout  time.Duration
	PollInterval time.Duration
	Clock        clock.Clock
	Logger       *log.Logger
}

// Controller issues transport commands through the current session
type Controller struct {
	config Config
}

// New creates a playback controller
func New(config Config) *Controller {
	if config.PlayTimeout <= 0 {
		config.PlayTimeout = DefaultPlayTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	return &Controller{config: config}
}

func (c *Controller) current() (cast.Conn, cast.Receiver, error) {
	conn, rc, ok := c.config.Sessions.Current()
	if !ok {
		return nil, cast.Receiver{}, session.ErrNoActiveConnection
	}
	return conn, rc, nil
}

// Play loads url on the receiver and blocks until playback is active
func (c *Controller) Play(ctx context.Context, url, contentType string) error {
	conn, rc, err := c.current()
	if err != nil {
		return err
	}

	c.config.Logger.Info("Loading media", "device", rc.DisplayName, "url", url, "type", contentType)
	if err := conn.PlayMedia(ctx, url, contentType); err != nil {
		return fmt.Errorf("%w: load rejected: %w", ErrPlaybackFailed, err)
	}

	return c.waitActive(ctx, conn)
}

// waitActive polls the receiver until it reports an active player state
func (c *Controller) waitActive(ctx context.Context, conn cast.Conn) error {
	timeout := c.config.Clock.Timer(c.config.PlayTimeout)
	defer timeout.Stop()
	ticker := c.config.Clock.Ticker(c.config.PollInterval)
	defer ticker.Stop()

	last := cast.StateUnknown
	for {
		state, err := conn.QueryStatus(ctx)
		if err != nil {
			c.config.Logger.Debug("Status poll failed", "err", err)
		} else if state.Active() {
			c.config.Logger.Debug("Playback active", "state", state)
			return nil
		} else {
			last = state
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrPlaybackFailed, ctx.Err())
		case <-conn.Done():
			return fmt.Errorf("%w: connection closed", ErrPlaybackFailed)
		case <-timeout.C:
			return fmt.Errorf("%w: receiver still %s after %s", ErrPlaybackFailed, last, c.config.PlayTimeout)
		case <-ticker.C:
		}
	}
}

// Pause pauses the current media
func (c *Controller) Pause(ctx context.Context) error {
	return c.command(ctx, "pause", cast.Conn.Pause)
}

// Resume resumes paused media
func (c *Controller) Resume(ctx context.Context) error {
	return c.command(ctx, "play", cast.Conn.Play)
}

// Stop stops the current media
func (c *Controller) Stop(ctx context.Context) error {
	return c.command(ctx, "stop", cast.Conn.Stop)
}

// command runs fn on the active connection. Transport failures are wrapped in
// ErrCommandFailed.
func (c *Controller) command(ctx context.Context, name string, fn func(cast.Conn, context.Context) error) error {
	conn, rc, err := c.current()
	if err != nil {
		return err
	}
	if err := fn(conn, ctx); err != nil {
		c.config.Logger.Warn("Command failed", "device", rc.DisplayName, "action", name, "err", err)
		return fmt.Errorf("%w: %s: %w", ErrCommandFailed, name, err)
	}
	return nil
}

// Control runs a named transport action: play, pause or stop
func (c *Controller) Control(ctx context.Context, action string) error {
	switch action {
	case "play":
		return c.Resume(ctx)
	case "pause":
		return c.Pause(ctx)
	case "stop":
		return c.Stop(ctx)
	}

	if _, _, err := c.current(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %q", ErrInvalidAction, action)
}
