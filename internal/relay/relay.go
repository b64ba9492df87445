// ABOUTME: Relays uploaded audio to the active receiver
// ABOUTME: Stages the payload, builds a LAN URL for it and starts playback
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"

	"github.com/Resonate-Protocol/cast-relay/internal/cast"
	"github.com/Resonate-Protocol/cast-relay/internal/session"
	"github.com/charmbracelet/log"
)

// ServePath is the route prefix staged audio is fetched from
const ServePath = "/serve_cast_audio/"

// Player starts playback of a URL on the active receiver
type Player interface {
	Play(ctx context.Context, url, contentType string) error
}

// Sessions reports the active connection
type Sessions interface {
	Current() (cast.Conn, cast.Receiver, bool)
}

// HostResolver returns an address receivers can reach
type HostResolver interface {
	Host() (string, error)
}

// Config holds relay configuration
type Config struct {
	Store    *Store
	Player   Player
	Sessions Sessions
	Resolver HostResolver
	Port     int
	Logger   *log.Logger
}

// Result describes a started cast
type Result struct {
	Staged Staged
	URL    string
}

// Relay ties the store to playback
type Relay struct {
	config Config

	mu      sync.Mutex
	current string
}

// New creates a relay
func New(config Config) *Relay {
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	return &Relay{config: config}
}

// Store returns the backing store
func (r *Relay) Store() *Store {
	return r.config.Store
}

// URL returns the address a receiver fetches name from
func (r *Relay) URL(name string) (string, error) {
	host, err := r.config.Resolver.Host()
	if err != nil {
		return "", err
	}
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(host, strconv.Itoa(r.config.Port)),
		Path:   ServePath + url.PathEscape(name),
	}
	return u.String(), nil
}

// Cast stages payload and plays it on the active receiver. Nothing is written
// when no receiver is connected, and nothing is kept when the receiver goes
// away before playback starts. A staged resource is kept when playback fails
// so the receiver can still fetch it.
func (r *Relay) Cast(ctx context.Context, payload io.Reader, contentType string) (Result, error) {
	if _, _, ok := r.config.Sessions.Current(); !ok {
		return Result{}, session.ErrNoActiveConnection
	}

	// Resolve first so a host without a LAN address leaves no file behind
	if _, err := r.config.Resolver.Host(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	staged, err := r.config.Store.Stage(payload, contentType)
	if err != nil {
		return Result{}, err
	}

	target, err := r.URL(staged.Name)
	if err != nil {
		r.config.Store.Release(staged.Name)
		return Result{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	res := Result{Staged: staged, URL: target}
	if err := r.config.Player.Play(ctx, target, contentType); err != nil {
		// The session can drop between the check above and Play
		if errors.Is(err, session.ErrNoActiveConnection) {
			r.config.Store.Release(staged.Name)
			return Result{}, err
		}
		r.config.Logger.Warn("Playback did not start", "name", staged.Name, "err", err)
		return res, err
	}

	r.supersede(staged.Name)
	r.config.Logger.Info("Casting staged audio", "name", staged.Name, "url", target)
	return res, nil
}

// CastURL plays an already reachable URL
func (r *Relay) CastURL(ctx context.Context, target, contentType string) error {
	if _, _, ok := r.config.Sessions.Current(); !ok {
		return session.ErrNoActiveConnection
	}
	if err := r.config.Player.Play(ctx, target, contentType); err != nil {
		return err
	}
	r.supersede("")
	return nil
}

// Current returns the name of the resource last played successfully
func (r *Relay) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// supersede pins the new cast and releases the previous one
func (r *Relay) supersede(name string) {
	r.mu.Lock()
	prev := r.current
	r.current = name
	r.mu.Unlock()

	r.config.Store.Pin(name)
	if prev != "" && prev != name {
		r.config.Store.Release(prev)
	}
}
