// ABOUTME: Shared receiver types for cast-relay
// ABOUTME: Receiver descriptors, player states and the connection contract
package cast

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// DefaultPort is the Cast V2 control port
const DefaultPort = 8009

// Receiver describes a discovered playback device. Values are immutable once
// produced by a discovery sweep.
type Receiver struct {
	ID          string `json:"uuid"`
	DisplayName string `json:"name"`
	ModelName   string `json:"model"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
}

// NormalizeID returns the canonical form of a receiver identifier. Cast devices
// advertise their UUID as 32 hex digits; callers usually send the dashed form.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return strings.ToLower(id)
}

// PlayerState is the media player state reported by a receiver
type PlayerState string

const (
	StatePlaying   PlayerState = "PLAYING"
	StatePaused    PlayerState = "PAUSED"
	StateIdle      PlayerState = "IDLE"
	StateBuffering PlayerState = "BUFFERING"
	StateUnknown   PlayerState = "UNKNOWN"
)

// Active reports whether the receiver has accepted media and is working on it
func (s PlayerState) Active() bool {
	switch s {
	case StatePlaying, StateBuffering, StatePaused:
		return true
	}
	return false
}

// Reported collapses the receiver state to the values exposed by status calls
func (s PlayerState) Reported() PlayerState {
	switch s {
	case StatePlaying, StatePaused, StateIdle:
		return s
	}
	return StateUnknown
}

// Conn is an established connection to one receiver
type Conn interface {
	// PlayMedia asks the receiver to fetch and play url
	PlayMedia(ctx context.Context, url, contentType string) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	QueryStatus(ctx context.Context) (PlayerState, error)
	// CloseSession stops the application running on the receiver
	CloseSession(ctx context.Context) error
	// Close releases the transport
	Close() error
	// Done is closed when the transport fails or is closed
	Done() <-chan struct{}
}

// Dialer opens connections to receivers
type Dialer interface {
	Dial(ctx context.Context, r Receiver) (Conn, error)
}
