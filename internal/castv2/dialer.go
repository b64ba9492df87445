// ABOUTME: cast.Dialer backed by Cast V2 connections
// ABOUTME: Gives every dialed connection the same sender identity
package castv2

import (
	"context"
	"net"
	"strconv"

	"github.com/Resonate-Protocol/cast-relay/internal/cast"
	"github.com/google/uuid"
)

var (
	_ cast.Conn   = (*Conn)(nil)
	_ cast.Dialer = (*Dialer)(nil)
)

// Dialer opens Cast V2 connections to discovered receivers
type Dialer struct {
	opts Options
}

// NewDialer creates a dialer; an empty SenderID gets a random one
func NewDialer(opts Options) *Dialer {
	if opts.SenderID == "" {
		opts.SenderID = "sender-" + uuid.NewString()[:8]
	}
	opts.applyDefaults()
	return &Dialer{opts: opts}
}

// SenderID returns the source id used on the wire
func (d *Dialer) SenderID() string {
	return d.opts.SenderID
}

// Dial connects to r
func (d *Dialer) Dial(ctx context.Context, r cast.Receiver) (cast.Conn, error) {
	port := r.Port
	if port == 0 {
		port = cast.DefaultPort
	}

	d.opts.Logger.Debug("Dialing receiver", "name", r.DisplayName, "host", r.Host, "port", port)
	conn, err := Dial(ctx, net.JoinHostPort(r.Host, strconv.Itoa(port)), d.opts)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
