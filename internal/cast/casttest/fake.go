// ABOUTME: In-memory receiver connection for tests
// ABOUTME: Records commands and reports scripted player states
package casttest

import (
	"context"
	"errors"
	"sync"

	"github.com/Resonate-Protocol/cast-relay/internal/cast"
)

// Call is one command received by a Conn
type Call struct {
	Method      string
	URL         string
	ContentType string
}

// Conn is a fake cast.Conn. The zero value is not usable; use NewConn.
type Conn struct {
	mu sync.Mutex

	// State is reported by QueryStatus
	State cast.PlayerState
	// StateAfterLoad replaces State once PlayMedia succeeds
	StateAfterLoad cast.PlayerState
	// Err, when set, is returned by every command
	Err error
	// StatusErr, when set, is returned by QueryStatus
	StatusErr error

	calls     []Call
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn creates a fake connection that becomes PLAYING after PlayMedia
func NewConn() *Conn {
	return &Conn{
		State:          cast.StateIdle,
		StateAfterLoad: cast.StatePlaying,
		done:           make(chan struct{}),
	}
}

func (c *Conn) record(call Call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return c.Err
}

// PlayMedia records the load and moves to StateAfterLoad
func (c *Conn) PlayMedia(_ context.Context, url, contentType string) error {
	if err := c.record(Call{Method: "PlayMedia", URL: url, ContentType: contentType}); err != nil {
		return err
	}
	c.mu.Lock()
	c.State = c.StateAfterLoad
	c.mu.Unlock()
	return nil
}

func (c *Conn) Play(context.Context) error {
	if err := c.record(Call{Method: "Play"}); err != nil {
		return err
	}
	c.SetState(cast.StatePlaying)
	return nil
}

func (c *Conn) Pause(context.Context) error {
	if err := c.record(Call{Method: "Pause"}); err != nil {
		return err
	}
	c.SetState(cast.StatePaused)
	return nil
}

func (c *Conn) Stop(context.Context) error {
	if err := c.record(Call{Method: "Stop"}); err != nil {
		return err
	}
	c.SetState(cast.StateIdle)
	return nil
}

func (c *Conn) QueryStatus(context.Context) (cast.PlayerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StatusErr != nil {
		return cast.StateUnknown, c.StatusErr
	}
	return c.State, nil
}

func (c *Conn) CloseSession(context.Context) error {
	return c.record(Call{Method: "CloseSession"})
}

// Close closes Done; it is safe to call more than once
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.record(Call{Method: "Close"})
		close(c.done)
	})
	return nil
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Fail simulates a transport failure
func (c *Conn) Fail() {
	c.closeOnce.Do(func() { close(c.done) })
}

// SetState changes the reported player state
func (c *Conn) SetState(s cast.PlayerState) {
	c.mu.Lock()
	c.State = s
	c.mu.Unlock()
}

// SetStatusErr changes the error returned by QueryStatus
func (c *Conn) SetStatusErr(err error) {
	c.mu.Lock()
	c.StatusErr = err
	c.mu.Unlock()
}

// Calls returns the recorded commands
func (c *Conn) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Methods returns the names of the recorded commands
func (c *Conn) Methods() []string {
	calls := c.Calls()
	names := make([]string, len(calls))
	for i, call := range calls {
		names[i] = call.Method
	}
	return names
}

// ErrRefused is returned by a Dialer configured to fail
var ErrRefused = errors.New("connection refused")

// Dialer hands out fake connections
type Dialer struct {
	mu    sync.Mutex
	Fail  bool
	conns []*Conn
	dials []cast.Receiver

	// NewConn builds connections; defaults to NewConn
	NewConn func() *Conn
	// Gate, when set, blocks each Dial until it receives a value
	Gate chan struct{}
}

func (d *Dialer) Dial(ctx context.Context, r cast.Receiver) (cast.Conn, error) {
	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials = append(d.dials, r)
	if d.Fail {
		return nil, ErrRefused
	}

	newConn := d.NewConn
	if newConn == nil {
		newConn = NewConn
	}
	conn := newConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

// Conns returns every connection handed out so far
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Dials returns the receivers dialed so far
func (d *Dialer) Dials() []cast.Receiver {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]cast.Receiver(nil), d.dials...)
}
