// ABOUTME: Cast V2 connection to a single receiver
// ABOUTME: TLS transport, request/response matching and heartbeat
package castv2

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultRequestTimeout    = 10 * time.Second

	// missedHeartbeats without any inbound frame marks the connection dead
	missedHeartbeats = 3
)

var (
	ErrClosed       = errors.New("cast connection closed")
	ErrRequest      = errors.New("cast request failed")
	ErrNoMedia      = errors.New("no media session")
	ErrAppNotFound  = errors.New("media receiver not running")
	errUnknownReply = errors.New("unexpected reply")
)

// Options configures a connection
type Options struct {
	// SenderID is the source id used on every message
	SenderID          string
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
	// AppID is launched before media is loaded
	AppID     string
	TLSConfig *tls.Config
	Logger    *log.Logger
}

func (o *Options) applyDefaults() {
	if o.SenderID == "" {
		o.SenderID = "sender-0"
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.AppID == "" {
		o.AppID = DefaultMediaReceiver
	}
	if o.TLSConfig == nil {
		// Receivers present device certificates that do not chain to a public root
		o.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// response is a decoded reply routed to a waiting request
type response struct {
	Type    string
	Payload []byte
}

// Conn is an open Cast V2 channel. It implements cast.Conn.
type Conn struct {
	nc     net.Conn
	opts   Options
	logger *log.Logger

	writeMu sync.Mutex
	nextID  atomic.Int64
	lastRx  atomic.Int64

	mu             sync.Mutex
	pending        map[int]chan response
	app            *application
	mediaSessionID int

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial opens a TLS connection to addr, connects to the platform receiver and
// waits for its first status reply
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	opts.applyDefaults()

	dialer := &tls.Dialer{Config: opts.TLSConfig}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	c := newConn(nc, opts)
	if err := c.send(nsConnection, receiverID, &header{Type: typeConnect}); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect to receiver: %w", err)
	}
	if err := c.awaitReceiver(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("receiver not ready: %w", err)
	}
	return c, nil
}

// awaitReceiver blocks until the platform receiver answers a status request
func (c *Conn) awaitReceiver(ctx context.Context) error {
	resp, err := c.request(ctx, nsReceiver, receiverID, &header{Type: typeGetStatus})
	if err != nil {
		return err
	}
	if resp.Type != typeReceiverStatus {
		return replyError(resp)
	}
	return nil
}

func newConn(nc net.Conn, opts Options) *Conn {
	opts.applyDefaults()

	c := &Conn{
		nc:      nc,
		opts:    opts,
		logger:  opts.Logger,
		pending: make(map[int]chan response),
		done:    make(chan struct{}),
	}
	c.lastRx.Store(time.Now().UnixNano())

	go c.readLoop()
	go c.heartbeat()
	return c
}

// Done is closed when the connection ends
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close sends CLOSE to the receiver and releases the transport
func (c *Conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}

	c.send(nsConnection, receiverID, &header{Type: typeClose})
	c.shutdown(ErrClosed)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		c.nc.Close()

		if !errors.Is(err, ErrClosed) {
			c.logger.Warn("Cast connection lost", "err", err)
		}
	})
}

// send writes one JSON payload
func (c *Conn) send(namespace, destination string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	msg := &message{
		SourceID:      c.opts.SenderID,
		DestinationID: destination,
		Namespace:     namespace,
		PayloadUTF8:   string(data),
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.nc.SetWriteDeadline(time.Now().Add(c.opts.RequestTimeout))
	if err := writeFrame(c.nc, msg); err != nil {
		c.shutdown(fmt.Errorf("write failed: %w", err))
		return err
	}
	return nil
}

// request sends payload with a fresh requestId and waits for the reply
func (c *Conn) request(ctx context.Context, namespace, destination string, payload requester) (response, error) {
	id := int(c.nextID.Add(1))
	payload.setRequestID(id)

	ch := make(chan response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(namespace, destination, payload); err != nil {
		return response{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return response{}, ErrClosed
	case <-ctx.Done():
		return response{}, fmt.Errorf("%w: %w", ErrRequest, ctx.Err())
	}
}

// readLoop reads frames and routes them
func (c *Conn) readLoop() {
	for {
		msg, err := readFrame(c.nc)
		if err != nil {
			c.shutdown(fmt.Errorf("read failed: %w", err))
			return
		}
		c.lastRx.Store(time.Now().UnixNano())

		if msg.Binary {
			continue
		}
		c.handle(msg)
	}
}

func (c *Conn) handle(msg *message) {
	var hdr header
	if err := json.Unmarshal([]byte(msg.PayloadUTF8), &hdr); err != nil {
		c.logger.Debug("Dropping undecodable payload", "namespace", msg.Namespace, "err", err)
		return
	}

	switch {
	case msg.Namespace == nsHeartbeat && hdr.Type == typePing:
		c.send(nsHeartbeat, msg.SourceID, &header{Type: typePong})
		return
	case msg.Namespace == nsHeartbeat:
		return
	case msg.Namespace == nsConnection && hdr.Type == typeClose:
		c.handleRemoteClose(msg.SourceID)
		return
	}

	if msg.Namespace == nsMedia && hdr.Type == typeMediaStatus {
		c.trackMedia([]byte(msg.PayloadUTF8))
	}

	if hdr.RequestID == 0 {
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[hdr.RequestID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- response{Type: hdr.Type, Payload: []byte(msg.PayloadUTF8)}:
	default:
	}
}

// handleRemoteClose handles the receiver dropping a virtual connection
func (c *Conn) handleRemoteClose(source string) {
	if source == receiverID {
		c.shutdown(errors.New("receiver closed the connection"))
		return
	}

	c.mu.Lock()
	if c.app != nil && c.app.TransportID == source {
		c.app = nil
		c.mediaSessionID = 0
	}
	c.mu.Unlock()
	c.logger.Debug("Application transport closed", "transport", source)
}

// trackMedia remembers the media session id from any status broadcast
func (c *Conn) trackMedia(payload []byte) {
	var status mediaStatus
	if err := json.Unmarshal(payload, &status); err != nil || len(status.Status) == 0 {
		return
	}
	c.mu.Lock()
	c.mediaSessionID = status.Status[0].MediaSessionID
	c.mu.Unlock()
}

// heartbeat pings the receiver and drops the connection when it goes quiet
func (c *Conn) heartbeat() {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	limit := time.Duration(missedHeartbeats) * c.opts.HeartbeatInterval
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		if quiet := time.Since(time.Unix(0, c.lastRx.Load())); quiet > limit {
			c.shutdown(fmt.Errorf("no heartbeat for %s", quiet.Round(time.Millisecond)))
			return
		}
		c.send(nsHeartbeat, receiverID, &header{Type: typePing})
	}
}
