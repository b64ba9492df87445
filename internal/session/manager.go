// ABOUTME: Session manager owning the single active receiver connection
// ABOUTME: Serializes connect/disconnect transitions and reports advisory status
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/cast-relay/internal/cast"
	"github.com/charmbracelet/log"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultCloseTimeout   = 5 * time.Second
	DefaultStatusTimeout  = 3 * time.Second
)

var (
	ErrDeviceNotFound     = errors.New("device not found")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrNoActiveConnection = errors.New("no device connected")
)

// State is the session lifecycle state
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Lookuper resolves receiver IDs to descriptors
type Lookuper interface {
	Lookup(id string) (cast.Receiver, error)
}

// Config holds session manager configuration
type Config struct {
	Receivers      Lookuper
	Dialer         cast.Dialer
	ConnectTimeout time.Duration
	CloseTimeout   time.Duration
	StatusTimeout  time.Duration
	Logger         *log.Logger
}

// Status is a point-in-time view of the session
type Status struct {
	Connected   bool             `json:"connected"`
	DeviceName  string           `json:"device,omitempty"`
	DeviceID    string           `json:"uuid,omitempty"`
	PlayerState cast.PlayerState `json:"state,omitempty"`
}

// Manager owns at most one receiver connection
type Manager struct {
	config Config

	// opMu serializes transitions; it is held for the whole of connect and disconnect
	opMu sync.Mutex

	mu       sync.RWMutex
	state    State
	conn     cast.Conn
	receiver cast.Receiver

	listenersMu sync.Mutex
	listeners   map[int]func(State)
	nextID      int
}

// New creates a session manager
func New(config Config) *Manager {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = DefaultCloseTimeout
	}
	if config.StatusTimeout <= 0 {
		config.StatusTimeout = DefaultStatusTimeout
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	return &Manager{
		config:    config,
		listeners: make(map[int]func(State)),
	}
}

// Connect makes id the current receiver. An unknown id leaves any existing
// session untouched; otherwise the previous connection is closed first.
func (m *Manager) Connect(ctx context.Context, id string) (cast.Receiver, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	rc, err := m.config.Receivers.Lookup(id)
	if err != nil {
		return cast.Receiver{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	if old, oldRc := m.take(Connecting); old != nil {
		m.config.Logger.Info("Replacing session", "from", oldRc.DisplayName, "to", rc.DisplayName)
		m.closeConn(old)
	} else {
		m.notify(Connecting)
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()

	m.config.Logger.Info("Connecting", "device", rc.DisplayName, "host", rc.Host, "port", rc.Port)
	conn, err := m.config.Dialer.Dial(ctx, rc)
	if err != nil {
		m.setState(Disconnected)
		return cast.Receiver{}, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, rc.DisplayName, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.receiver = rc
	m.state = Connected
	m.mu.Unlock()

	go m.watch(conn)

	m.config.Logger.Info("Connected", "device", rc.DisplayName)
	m.notify(Connected)
	return rc, nil
}

// Disconnect stops the receiver application and releases the connection. It is
// best-effort and idempotent.
func (m *Manager) Disconnect(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	conn, rc := m.take(Disconnected)
	if conn == nil {
		return
	}

	m.config.Logger.Info("Disconnecting", "device", rc.DisplayName)
	m.closeConnContext(ctx, conn)
}

// Status queries the active connection. Query errors are reported as not
// connected rather than returned.
func (m *Manager) Status(ctx context.Context) Status {
	conn, rc, ok := m.Current()
	if !ok {
		return Status{Connected: false}
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.StatusTimeout)
	defer cancel()

	state, err := conn.QueryStatus(ctx)
	if err != nil {
		m.config.Logger.Debug("Status query failed", "device", rc.DisplayName, "err", err)
		return Status{Connected: false}
	}

	return Status{
		Connected:   true,
		DeviceName:  rc.DisplayName,
		DeviceID:    rc.ID,
		PlayerState: state.Reported(),
	}
}

// Current returns the active connection, if any
func (m *Manager) Current() (cast.Conn, cast.Receiver, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != Connected || m.conn == nil {
		return nil, cast.Receiver{}, false
	}
	return m.conn, m.receiver, true
}

// State returns the lifecycle state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnChange registers fn for state transitions. The returned func unregisters it.
func (m *Manager) OnChange(fn func(State)) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		delete(m.listeners, id)
	}
}

// take detaches the current connection and moves to next
func (m *Manager) take(next State) (cast.Conn, cast.Receiver) {
	m.mu.Lock()
	conn, rc := m.conn, m.receiver
	changed := m.state != next
	m.conn = nil
	m.receiver = cast.Receiver{}
	m.state = next
	m.mu.Unlock()

	if conn != nil && changed {
		m.notify(next)
	}
	return conn, rc
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.notify(s)
}

// watch drops the session when its transport dies
func (m *Manager) watch(conn cast.Conn) {
	<-conn.Done()

	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	rc := m.receiver
	m.conn = nil
	m.receiver = cast.Receiver{}
	m.state = Disconnected
	m.mu.Unlock()

	m.config.Logger.Warn("Connection lost", "device", rc.DisplayName)
	_ = conn.Close()
	m.notify(Disconnected)
}

func (m *Manager) closeConn(conn cast.Conn) {
	m.closeConnContext(context.Background(), conn)
}

func (m *Manager) closeConnContext(ctx context.Context, conn cast.Conn) {
	ctx, cancel := context.WithTimeout(ctx, m.config.CloseTimeout)
	defer cancel()

	if err := conn.CloseSession(ctx); err != nil {
		m.config.Logger.Debug("Ignoring session close error", "err", err)
	}
	if err := conn.Close(); err != nil {
		m.config.Logger.Debug("Ignoring connection close error", "err", err)
	}
}

func (m *Manager) notify(s State) {
	m.listenersMu.Lock()
	fns := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
