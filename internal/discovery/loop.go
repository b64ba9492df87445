// ABOUTME: Background discovery loop feeding the receiver registry
// ABOUTME: Sweeps, publishes whole snapshots and sleeps; one bad sweep never stops it
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/cast-relay/internal/cast"
	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
)

const (
	DefaultSweepTimeout  = 5 * time.Second
	DefaultInterval      = 10 * time.Second
	DefaultRetryInterval = 5 * time.Second
)

// ErrSweepFailed wraps any failure of a single sweep
var ErrSweepFailed = errors.New("discovery sweep failed")

// Sweeper performs one discovery attempt
type Sweeper interface {
	Sweep(ctx context.Context, timeout time.Duration) ([]cast.Receiver, error)
}

// SweeperFunc adapts a function to the Sweeper interface
type SweeperFunc func(ctx context.Context, timeout time.Duration) ([]cast.Receiver, error)

// Sweep calls f
func (f SweeperFunc) Sweep(ctx context.Context, timeout time.Duration) ([]cast.Receiver, error) {
	return f(ctx, timeout)
}

// LoopConfig holds discovery loop configuration
type LoopConfig struct {
	Sweeper       Sweeper
	Registry      *Registry
	Timeout       time.Duration
	Interval      time.Duration // sleep after a successful sweep
	RetryInterval time.Duration // sleep after a failed sweep
	Clock         clock.Clock
	Logger        *log.Logger
}

// Stats counts sweeps since the loop started
type Stats struct {
	Succeeded int
	Failed    int
	LastError string
	LastSweep time.Time
}

// Loop is the single writer of a Registry
type Loop struct {
	config  LoopConfig
	trigger chan struct{}

	mu    sync.RWMutex
	stats Stats

	// sleepHook is called once the next sleep has been scheduled
	sleepHook func(time.Duration)
}

// NewLoop creates a discovery loop, applying defaults for unset fields
func NewLoop(config LoopConfig) *Loop {
	if config.Timeout <= 0 {
		config.Timeout = DefaultSweepTimeout
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.Registry == nil {
		config.Registry = NewRegistry()
	}

	return &Loop{
		config:  config,
		trigger: make(chan struct{}, 1),
	}
}

// Registry returns the registry this loop publishes to
func (l *Loop) Registry() *Registry {
	return l.config.Registry
}

// Run sweeps until ctx is cancelled
func (l *Loop) Run(ctx context.Context) error {
	l.config.Logger.Info("Starting receiver discovery",
		"interval", l.config.Interval, "timeout", l.config.Timeout)

	for {
		wait := l.config.Interval
		if err := l.SweepOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.config.Logger.Warn("Discovery error", "err", err)
			wait = l.config.RetryInterval
		}

		timer := l.config.Clock.Timer(wait)
		if l.sleepHook != nil {
			l.sleepHook(wait)
		}

		select {
		case <-ctx.Done():
			timer.Stop()
			l.config.Logger.Info("Receiver discovery stopped")
			return nil
		case <-l.trigger:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// SweepOnce performs a single sweep and publishes the result on success. The
// registry is left untouched when the sweep fails.
func (l *Loop) SweepOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrSweepFailed, r)
		}
		l.record(err)
	}()

	found, err := l.config.Sweeper.Sweep(ctx, l.config.Timeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSweepFailed, err)
	}

	next := make(map[string]cast.Receiver, len(found))
	for _, rc := range found {
		id := cast.NormalizeID(rc.ID)
		if id == "" {
			continue
		}
		if _, dup := next[id]; dup {
			continue
		}
		rc.ID = id
		next[id] = rc
	}

	l.config.Registry.Publish(next)
	l.config.Logger.Debug("Published receivers", "count", len(next))
	return nil
}

// Trigger requests an immediate sweep. Extra requests while one is pending are dropped.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Stats returns sweep counters
func (l *Loop) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

func (l *Loop) record(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.LastSweep = l.config.Clock.Now()
	if err != nil {
		l.stats.Failed++
		l.stats.LastError = err.Error()
		return
	}
	l.stats.Succeeded++
	l.stats.LastError = ""
}
