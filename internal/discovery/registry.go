// ABOUTME: Receiver registry holding the latest discovery snapshot
// ABOUTME: Single writer publishes whole sweeps, readers never see partial views
package discovery

import (
	"errors"
	"maps"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/cast-relay/internal/cast"
)

// ErrNotFound is returned by Lookup for unknown receiver IDs
var ErrNotFound = errors.New("receiver not found")

type snapshot struct {
	receivers map[string]cast.Receiver
	updatedAt time.Time
}

// Registry holds the receivers found by the most recent successful sweep
type Registry struct {
	current atomic.Pointer[snapshot]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&snapshot{receivers: map[string]cast.Receiver{}})
	return r
}

// Publish replaces the visible snapshot. Keys are normalised; the registry keeps
// its own copy so later changes to receivers do not leak in.
func (r *Registry) Publish(receivers map[string]cast.Receiver) {
	next := make(map[string]cast.Receiver, len(receivers))
	for _, rc := range receivers {
		rc.ID = cast.NormalizeID(rc.ID)
		next[rc.ID] = rc
	}
	r.current.Store(&snapshot{receivers: next, updatedAt: time.Now()})
}

// Snapshot returns a copy of the current view
func (r *Registry) Snapshot() map[string]cast.Receiver {
	return maps.Clone(r.current.Load().receivers)
}

// List returns the current view sorted by display name
func (r *Registry) List() []cast.Receiver {
	snap := r.current.Load()
	list := make([]cast.Receiver, 0, len(snap.receivers))
	for _, rc := range snap.receivers {
		list = append(list, rc)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].DisplayName != list[j].DisplayName {
			return list[i].DisplayName < list[j].DisplayName
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Lookup resolves a receiver by ID
func (r *Registry) Lookup(id string) (cast.Receiver, error) {
	rc, ok := r.current.Load().receivers[cast.NormalizeID(id)]
	if !ok {
		return cast.Receiver{}, ErrNotFound
	}
	return rc, nil
}

// Len returns the number of receivers in the current view
func (r *Registry) Len() int {
	return len(r.current.Load().receivers)
}

// UpdatedAt returns when the current view was published (zero before the first sweep)
func (r *Registry) UpdatedAt() time.Time {
	return r.current.Load().updatedAt
}
