package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/simlidar/internal/simlidar"
	"github.com/google/uuid"
)

// ErrOwnerRegistered is returned when an owner identity already has a live
// engine.
var ErrOwnerRegistered = errors.New("owner already has a live engine")

// OwnerRegistry tracks which owner identities have a live engine.
type OwnerRegistry struct {
	mu   sync.Mutex
	live map[uuid.UUID]struct{}
}

// DefaultRegistry is used by engines constructed without a registry.
var DefaultRegistry = NewOwnerRegistry()

// NewOwnerRegistry returns an empty registry.
func NewOwnerRegistry() *OwnerRegistry {
	return &OwnerRegistry{live: make(map[uuid.UUID]struct{})}
}

// Register claims id.
func (r *OwnerRegistry) Register(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[id]; ok {
		return fmt.Errorf("%w: %s", ErrOwnerRegistered, id)
	}
	r.live[id] = struct{}{}
	return nil
}

// Unregister releases id. Releasing an unknown id is a no-op.
func (r *OwnerRegistry) Unregister(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, id)
}

// Registered reports whether id has a live engine.
func (r *OwnerRegistry) Registered(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[id]
	return ok
}

// Len returns the number of live owners.
func (r *OwnerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Close waits for every outstanding stage to complete, then releases the
// per-ray buffers and unregisters the owner. Buffers are never freed while a
// job may still touch them. Calling Close again is a no-op.
func (e *Engine[T]) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return nil
	}

	if e.cast != nil {
		<-e.cast.Done()
	}
	if e.readback != nil {
		<-e.readback.Done()
	}
	inFlight := e.state != StateIdle

	e.commands, e.hits, e.points, e.readings = nil, nil, nil, nil
	e.cast, e.readback, e.counters = nil, nil, nil
	e.last = Cycle[T]{}
	e.state = StateClosed

	e.registry.Unregister(e.owner)
	if e.ownPool {
		e.pool.Close()
	}
	simlidar.Opsf("engine %s closed after %d cycles (%d failed, cycle in flight dropped: %t)",
		e.owner, e.stats.Cycles, e.stats.Failed, inFlight)
	return nil
}
