package memtrack

import (
	"sync"
	"sync/atomic"
)

// eventRegistry holds the ordered sequence of declared event names.
// Index 0 is the implicit empty event active before any declaration.
// The name slice is append-only; the current id only ever advances.
type eventRegistry struct {
	mu      sync.RWMutex
	names   []string
	current atomic.Uint64
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{names: []string{""}}
}

// declare appends name and makes it the active event. Returns the new id.
func (r *eventRegistry) declare(name string) uint64 {
	r.mu.Lock()
	r.names = append(r.names, name)
	id := uint64(len(r.names) - 1)
	r.mu.Unlock()

	r.current.Store(id)
	return id
}

func (r *eventRegistry) currentID() uint64 {
	return r.current.Load()
}

func (r *eventRegistry) name(id uint64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id >= uint64(len(r.names)) {
		return ""
	}
	return r.names[id]
}

// declared returns the number of user-declared events.
func (r *eventRegistry) declared() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names) - 1
}
