package capability

import (
	"errors"
	"sync"
)

// ErrUnknownCapability is returned when a capability id is not registered.
var ErrUnknownCapability = errors.New("unknown capability")

// Query filters List results. Zero fields match everything.
type Query struct {
	Scope  Scope
	Status Status
}

func (q Query) matches(c Capability) bool {
	if q.Scope != "" && c.Scope != q.Scope {
		return false
	}
	if q.Status != "" && c.Status != q.Status {
		return false
	}
	return true
}

// Registry is the process-wide catalog of host capabilities. Construct one
// per host and inject it into consumers; tests build fresh instances.
type Registry struct {
	entries      []Capability
	index        map[string]int
	mu           sync.RWMutex
	defaultsOnce sync.Once
}

// NewRegistry creates a new, empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// Register upserts a capability by id. The last registration for an id
// wins; the entry keeps the position of its first registration.
func (r *Registry) Register(c Capability) error {
	if err := c.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[c.ID]; ok {
		r.entries[i] = c
		return nil
	}
	r.index[c.ID] = len(r.entries)
	r.entries = append(r.entries, c)
	return nil
}

// Get retrieves a capability by id.
func (r *Registry) Get(id string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return Capability{}, false
	}
	return r.entries[i], true
}

// List returns the capabilities matching q in insertion order.
func (r *Registry) List(q Query) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.entries))
	for _, c := range r.entries {
		if q.matches(c) {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
