// Package loader controls which modules a plugin's require can reach. Each
// plugin gets a Loader that resolves through the host registry, except for
// sensitive ids, which resolve to per-plugin instrumented modules.
package loader

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// ErrModuleNotFound is returned for ids neither registered nor sensitive.
var ErrModuleNotFound = errors.New("module not found")

// Module is a host-provided Lua module.
type Module interface {
	Name() string
	// Open builds the module value inside L. It is called at most once per
	// state, on the first require.
	Open(L *lua.LState) lua.LValue
}

// Func adapts a function to Module.
type Func struct {
	ID     string
	OpenFn func(L *lua.LState) lua.LValue
}

func (f Func) Name() string                   { return f.ID }
func (f Func) Open(L *lua.LState) lua.LValue { return f.OpenFn(L) }

// Registry is the host's module table.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates a registry holding mods.
func NewRegistry(mods ...Module) (*Registry, error) {
	r := &Registry{modules: make(map[string]Module)}
	for _, m := range mods {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds m under m.Name(). Ids are unique.
func (r *Registry) Register(m Module) error {
	id := m.Name()
	if id == "" {
		return errors.New("module name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modules[id]; ok {
		return fmt.Errorf("module already registered: %s", id)
	}
	r.modules[id] = m
	return nil
}

// Lookup returns the module registered as id.
func (r *Registry) Lookup(id string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	return m, ok
}

// Resolve returns the canonical id of id.
func (r *Registry) Resolve(id string) (string, error) {
	if _, ok := r.Lookup(id); !ok {
		return "", fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	return id, nil
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Modules returns a snapshot of the module table.
func (r *Registry) Modules() map[string]Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Module, len(r.modules))
	for id, m := range r.modules {
		out[id] = m
	}
	return out
}
