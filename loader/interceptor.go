package loader

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds the instrumented variant of a sensitive module for one
// plugin. l is the loader of that plugin.
type Factory func(plugin string, l *Loader) Module

// Interceptor hands out per-plugin loaders and owns the per-plugin cache of
// instrumented modules.
type Interceptor struct {
	base      *Registry
	sensitive map[string]Factory

	mu    sync.Mutex
	cache map[string]map[string]Module
}

// InterceptorOption configures an Interceptor.
type InterceptorOption func(*Interceptor)

// WithSensitive instruments id with f.
func WithSensitive(id string, f Factory) InterceptorOption {
	return func(i *Interceptor) { i.sensitive[id] = f }
}

// NewInterceptor wraps base.
func NewInterceptor(base *Registry, opts ...InterceptorOption) *Interceptor {
	i := &Interceptor{
		base:      base,
		sensitive: make(map[string]Factory),
		cache:     make(map[string]map[string]Module),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Sensitive returns the instrumented ids, sorted.
func (i *Interceptor) Sensitive() []string {
	ids := make([]string, 0, len(i.sensitive))
	for id := range i.sensitive {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithMain records the plugin's entry path.
func WithMain(path string) LoaderOption {
	return func(l *Loader) { l.main = path }
}

// CreateLoaderFor returns a loader scoped to pluginName. Loaders of the
// same plugin share instrumented modules.
func (i *Interceptor) CreateLoaderFor(pluginName string, opts ...LoaderOption) *Loader {
	l := &Loader{plugin: pluginName, interceptor: i}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Forget drops pluginName's instrumented modules. Loaders created before
// keep working but build fresh instances.
func (i *Interceptor) Forget(pluginName string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.cache, pluginName)
}

// instrumented returns the cached instrumented module, building it once.
func (i *Interceptor) instrumented(l *Loader, id string, f Factory) Module {
	i.mu.Lock()
	if m, ok := i.cache[l.plugin][id]; ok {
		i.mu.Unlock()
		return m
	}
	i.mu.Unlock()

	// Built outside the lock: factories may call back into the loader.
	m := f(l.plugin, l)

	i.mu.Lock()
	defer i.mu.Unlock()
	mods, ok := i.cache[l.plugin]
	if !ok {
		mods = make(map[string]Module)
		i.cache[l.plugin] = mods
	}
	if existing, ok := mods[id]; ok {
		return existing
	}
	mods[id] = m
	return m
}

// Loader is one plugin's view of the module table.
type Loader struct {
	plugin      string
	main        string
	interceptor *Interceptor
}

// Plugin returns the plugin this loader belongs to.
func (l *Loader) Plugin() string { return l.plugin }

// Require returns the module for id: the plugin's instrumented instance
// for sensitive ids, the host module otherwise.
func (l *Loader) Require(id string) (Module, error) {
	if f, ok := l.interceptor.sensitive[id]; ok {
		return l.interceptor.instrumented(l, id, f), nil
	}
	if m, ok := l.interceptor.base.Lookup(id); ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
}

// Resolve returns the canonical id. Sensitive ids resolve to themselves.
func (l *Loader) Resolve(id string) (string, error) {
	if _, ok := l.interceptor.sensitive[id]; ok {
		return id, nil
	}
	return l.interceptor.base.Resolve(id)
}

// Cache returns the host module table as plugins see it without
// instrumentation.
func (l *Loader) Cache() map[string]Module {
	return l.interceptor.base.Modules()
}

// Main returns the plugin's entry path.
func (l *Loader) Main() string { return l.main }

// IDs returns every id this loader can satisfy, sorted.
func (l *Loader) IDs() []string {
	seen := make(map[string]bool)
	for _, id := range l.interceptor.base.IDs() {
		seen[id] = true
	}
	for id := range l.interceptor.sensitive {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
