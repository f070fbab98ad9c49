package sandbox

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tuff-dev/tuff-sandbox/host"
)

// Provider implements a capability's business logic. Providers see only
// calls that passed the middleware chain.
type Provider interface {
	Handle(ctx context.Context, call *Call) (any, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context, call *Call) (any, error)

// Handle implements Provider.
func (f ProviderFunc) Handle(ctx context.Context, call *Call) (any, error) {
	return f(ctx, call)
}

// RegistryOption is a functional option for configuring a HandlerRegistry.
type RegistryOption func(*registryBuilder)

type registryBuilder struct {
	middleware []Middleware
	providers  map[string]Provider
}

// WithMiddleware appends middleware to the invocation chain.
func WithMiddleware(mws ...Middleware) RegistryOption {
	return func(b *registryBuilder) { b.middleware = append(b.middleware, mws...) }
}

// WithProvider registers p for capabilityID.
func WithProvider(capabilityID string, p Provider) RegistryOption {
	return func(b *registryBuilder) { b.providers[capabilityID] = p }
}

// HandlerRegistry routes capability calls to providers through a
// middleware chain.
type HandlerRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	chain     Handler
}

var _ host.Invoker = (*HandlerRegistry)(nil)

// NewHandlerRegistry creates a registry.
func NewHandlerRegistry(opts ...RegistryOption) *HandlerRegistry {
	b := &registryBuilder{providers: make(map[string]Provider)}
	for _, opt := range opts {
		opt(b)
	}
	r := &HandlerRegistry{providers: b.providers}
	r.chain = Chain(r.dispatch, b.middleware...)
	return r
}

// Register adds a provider. Each capability has at most one provider.
func (r *HandlerRegistry) Register(capabilityID string, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[capabilityID]; ok {
		return fmt.Errorf("provider for %s already registered", capabilityID)
	}
	r.providers[capabilityID] = p
	return nil
}

// Providers returns the capability ids with a provider, sorted.
func (r *HandlerRegistry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Invoke implements host.Invoker.
func (r *HandlerRegistry) Invoke(ctx context.Context, plugin, capabilityID string, payload any) (any, error) {
	return r.Dispatch(ctx, &Call{Plugin: plugin, Capability: capabilityID, Payload: payload})
}

// Dispatch runs call through the middleware chain.
func (r *HandlerRegistry) Dispatch(ctx context.Context, call *Call) (any, error) {
	return r.chain(ctx, call)
}

func (r *HandlerRegistry) dispatch(ctx context.Context, call *Call) (any, error) {
	r.mu.RLock()
	p, ok := r.providers[call.Capability]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, call.Capability)
	}
	return p.Handle(ctx, call)
}
