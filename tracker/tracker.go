// Package tracker accounts for runtime handles (workers and anything else
// with an exit signal) per plugin, so the host can count them and reclaim
// them when a plugin is unloaded.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// ErrHandleOwned is returned when a handle id is already tracked for a
// different plugin.
var ErrHandleOwned = errors.New("handle already tracked for another plugin")

// Handle is a trackable runtime resource.
type Handle interface {
	ID() string
	// Done is closed once the handle has exited.
	Done() <-chan struct{}
	// OnExit registers fn to run once on exit, or immediately if the
	// handle has already exited.
	OnExit(fn func())
	// Terminate asks the handle to stop. It does not wait.
	Terminate()
}

// Tracker maps plugins to their live handles. The zero value is not usable;
// call New.
type Tracker struct {
	mu      sync.Mutex
	plugins map[string]map[string]Handle
	owner   map[string]string

	metrics *metrics
	logger  *slog.Logger
}

// Option configures a Tracker.
type Option func(*config)

type config struct {
	registerer prometheus.Registerer
	logger     *slog.Logger
}

// WithRegisterer registers the tracker's metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an empty Tracker.
func New(opts ...Option) *Tracker {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Tracker{
		plugins: make(map[string]map[string]Handle),
		owner:   make(map[string]string),
		metrics: newMetrics(cfg.registerer),
		logger:  cfg.logger,
	}
}

// RegisterHandle tracks h for pluginName until h exits. An empty plugin
// name is ignored. Registering the same handle twice for the same plugin
// is a no-op.
func (t *Tracker) RegisterHandle(pluginName string, h Handle) error {
	if pluginName == "" {
		return nil
	}
	id := h.ID()

	t.mu.Lock()
	if owner, ok := t.owner[id]; ok {
		t.mu.Unlock()
		if owner != pluginName {
			return fmt.Errorf("%w: %s is owned by %s", ErrHandleOwned, id, owner)
		}
		return nil
	}
	set, ok := t.plugins[pluginName]
	if !ok {
		set = make(map[string]Handle)
		t.plugins[pluginName] = set
	}
	set[id] = h
	t.owner[id] = pluginName
	// Under t.mu so a concurrent remove cannot forget the series first.
	t.metrics.live.WithLabelValues(pluginName).Inc()
	t.metrics.registered.WithLabelValues(pluginName).Inc()
	t.mu.Unlock()

	// Outside the lock: OnExit may run the callback synchronously.
	h.OnExit(func() { t.remove(pluginName, id) })
	return nil
}

// remove drops id from pluginName's set. Absent ids are ignored.
func (t *Tracker) remove(pluginName, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.owner[id] != pluginName {
		return false
	}
	delete(t.owner, id)
	set := t.plugins[pluginName]
	delete(set, id)
	if len(set) == 0 {
		delete(t.plugins, pluginName)
		t.metrics.forget(pluginName)
	} else {
		t.metrics.live.WithLabelValues(pluginName).Dec()
	}
	return true
}

// HandleCount returns the number of live handles of pluginName.
func (t *Tracker) HandleCount(pluginName string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.plugins[pluginName])
}

// Handles returns the ids of pluginName's live handles, sorted.
func (t *Tracker) Handles(pluginName string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.plugins[pluginName]))
	for id := range t.plugins[pluginName] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Plugins returns the plugins that currently own handles, sorted.
func (t *Tracker) Plugins() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.plugins))
	for name := range t.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reclaim terminates every handle of pluginName and waits for them to exit
// or for ctx to end. Whatever is still tracked afterwards is dropped, so
// the plugin owns no handles once Reclaim returns. It reports how many
// handles were reclaimed.
func (t *Tracker) Reclaim(ctx context.Context, pluginName string) (int, error) {
	t.mu.Lock()
	handles := make([]Handle, 0, len(t.plugins[pluginName]))
	for _, h := range t.plugins[pluginName] {
		handles = append(handles, h)
	}
	t.mu.Unlock()

	if len(handles) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		g.Go(func() error {
			h.Terminate()
			select {
			case <-h.Done():
				return nil
			case <-gctx.Done():
				return fmt.Errorf("handle %s did not exit: %w", h.ID(), gctx.Err())
			}
		})
	}
	err := g.Wait()

	for _, h := range handles {
		if t.remove(pluginName, h.ID()) && !exited(h) {
			t.logger.Warn("dropped handle that did not exit", "plugin", pluginName, "handle", h.ID())
		}
	}
	t.metrics.reclaimed.WithLabelValues(pluginName).Add(float64(len(handles)))

	if err != nil {
		return len(handles), fmt.Errorf("reclaim %s: %w", pluginName, err)
	}
	return len(handles), nil
}

func exited(h Handle) bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}
