package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/tuff-dev/tuff-sandbox/host"
	"github.com/tuff-dev/tuff-sandbox/luaval"
	"github.com/tuff-dev/tuff-sandbox/plugin"
	"github.com/tuff-dev/tuff-sandbox/prelude"
	"github.com/tuff-dev/tuff-sandbox/tracker"
	"github.com/tuff-dev/tuff-sandbox/worker"
)

// Plugin is a loaded plugin and its execution context.
type Plugin struct {
	ID           plugin.Identity
	Dir          string
	ManifestPath string
	Manifest     *plugin.Manifest
	// Issues holds the warnings recorded while loading.
	Issues plugin.Issues
	// Bundle is the compiled entry of a Lua plugin, nil for WASM.
	Bundle *prelude.Bundle

	// ctx lives until the plugin is unloaded. spawnMu orders worker
	// registration against stop.
	ctx     context.Context
	cancel  context.CancelFunc
	spawnMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	state   *lua.LState
	exports *lua.LTable
	wasm    *host.PluginInstance
}

// Name returns the plugin identity as a string.
func (p *Plugin) Name() string { return p.ID.String() }

// adopt tracks w for the plugin. It fails once stop has been called.
func (p *Plugin) adopt(t *tracker.Tracker, w *worker.Worker) error {
	p.spawnMu.Lock()
	defer p.spawnMu.Unlock()
	if err := p.ctx.Err(); err != nil {
		return fmt.Errorf("plugin %s is unloading: %w", p.Name(), err)
	}
	return t.RegisterHandle(p.Name(), w)
}

// stop cancels the plugin's context. No worker is adopted afterwards.
func (p *Plugin) stop() {
	p.spawnMu.Lock()
	defer p.spawnMu.Unlock()
	p.cancel()
}

// Kind reports how the plugin's entry is executed.
func (p *Plugin) Kind() plugin.EntryKind { return p.Manifest.EntryKind() }

// Exports returns the callable entry exports, sorted.
func (p *Plugin) Exports() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wasm != nil {
		return p.wasm.Exports()
	}
	var names []string
	if p.exports != nil {
		p.exports.ForEach(func(k, v lua.LValue) {
			if _, ok := v.(*lua.LFunction); ok {
				if s, ok := k.(lua.LString); ok {
					names = append(names, string(s))
				}
			}
		})
	}
	sort.Strings(names)
	return names
}

// callContext derives a context canceled by ctx or by unloading the plugin.
func (p *Plugin) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)
	return cctx, func() {
		stop()
		cancel()
	}
}

// call runs export fn. Calls into one plugin are serialized.
func (p *Plugin) call(ctx context.Context, fn string, args ...any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, &plugin.NotFoundError{Plugin: p.Name()}
	}

	ctx, stop := p.callContext(ctx)
	defer stop()

	if p.wasm != nil {
		return p.wasm.Call(ctx, fn, args...)
	}

	var f *lua.LFunction
	if p.exports != nil {
		f, _ = p.exports.RawGetString(fn).(*lua.LFunction)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrExportNotFound, p.Name(), fn)
	}

	L := p.state
	largs := make([]lua.LValue, 0, len(args))
	for i, a := range args {
		v, err := luaval.FromGo(L, a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		largs = append(largs, v)
	}

	L.SetContext(ctx)
	defer L.RemoveContext()
	if err := L.CallByParam(lua.P{Fn: f, NRet: 1, Protect: true}, largs...); err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", p.Name(), fn, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return luaval.ToGo(ret)
}

// close releases the execution context. It waits for an in-flight call.
func (p *Plugin) close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if p.state != nil {
		p.state.Close()
		p.state = nil
		p.exports = nil
	}
	if p.wasm != nil {
		if err := p.wasm.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close wasm module: %w", err))
		}
		p.wasm = nil
	}
	return errors.Join(errs...)
}
