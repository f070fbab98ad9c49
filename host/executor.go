// Package host runs plugins whose entry is a WebAssembly module. Guests
// reach capabilities only through the "tuff" host module.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	t_wazero "github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tuff-dev/tuff-sandbox/wazero"
)

// HostModule is the import module name guests link against.
const HostModule = "tuff"

const modulePrefix = "plugin/"

// ErrNoInvoker is reported to guests when the executor has no invoker.
var ErrNoInvoker = errors.New("capability invocation is not available")

// Invoker performs a mediated capability call on behalf of a plugin.
type Invoker interface {
	Invoke(ctx context.Context, plugin, capabilityID string, payload any) (any, error)
}

// InvokeRequest is the JSON a guest passes to `invoke`.
type InvokeRequest struct {
	Capability string `json:"capability"`
	Payload    any    `json:"payload,omitempty"`
}

// InvokeResponse is the JSON `invoke` writes back into guest memory.
type InvokeResponse struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Executor owns the wazero runtime shared by all WASM plugins. Each plugin
// is instantiated as its own module, named after the plugin.
type Executor struct {
	runtime t_wazero.Runtime
	invoker Invoker
	logger  *slog.Logger
	cache   t_wazero.CompilationCache
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(ctx context.Context, opts ...Option) (*Executor, error) {
	e := &Executor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}

	cfg := t_wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if e.cache != nil {
		cfg = cfg.WithCompilationCache(e.cache)
	}
	rt := t_wazero.NewRuntimeWithConfig(ctx, cfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)
	e.runtime = rt

	if err := e.registerHostFunctions(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}
	return e, nil
}

// PluginName returns the plugin a guest module was instantiated for.
func PluginName(mod api.Module) string {
	return strings.TrimPrefix(mod.Name(), modulePrefix)
}

func (e *Executor) registerHostFunctions(ctx context.Context) error {
	return wazero.InstantiateHostModule(ctx, e.runtime, HostModule,
		wazero.HostFunc{
			Name:        "log_message",
			ParamTypes:  []api.ValueType{api.ValueTypeI64},
			ResultTypes: []api.ValueType{},
			Handler:     wazero.NewLogFunc(e.logger, PluginName),
		},
		wazero.HostFunc{
			Name:        "invoke",
			ParamTypes:  []api.ValueType{api.ValueTypeI64},
			ResultTypes: []api.ValueType{api.ValueTypeI64},
			Handler:     api.GoModuleFunc(e.invoke),
		},
	)
}

// invoke reads an InvokeRequest, performs it and returns a packed
// InvokeResponse. Failures are reported in the response, never trapped.
func (e *Executor) invoke(ctx context.Context, mod api.Module, stack []uint64) {
	plugin := PluginName(mod)
	resp := InvokeResponse{}

	raw, err := wazero.ReadBytes(mod, stack[0])
	var req InvokeRequest
	switch {
	case err != nil:
		resp.Error = err.Error()
	case json.Unmarshal(raw, &req) != nil:
		resp.Error = "malformed invoke request"
	case e.invoker == nil:
		resp.Error = ErrNoInvoker.Error()
	default:
		result, err := e.invoker.Invoke(ctx, plugin, req.Capability, req.Payload)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Result = result
		}
	}

	out, err := json.Marshal(resp)
	if err != nil {
		out, _ = json.Marshal(InvokeResponse{Error: "unencodable result"})
	}
	packed, err := wazero.WriteBytes(ctx, mod, out)
	if err != nil {
		e.logger.ErrorContext(ctx, "host: failed to return invoke response", "plugin", plugin, "error", err)
		packed = 0
	}
	stack[0] = packed
}

// Close releases resources held by the executor.
func (e *Executor) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// PluginInstance represents an instantiated WASM plugin.
type PluginInstance struct {
	module api.Module
}

// LoadPlugin instantiates wasmBytes as the module of the named plugin.
func (e *Executor) LoadPlugin(ctx context.Context, plugin string, wasmBytes []byte) (*PluginInstance, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module: %w", err)
	}

	cfg := t_wazero.NewModuleConfig().WithName(modulePrefix + plugin)
	mod, err := e.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}

	if init := mod.ExportedFunction("_initialize"); init != nil {
		if _, err := init.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, fmt.Errorf("failed to call _initialize: %w", err)
		}
	}

	return &PluginInstance{module: mod}, nil
}

// Exports lists the functions a plugin may be called through.
func (p *PluginInstance) Exports() []string {
	var names []string
	for name := range p.module.ExportedFunctionDefinitions() {
		if name == "allocate" || name == "_initialize" || strings.HasPrefix(name, "_") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes an exported function with JSON-encoded args and decodes its
// JSON result. A zero packed result decodes to nil.
func (p *PluginInstance) Call(ctx context.Context, name string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	input, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}

	packed, err := p.callRaw(ctx, name, input)
	if err != nil {
		return nil, err
	}

	data, err := wazero.ReadBytes(p.module, packed)
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode result of %s: %w", name, err)
	}
	return out, nil
}

func (p *PluginInstance) callRaw(ctx context.Context, name string, input []byte) (uint64, error) {
	fn := p.module.ExportedFunction(name)
	if fn == nil {
		return 0, fmt.Errorf("function %q not found", name)
	}

	packedInput, err := wazero.WriteBytes(ctx, p.module, input)
	if err != nil {
		return 0, err
	}

	res, err := fn.Call(ctx, packedInput)
	if err != nil {
		return 0, fmt.Errorf("call failed: %w", err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

// Close releases the plugin's module.
func (p *PluginInstance) Close(ctx context.Context) error {
	return p.module.Close(ctx)
}
