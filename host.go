package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/tuff-dev/tuff-sandbox/capability"
	"github.com/tuff-dev/tuff-sandbox/host"
	"github.com/tuff-dev/tuff-sandbox/loader"
	"github.com/tuff-dev/tuff-sandbox/parser"
	"github.com/tuff-dev/tuff-sandbox/plugin"
	"github.com/tuff-dev/tuff-sandbox/policy"
	"github.com/tuff-dev/tuff-sandbox/prelude"
	"github.com/tuff-dev/tuff-sandbox/registry"
	"github.com/tuff-dev/tuff-sandbox/tracker"
	"github.com/tuff-dev/tuff-sandbox/validation"
	"github.com/tuff-dev/tuff-sandbox/worker"
)

// Issue codes reported while bringing a plugin online.
const (
	CodeManifestInvalid     = "MANIFEST_INVALID"
	CodeIdentityInvalid     = "IDENTITY_INVALID"
	CodePlatformUnsupported = "PLATFORM_UNSUPPORTED"
	CodeEntryInvalid        = "ENTRY_INVALID"
	CodeCompileFailed       = "COMPILE_FAILED"
	CodeEntryFailed         = "ENTRY_FAILED"
)

var errCompileFailed = errors.New("compile failed")

// Host loads plugins into isolated execution contexts and mediates every
// capability call they make.
type Host struct {
	cfg    hostConfig
	logger *slog.Logger

	catalog     *capability.Registry
	schemas     *registry.Registry
	policy      *policy.DeclarationPolicy
	checker     *CapabilityChecker
	handlers    *HandlerRegistry
	validator   *validation.Validator
	compiler    *prelude.Compiler
	bundles     *prelude.Cache
	interceptor *loader.Interceptor
	tracker     *tracker.Tracker
	limiter     *InvokeLimiter

	wasmMu sync.Mutex
	wasm   *host.Executor

	mu      sync.RWMutex
	plugins map[string]*Plugin
	closed  bool
}

var _ host.Invoker = (*Host)(nil)

// New creates a host with the default capability catalog and schemas.
func New(opts ...Option) (*Host, error) {
	cfg := hostConfig{
		logger:    slog.Default(),
		version:   Version,
		providers: make(map[string]Provider),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Host{
		cfg:     cfg,
		logger:  cfg.logger,
		plugins: make(map[string]*Plugin),
	}

	h.catalog = capability.NewRegistry()
	h.catalog.RegisterDefaults()

	h.schemas = registry.NewRegistry()
	if err := registry.RegisterDefaults(h.schemas); err != nil {
		return nil, fmt.Errorf("failed to register capability schemas: %w", err)
	}

	denials := cfg.denials
	if denials == nil {
		denials = policy.NewSlogDenialHandler(h.logger)
	}
	h.policy = policy.NewPolicy(policy.WithDenialHandler(denials))

	checkerOpts := []CheckerOption{WithCheckerPolicy(h.policy), WithCheckerLogger(h.logger)}
	if cfg.gatekeeper != nil {
		checkerOpts = append(checkerOpts, WithCheckerGatekeeper(cfg.gatekeeper))
	}
	checker, err := NewCapabilityChecker(h.catalog, h, checkerOpts...)
	if err != nil {
		return nil, err
	}
	h.checker = checker

	mws := []Middleware{
		PanicRecoveryMiddleware(),
		LoggingMiddleware(h.logger),
	}
	if cfg.ratePerSecond > 0 {
		h.limiter = NewInvokeLimiter(cfg.ratePerSecond, cfg.rateBurst)
		mws = append(mws, RateLimitMiddleware(h.limiter))
	}
	mws = append(mws, CapabilityMiddleware(checker), SchemaMiddleware(h.schemas))
	regOpts := []RegistryOption{WithMiddleware(append(mws, cfg.middleware...)...)}
	for id, p := range cfg.providers {
		regOpts = append(regOpts, WithProvider(id, p))
	}
	h.handlers = NewHandlerRegistry(regOpts...)

	h.validator = validation.NewCapabilityValidator(h.catalog)
	h.tracker = tracker.New(tracker.WithRegisterer(cfg.registerer), tracker.WithLogger(h.logger))

	base, err := loader.NewRegistry(cfg.modules...)
	if err != nil {
		return nil, fmt.Errorf("failed to register host modules: %w", err)
	}
	h.interceptor = loader.NewInterceptor(base,
		loader.WithSensitive(SDKModuleName, h.sdkModule),
		loader.WithSensitive(worker.ModuleName, h.workerModule),
	)

	externals := slices.Concat(prelude.DefaultExternals, base.IDs(), cfg.externals)
	h.compiler = prelude.NewCompiler(
		prelude.WithLogger(h.logger),
		prelude.WithExternals(externals...),
		prelude.WithMaxSourceBytes(cfg.maxSourceBytes),
	)
	h.bundles = prelude.NewCache(h.compiler)
	return h, nil
}

// Catalog returns the capability catalog.
func (h *Host) Catalog() *capability.Registry { return h.catalog }

// Schemas returns the capability parameter schemas.
func (h *Host) Schemas() *registry.Registry { return h.schemas }

// Handlers returns the capability handler registry.
func (h *Host) Handlers() *HandlerRegistry { return h.handlers }

// Checker returns the capability checker.
func (h *Host) Checker() *CapabilityChecker { return h.checker }

// Invoke performs a mediated capability call on behalf of pluginName.
func (h *Host) Invoke(ctx context.Context, pluginName, capabilityID string, payload any) (any, error) {
	return h.handlers.Invoke(ctx, pluginName, capabilityID, payload)
}

// Declared implements Declarations from the loaded manifests.
func (h *Host) Declared(pluginName string) ([]string, bool) {
	p, ok := h.lookup(pluginName)
	if !ok {
		return nil, false
	}
	return slices.Clone(p.Manifest.Capabilities), true
}

func (h *Host) sdkModule(pluginName string, _ *loader.Loader) loader.Module {
	return &sdkModule{plugin: pluginName, handlers: h.handlers, decls: h, logger: h.logger}
}

// workerModule is the instrumented worker module: every spawned worker is
// tracked for the plugin and parented to the plugin's lifetime.
func (h *Host) workerModule(pluginName string, l *loader.Loader) loader.Module {
	p, ok := h.lookup(pluginName)
	if !ok {
		return worker.NewModule(l.NewState, worker.WithSpawnHook(func(w *worker.Worker) error {
			return h.tracker.RegisterHandle(pluginName, w)
		}))
	}
	return worker.NewModule(l.NewState,
		worker.WithBaseContext(p.ctx),
		worker.WithSpawnHook(func(w *worker.Worker) error {
			return p.adopt(h.tracker, w)
		}))
}

// LoadPlugin reads the manifest in dir, validates it, compiles the entry
// and runs it in a fresh execution context. Manifest problems fail the
// load with a *plugin.LoadError.
func (h *Host) LoadPlugin(ctx context.Context, dir string) (*Plugin, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("plugin dir: %w", err)
	}

	var issues plugin.Issues
	m, manifestPath, err := parser.LoadManifest(absDir)
	if err != nil {
		issues.Add(plugin.IssueError, CodeManifestInvalid, "manifest", err.Error())
		return nil, h.loadFailed(filepath.Base(absDir), issues)
	}

	id, err := plugin.ParseIdentity(m.Name)
	if err != nil {
		issues.Add(plugin.IssueError, CodeIdentityInvalid, "manifest", err.Error())
		return nil, h.loadFailed(filepath.Base(absDir), issues)
	}

	plugin.CheckSDKCompatibility(m, &issues)
	plugin.CheckEngine(m, h.cfg.version, &issues)
	res, err := h.validator.Validate(m)
	if err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	issues = append(issues, res.Issues...)
	if len(m.Platforms) > 0 && !m.Platforms[runtime.GOOS] {
		issues.Add(plugin.IssueError, CodePlatformUnsupported, "manifest",
			fmt.Sprintf("plugin does not support platform %s", runtime.GOOS))
	}
	if !filepath.IsLocal(filepath.FromSlash(m.EntryPath())) {
		issues.Add(plugin.IssueError, CodeEntryInvalid, "manifest",
			fmt.Sprintf("entry %q must be inside the plugin directory", m.EntryPath()))
	}
	if issues.HasErrors() {
		return nil, h.loadFailed(id.String(), issues)
	}

	p := &Plugin{
		ID:           id,
		Dir:          absDir,
		ManifestPath: manifestPath,
		Manifest:     m,
		Issues:       issues,
	}
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if err := h.reserve(p); err != nil {
		p.cancel()
		return nil, err
	}

	var startErr error
	if m.EntryKind() == plugin.EntryWASM {
		startErr = h.startWASM(ctx, p)
	} else {
		startErr = h.startLua(ctx, p)
	}
	if startErr != nil {
		h.release(p)
		if err := h.teardown(ctx, p); err != nil {
			h.logger.Warn("cleanup after failed load", "plugin", p.Name(), "error", err)
		}
		if !errors.Is(startErr, errCompileFailed) {
			p.Issues.Add(plugin.IssueError, CodeEntryFailed, m.EntryPath(), startErr.Error())
		}
		return nil, h.loadFailed(p.Name(), p.Issues)
	}

	h.logIssues(p.Name(), p.Issues)
	h.logger.Info("plugin loaded",
		"plugin", p.Name(),
		"version", m.Version,
		"kind", m.EntryKind(),
		"capabilities", len(m.Capabilities))
	return p, nil
}

func (h *Host) startLua(ctx context.Context, p *Plugin) error {
	entry := p.Manifest.EntryPath()
	b := h.bundles.CompileFromFile(ctx, p.Name(), p.Dir, h.cfg.workDir, entry)
	if b == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.Issues.Add(plugin.IssueError, CodeCompileFailed, entry, "entry did not compile, see log for the cause")
		return errCompileFailed
	}
	p.Bundle = b

	l := h.interceptor.CreateLoaderFor(p.Name(), loader.WithMain(filepath.Join(p.Dir, entry)))
	L := l.NewState()
	fn, err := L.Load(strings.NewReader(b.Text), p.Name()+"@bundle")
	if err != nil {
		L.Close()
		return fmt.Errorf("load bundle: %w", err)
	}

	runCtx, stop := p.callContext(ctx)
	L.SetContext(runCtx)
	L.Push(fn)
	err = L.PCall(0, 1, nil)
	L.RemoveContext()
	stop()
	if err != nil {
		L.Close()
		return fmt.Errorf("run entry: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	p.mu.Lock()
	p.state = L
	if t, ok := ret.(*lua.LTable); ok {
		p.exports = t
	}
	p.mu.Unlock()
	return nil
}

func (h *Host) startWASM(ctx context.Context, p *Plugin) error {
	exec, err := h.executor(ctx)
	if err != nil {
		return err
	}
	wasmBytes, err := os.ReadFile(filepath.Join(p.Dir, filepath.FromSlash(p.Manifest.EntryPath())))
	if err != nil {
		return fmt.Errorf("read entry: %w", err)
	}
	inst, err := exec.LoadPlugin(ctx, p.Name(), wasmBytes)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.wasm = inst
	p.mu.Unlock()
	return nil
}

// executor creates the shared WASM runtime on first use.
func (h *Host) executor(ctx context.Context) (*host.Executor, error) {
	h.wasmMu.Lock()
	defer h.wasmMu.Unlock()
	if h.wasm != nil {
		return h.wasm, nil
	}
	opts := []host.Option{host.WithInvoker(h), host.WithLogger(h.logger)}
	if h.cfg.wasmCache != nil {
		opts = append(opts, host.WithCompilationCache(h.cfg.wasmCache))
	}
	exec, err := host.NewExecutor(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create wasm executor: %w", err)
	}
	h.wasm = exec
	return exec, nil
}

// Call invokes export fn of a loaded plugin.
func (h *Host) Call(ctx context.Context, pluginName, fn string, args ...any) (any, error) {
	p, ok := h.lookup(pluginName)
	if !ok {
		return nil, &plugin.NotFoundError{Plugin: pluginName}
	}
	return p.call(ctx, fn, args...)
}

// UnloadPlugin reclaims the plugin's runtime handles, closes its execution
// context and drops its cached modules and bundles.
func (h *Host) UnloadPlugin(ctx context.Context, pluginName string) error {
	h.mu.Lock()
	p, ok := h.plugins[pluginName]
	if ok {
		delete(h.plugins, pluginName)
	}
	h.mu.Unlock()
	if !ok {
		return &plugin.NotFoundError{Plugin: pluginName}
	}
	return h.teardown(ctx, p)
}

func (h *Host) teardown(ctx context.Context, p *Plugin) error {
	name := p.Name()
	// No worker may register once the reclaim has started.
	p.stop()
	n, reclaimErr := h.tracker.Reclaim(ctx, name)
	closeErr := p.close(ctx)
	h.interceptor.Forget(name)
	h.bundles.Forget(name)
	if h.limiter != nil {
		h.limiter.Forget(name)
	}

	h.logger.Info("plugin unloaded", "plugin", name, "reclaimed", n)
	return errors.Join(reclaimErr, closeErr)
}

// Plugin returns a loaded plugin.
func (h *Host) Plugin(pluginName string) (*Plugin, bool) {
	return h.lookup(pluginName)
}

// Plugins returns the names of loaded plugins, sorted.
func (h *Host) Plugins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.plugins))
	for name := range h.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandleCount returns the number of live runtime handles of a plugin.
func (h *Host) HandleCount(pluginName string) int {
	return h.tracker.HandleCount(pluginName)
}

// Close unloads every plugin and releases the WASM runtime. The host
// cannot be used afterwards.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	plugins := make([]*Plugin, 0, len(h.plugins))
	for _, p := range h.plugins {
		plugins = append(plugins, p)
	}
	h.plugins = make(map[string]*Plugin)
	h.mu.Unlock()

	var errs []error
	for _, p := range plugins {
		if err := h.teardown(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("unload %s: %w", p.Name(), err))
		}
	}

	h.wasmMu.Lock()
	if h.wasm != nil {
		if err := h.wasm.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		h.wasm = nil
	}
	h.wasmMu.Unlock()
	return errors.Join(errs...)
}

func (h *Host) lookup(pluginName string) (*Plugin, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.plugins[pluginName]
	return p, ok
}

// reserve claims the plugin's name before its entry runs, so manifest
// declarations are visible to capability calls made during startup.
func (h *Host) reserve(p *Plugin) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}
	if _, ok := h.plugins[p.Name()]; ok {
		return fmt.Errorf("%w: %s", plugin.ErrAlreadyLoaded, p.Name())
	}
	h.plugins[p.Name()] = p
	return nil
}

func (h *Host) release(p *Plugin) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.plugins[p.Name()] == p {
		delete(h.plugins, p.Name())
	}
}

func (h *Host) loadFailed(pluginName string, issues plugin.Issues) error {
	h.logIssues(pluginName, issues)
	return &plugin.LoadError{Plugin: pluginName, Issues: issues}
}

func (h *Host) logIssues(pluginName string, issues plugin.Issues) {
	for _, is := range issues {
		level := slog.LevelWarn
		if is.Type == plugin.IssueError {
			level = slog.LevelError
		}
		h.logger.Log(context.Background(), level, "plugin load issue",
			"plugin", pluginName,
			"code", is.Code,
			"source", is.Source,
			"message", is.Message)
	}
}
