package sandbox

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	t_wazero "github.com/tetratelabs/wazero"

	"github.com/tuff-dev/tuff-sandbox/capability/gatekeeper"
	"github.com/tuff-dev/tuff-sandbox/loader"
	"github.com/tuff-dev/tuff-sandbox/policy"
)

// Option configures a Host.
type Option func(*hostConfig)

type hostConfig struct {
	logger         *slog.Logger
	version        string
	workDir        string
	gatekeeper     *gatekeeper.Gatekeeper
	denials        policy.DenialHandler
	registerer     prometheus.Registerer
	providers      map[string]Provider
	modules        []loader.Module
	externals      []string
	maxSourceBytes int64
	wasmCache      t_wazero.CompilationCache
	middleware     []Middleware
	ratePerSecond  float64
	rateBurst      int
}

// WithLogger sets the logger used by the host and its components.
func WithLogger(l *slog.Logger) Option {
	return func(c *hostConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithVersion overrides the host version checked against manifest engine
// constraints.
func WithVersion(v string) Option {
	return func(c *hostConfig) { c.version = v }
}

// WithWorkDir sets the directory for compile scratch files and provider
// output.
func WithWorkDir(dir string) Option {
	return func(c *hostConfig) { c.workDir = dir }
}

// WithGatekeeper sets the gatekeeper used for consent.
func WithGatekeeper(g *gatekeeper.Gatekeeper) Option {
	return func(c *hostConfig) { c.gatekeeper = g }
}

// WithDenialHandler sets the handler notified of refused requests.
func WithDenialHandler(h policy.DenialHandler) Option {
	return func(c *hostConfig) { c.denials = h }
}

// WithRegisterer registers host metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *hostConfig) { c.registerer = reg }
}

// WithCapabilityProvider serves capabilityID with p.
func WithCapabilityProvider(capabilityID string, p Provider) Option {
	return func(c *hostConfig) { c.providers[capabilityID] = p }
}

// WithModules adds host modules plugins may require.
func WithModules(mods ...loader.Module) Option {
	return func(c *hostConfig) { c.modules = append(c.modules, mods...) }
}

// WithExternals adds require patterns the compiler leaves to run time.
func WithExternals(patterns ...string) Option {
	return func(c *hostConfig) { c.externals = append(c.externals, patterns...) }
}

// WithMaxSourceBytes bounds each Lua source file.
func WithMaxSourceBytes(n int64) Option {
	return func(c *hostConfig) { c.maxSourceBytes = n }
}

// WithCompilationCache shares compiled WASM across hosts.
func WithCompilationCache(cache t_wazero.CompilationCache) Option {
	return func(c *hostConfig) { c.wasmCache = cache }
}

// WithInvokeMiddleware adds middleware after the built-in chain, just
// before the provider.
func WithInvokeMiddleware(mws ...Middleware) Option {
	return func(c *hostConfig) { c.middleware = append(c.middleware, mws...) }
}

// WithInvokeRateLimit bounds each plugin to perSecond calls per capability,
// with bursts of up to burst calls. perSecond <= 0 disables the limit.
func WithInvokeRateLimit(perSecond float64, burst int) Option {
	return func(c *hostConfig) {
		c.ratePerSecond = perSecond
		c.rateBurst = burst
	}
}
