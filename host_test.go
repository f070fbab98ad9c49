package sandbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sandbox "github.com/tuff-dev/tuff-sandbox"
	"github.com/tuff-dev/tuff-sandbox/capability"
	"github.com/tuff-dev/tuff-sandbox/capability/gatekeeper"
	"github.com/tuff-dev/tuff-sandbox/plugin"
	"github.com/tuff-dev/tuff-sandbox/policy"
	"github.com/tuff-dev/tuff-sandbox/providers"
)

type manifest struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Main         string   `json:"main,omitempty"`
	SDKAPI       int      `json:"sdkapi"`
	Engine       string   `json:"engine,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

func writePlugin(t *testing.T, m manifest, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	if m.Version == "" {
		m.Version = "1.0.0"
	}
	if m.SDKAPI == 0 {
		m.SDKAPI = plugin.CurrentSDKAPI
	}
	b, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), b, 0o600))
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	}
	return dir
}

type hostFixture struct {
	host     *sandbox.Host
	storage  *providers.Storage
	denials  *policy.Recorder
	consents int
}

func newHost(t *testing.T, grant bool, opts ...sandbox.Option) *hostFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &hostFixture{storage: providers.NewStorage(), denials: policy.NewRecorder(0)}

	g, err := gatekeeper.NewGatekeeper(
		gatekeeper.WithLogger(logger),
		gatekeeper.WithConsentHandler(func(context.Context, capability.RiskPromptInput) (bool, error) {
			f.consents++
			return grant, nil
		}))
	require.NoError(t, err)

	opts = append([]sandbox.Option{
		sandbox.WithLogger(logger),
		sandbox.WithGatekeeper(g),
		sandbox.WithDenialHandler(f.denials),
		sandbox.WithCapabilityProvider("plugin.storage", f.storage),
		sandbox.WithCapabilityProvider("plugin.temp-file", providers.NewTempFiles(t.TempDir(), logger)),
	}, opts...)
	h, err := sandbox.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	f.host = h
	return f
}

const demoEntry = `
local tuff = require("tuff")
local greet = require("./lib/greet")

return {
  greet = function(name) return greet.hello(name) end,
  save = function(k, v)
    local ok, err = tuff.invoke("plugin.storage", { op = "set", key = k, value = v })
    return { ok = ok, err = err }
  end,
  load = function(k)
    return tuff.invoke("plugin.storage", { op = "get", key = k })
  end,
  bad = function()
    local _, err = tuff.invoke("plugin.storage", { op = "drop" })
    return err
  end,
  temp = function()
    local res, err = tuff.invoke("plugin.temp-file", { content = "x" })
    return { res = res, err = err }
  end,
  whoami = function() return { name = tuff.plugin, caps = tuff.capabilities() } end,
}
`

func demoPlugin(t *testing.T, caps ...string) string {
	if len(caps) == 0 {
		caps = []string{"plugin.storage"}
	}
	return writePlugin(t, manifest{Name: "demo", Capabilities: caps}, map[string]string{
		"index.lua":     demoEntry,
		"lib/greet.lua": `return { hello = function(n) return "hello " .. n end }`,
	})
}

func TestHost_LoadAndCall(t *testing.T) {
	f := newHost(t, true)
	ctx := context.Background()

	p, err := f.host.LoadPlugin(ctx, demoPlugin(t))
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name())
	assert.Equal(t, plugin.EntryLua, p.Kind())
	require.NotNil(t, p.Bundle)
	assert.Equal(t, []string{"tuff"}, p.Bundle.Externals)
	assert.Equal(t, []string{"bad", "greet", "load", "save", "temp", "whoami"}, p.Exports())
	assert.Equal(t, []string{"demo"}, f.host.Plugins())

	out, err := f.host.Call(ctx, "demo", "greet", "tuff")
	require.NoError(t, err)
	assert.Equal(t, "hello tuff", out)

	out, err = f.host.Call(ctx, "demo", "save", "k", "v")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, out)

	out, err = f.host.Call(ctx, "demo", "load", "k")
	require.NoError(t, err)
	assert.Equal(t, "v", out)

	out, err = f.host.Call(ctx, "demo", "whoami")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "demo", "caps": []any{"plugin.storage"}}, out)

	_, err = f.host.Call(ctx, "demo", "missing")
	assert.ErrorIs(t, err, sandbox.ErrExportNotFound)

	assert.Zero(t, f.consents, "storage is trusted")
	assert.Empty(t, f.denials.Denials(""))
}

func TestHost_InvalidPayloadIsRejected(t *testing.T) {
	f := newHost(t, true)
	ctx := context.Background()
	_, err := f.host.LoadPlugin(ctx, demoPlugin(t))
	require.NoError(t, err)

	out, err := f.host.Call(ctx, "demo", "bad")
	require.NoError(t, err)
	assert.Contains(t, out, "invalid capability payload")
}

func TestHost_InvokeRateLimit(t *testing.T) {
	f := newHost(t, true, sandbox.WithInvokeRateLimit(0.001, 1))
	ctx := context.Background()
	_, err := f.host.LoadPlugin(ctx, demoPlugin(t))
	require.NoError(t, err)

	out, err := f.host.Call(ctx, "demo", "save", "k", "v")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, out)

	out, err = f.host.Call(ctx, "demo", "save", "k", "w")
	require.NoError(t, err)
	assert.Contains(t, out.(map[string]any)["err"], "rate limit exceeded")

	// A reload starts from a full bucket.
	require.NoError(t, f.host.UnloadPlugin(ctx, "demo"))
	_, err = f.host.LoadPlugin(ctx, demoPlugin(t))
	require.NoError(t, err)
	out, err = f.host.Call(ctx, "demo", "save", "k", "w")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, out)
}

func TestHost_UndeclaredCapabilityIsDenied(t *testing.T) {
	f := newHost(t, true)
	ctx := context.Background()
	_, err := f.host.LoadPlugin(ctx, demoPlugin(t))
	require.NoError(t, err)

	out, err := f.host.Call(ctx, "demo", "temp")
	require.NoError(t, err)
	assert.Contains(t, out.(map[string]any)["err"], "capability not declared in manifest")
	assert.Zero(t, f.consents)

	denials := f.denials.Denials("demo")
	require.Len(t, denials, 1)
	assert.Equal(t, "plugin.temp-file", denials[0].Capability)
}

func TestHost_SensitiveCapabilityAsksForConsent(t *testing.T) {
	for _, grant := range []bool{true, false} {
		f := newHost(t, grant)
		ctx := context.Background()
		_, err := f.host.LoadPlugin(ctx, demoPlugin(t, "plugin.storage", "plugin.temp-file"))
		require.NoError(t, err)

		out, err := f.host.Call(ctx, "demo", "temp")
		require.NoError(t, err)
		assert.Equal(t, 1, f.consents)

		res := out.(map[string]any)
		if grant {
			assert.Contains(t, res["res"], "path")
			assert.Nil(t, res["err"])
		} else {
			assert.Contains(t, res["err"], "consent refused")
			assert.Len(t, f.denials.Denials("demo"), 1)
		}
	}
}

func TestHost_LoadFailures(t *testing.T) {
	tests := []struct {
		name string
		dir  func(t *testing.T) string
		code string
	}{
		{
			name: "no manifest",
			dir:  func(t *testing.T) string { return t.TempDir() },
			code: sandbox.CodeManifestInvalid,
		},
		{
			name: "bad identity",
			dir: func(t *testing.T) string {
				return writePlugin(t, manifest{Name: "../evil"}, map[string]string{"index.lua": "return {}"})
			},
			code: sandbox.CodeIdentityInvalid,
		},
		{
			name: "unknown capability",
			dir: func(t *testing.T) string {
				return writePlugin(t, manifest{Name: "p", Capabilities: []string{"plugin.nope"}}, map[string]string{"index.lua": "return {}"})
			},
			code: "CAPABILITY_UNKNOWN",
		},
		{
			name: "engine mismatch",
			dir: func(t *testing.T) string {
				return writePlugin(t, manifest{Name: "p", Engine: ">= 99.0.0"}, map[string]string{"index.lua": "return {}"})
			},
			code: plugin.CodeEngineUnsupported,
		},
		{
			name: "entry outside plugin",
			dir: func(t *testing.T) string {
				return writePlugin(t, manifest{Name: "p", Main: "../index.lua"}, nil)
			},
			code: sandbox.CodeEntryInvalid,
		},
		{
			name: "syntax error",
			dir: func(t *testing.T) string {
				return writePlugin(t, manifest{Name: "p"}, map[string]string{"index.lua": "return {"})
			},
			code: sandbox.CodeCompileFailed,
		},
		{
			name: "unresolved import",
			dir: func(t *testing.T) string {
				return writePlugin(t, manifest{Name: "p"}, map[string]string{"index.lua": `return require("./missing")`})
			},
			code: sandbox.CodeCompileFailed,
		},
		{
			name: "entry raises",
			dir: func(t *testing.T) string {
				return writePlugin(t, manifest{Name: "p"}, map[string]string{"index.lua": `error("nope")`})
			},
			code: sandbox.CodeEntryFailed,
		},
		{
			name: "unknown host module",
			dir: func(t *testing.T) string {
				return writePlugin(t, manifest{Name: "p"}, map[string]string{"index.lua": `return require("tuff/clipboard")`})
			},
			code: sandbox.CodeEntryFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHost(t, true)
			_, err := f.host.LoadPlugin(context.Background(), tt.dir(t))
			require.ErrorIs(t, err, plugin.ErrPluginLoad)

			var le *plugin.LoadError
			require.ErrorAs(t, err, &le)
			var codes []string
			for _, is := range le.Issues {
				if is.Type == plugin.IssueError {
					codes = append(codes, is.Code)
				}
			}
			assert.Equal(t, []string{tt.code}, codes)
			assert.Empty(t, f.host.Plugins())
		})
	}
}

func TestHost_WarningsDoNotFailLoad(t *testing.T) {
	f := newHost(t, true)
	dir := writePlugin(t, manifest{Name: "p", Capabilities: []string{"plugin.division-box"}}, map[string]string{
		"index.lua": "return {}",
	})
	p, err := f.host.LoadPlugin(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, p.Issues, 1)
	assert.Equal(t, plugin.IssueWarning, p.Issues[0].Type)
}

func TestHost_DuplicateLoad(t *testing.T) {
	f := newHost(t, true)
	dir := demoPlugin(t)
	_, err := f.host.LoadPlugin(context.Background(), dir)
	require.NoError(t, err)
	_, err = f.host.LoadPlugin(context.Background(), dir)
	assert.ErrorIs(t, err, plugin.ErrAlreadyLoaded)
}

const workerEntry = `
local Worker = require("worker")
local held = {}
return {
  spin = function(n)
    for i = 1, n do
      held[#held + 1] = Worker.new("while true do end")
    end
    return #held
  end,
  quick = function()
    local w = Worker.new("return worker_data.x + 1", { x = 41 })
    return w:wait()
  end,
}
`

func TestHost_WorkersAreTrackedAndReclaimed(t *testing.T) {
	f := newHost(t, true)
	ctx := context.Background()
	dir := writePlugin(t, manifest{Name: "busy"}, map[string]string{"index.lua": workerEntry})
	_, err := f.host.LoadPlugin(ctx, dir)
	require.NoError(t, err)

	out, err := f.host.Call(ctx, "busy", "quick")
	require.NoError(t, err)
	assert.Equal(t, float64(42), out)
	assert.Eventually(t, func() bool { return f.host.HandleCount("busy") == 0 }, 5*time.Second, 10*time.Millisecond)

	out, err = f.host.Call(ctx, "busy", "spin", 3)
	require.NoError(t, err)
	assert.Equal(t, float64(3), out)
	assert.Equal(t, 3, f.host.HandleCount("busy"))

	uctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.host.UnloadPlugin(uctx, "busy"))
	assert.Zero(t, f.host.HandleCount("busy"))
	assert.Empty(t, f.host.Plugins())

	_, err = f.host.Call(ctx, "busy", "spin", 1)
	assert.ErrorIs(t, err, plugin.ErrPluginNotFound)
	assert.ErrorIs(t, f.host.UnloadPlugin(ctx, "busy"), plugin.ErrPluginNotFound)

	// A reload starts from a clean slate.
	_, err = f.host.LoadPlugin(ctx, dir)
	require.NoError(t, err)
	assert.Zero(t, f.host.HandleCount("busy"))
}

const breederEntry = `
local Worker = require("worker")
local breeder
return {
  start = function()
    breeder = Worker.new([[
      local W = require("worker")
      while true do W.new("while true do end") end
    ]])
    return true
  end,
}
`

func TestHost_UnloadReclaimsWorkersSpawningWorkers(t *testing.T) {
	f := newHost(t, true)
	ctx := context.Background()
	dir := writePlugin(t, manifest{Name: "breeder"}, map[string]string{"index.lua": breederEntry})
	_, err := f.host.LoadPlugin(ctx, dir)
	require.NoError(t, err)

	out, err := f.host.Call(ctx, "breeder", "start")
	require.NoError(t, err)
	assert.Equal(t, true, out)
	require.Eventually(t, func() bool { return f.host.HandleCount("breeder") > 3 }, 5*time.Second, time.Millisecond)

	uctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, f.host.UnloadPlugin(uctx, "breeder"))
	assert.Zero(t, f.host.HandleCount("breeder"), "handles right after unload")
	assert.Never(t, func() bool { return f.host.HandleCount("breeder") > 0 }, 200*time.Millisecond, 5*time.Millisecond)
}

const metaEntry = `
local tuff = require("tuff")
return {
  tagged = function(meta)
    return tuff.invoke("plugin.storage", { op = "get", key = "k" }, meta)
  end,
  blocked = function()
    local _, err = tuff.invoke("plugin.storage", { op = "get", key = "k" }, { blocked = "true" })
    return err
  end,
}
`

func TestHost_PluginMetadataIsNamespaced(t *testing.T) {
	var seen map[string]string
	capture := func(next sandbox.Handler) sandbox.Handler {
		return func(ctx context.Context, call *sandbox.Call) (any, error) {
			seen = call.Meta
			return next(ctx, call)
		}
	}
	f := newHost(t, false, sandbox.WithInvokeMiddleware(capture))
	ctx := context.Background()
	dir := writePlugin(t, manifest{Name: "tagger", Capabilities: []string{"plugin.storage"}},
		map[string]string{"index.lua": metaEntry})
	_, err := f.host.LoadPlugin(ctx, dir)
	require.NoError(t, err)

	_, err = f.host.Call(ctx, "tagger", "tagged", map[string]any{"note": "x", "risk": "low"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"plugin.note": "x", "plugin.risk": "low"}, seen)
	assert.Zero(t, f.consents)

	// A plugin may still escalate its own call.
	out, err := f.host.Call(ctx, "tagger", "blocked")
	require.NoError(t, err)
	assert.Contains(t, out, "consent refused")
	assert.Equal(t, 1, f.consents)
}

const bombEntry = `
local tuff = require("tuff")
return {
  bomb = function(depth)
    local t = { leaf = true }
    for i = 1, depth do t = { a = t, b = t } end
    local _, err = pcall(tuff.invoke, "plugin.storage", { op = "set", key = "k", value = t })
    return err
  end,
}
`

func TestHost_SharedTablePayloadIsRejected(t *testing.T) {
	f := newHost(t, true)
	dir := writePlugin(t, manifest{Name: "bomber", Capabilities: []string{"plugin.storage"}},
		map[string]string{"index.lua": bombEntry})
	_, err := f.host.LoadPlugin(context.Background(), dir)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := f.host.Call(ctx, "bomber", "bomb", 40)
	require.NoError(t, err)
	assert.Contains(t, out, "value too large")
}

func TestHost_CallHonorsContext(t *testing.T) {
	f := newHost(t, true)
	dir := writePlugin(t, manifest{Name: "loop"}, map[string]string{
		"index.lua": `return { forever = function() while true do end end }`,
	})
	_, err := f.host.LoadPlugin(context.Background(), dir)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = f.host.Call(ctx, "loop", "forever")
	require.Error(t, err)

	// The plugin stays usable after a canceled call.
	assert.Equal(t, []string{"forever"}, mustPlugin(t, f.host, "loop").Exports())
}

func mustPlugin(t *testing.T, h *sandbox.Host, name string) *sandbox.Plugin {
	t.Helper()
	p, ok := h.Plugin(name)
	require.True(t, ok)
	return p
}

func TestHost_WASMPlugin(t *testing.T) {
	wasm, err := os.ReadFile(filepath.Join("host", "testdata", "guest.wasm"))
	require.NoError(t, err)

	for _, declared := range []bool{true, false} {
		f := newHost(t, true)
		ctx := context.Background()

		var caps []string
		if declared {
			caps = []string{"plugin.storage"}
		}
		dir := writePlugin(t, manifest{Name: "wasm-demo", Main: "guest.wasm", Capabilities: caps}, nil)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "guest.wasm"), wasm, 0o600))

		p, err := f.host.LoadPlugin(ctx, dir)
		require.NoError(t, err)
		assert.Equal(t, plugin.EntryWASM, p.Kind())
		assert.Equal(t, []string{"fail", "greet", "use_storage"}, p.Exports())

		_, err = f.storage.Handle(ctx, &sandbox.Call{
			Plugin:  "wasm-demo",
			Payload: map[string]any{"op": "set", "key": "greeting", "value": "hi"},
		})
		require.NoError(t, err)

		out, err := f.host.Call(ctx, "wasm-demo", "use_storage")
		require.NoError(t, err)
		if declared {
			assert.Equal(t, map[string]any{"result": "hi"}, out)
		} else {
			res := out.(map[string]any)
			assert.Contains(t, res["error"], "capability not declared in manifest")
		}

		require.NoError(t, f.host.UnloadPlugin(ctx, "wasm-demo"))
	}
}

func TestHost_Close(t *testing.T) {
	f := newHost(t, true)
	ctx := context.Background()
	_, err := f.host.LoadPlugin(ctx, demoPlugin(t))
	require.NoError(t, err)

	require.NoError(t, f.host.Close(ctx))
	assert.Empty(t, f.host.Plugins())

	_, err = f.host.LoadPlugin(ctx, demoPlugin(t))
	assert.True(t, errors.Is(err, sandbox.ErrHostClosed))
}
