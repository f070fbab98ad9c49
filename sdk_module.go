package sandbox

import (
	"context"
	"log/slog"

	lua "github.com/yuin/gopher-lua"

	"github.com/tuff-dev/tuff-sandbox/luaval"
	"github.com/tuff-dev/tuff-sandbox/plugin"
	"github.com/tuff-dev/tuff-sandbox/wazero"
)

// SDKModuleName is the id of the plugin SDK module.
const SDKModuleName = "tuff"

// PluginMetaPrefix is prepended to every metadata key a plugin passes to
// tuff.invoke, so classifier rules can tell plugin claims from host facts.
const PluginMetaPrefix = "plugin."

// sdkModule is the plugin-facing SDK, bound to one plugin:
//
//	local tuff = require("tuff")
//	local value, err = tuff.invoke("plugin.storage", { op = "get", key = "k" })
//	tuff.log("info", "hello")
type sdkModule struct {
	plugin   string
	handlers *HandlerRegistry
	decls    Declarations
	logger   *slog.Logger
}

func (m *sdkModule) Name() string { return SDKModuleName }

func (m *sdkModule) Open(L *lua.LState) lua.LValue {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"invoke":       m.invoke,
		"capabilities": m.capabilities,
		"log":          m.log,
	})
	L.SetField(mod, "plugin", lua.LString(m.plugin))
	L.SetField(mod, "sdkapi", lua.LNumber(plugin.CurrentSDKAPI))
	return mod
}

// invoke implements tuff.invoke(id, payload[, meta]). It returns the
// result, or nil and an error message. Meta keys reach the classifier
// under PluginMetaPrefix.
func (m *sdkModule) invoke(L *lua.LState) int {
	id := L.CheckString(1)
	payload, err := luaval.ToGo(L.Get(2))
	if err != nil {
		L.ArgError(2, err.Error())
		return 0
	}

	var meta map[string]string
	if t, ok := L.Get(3).(*lua.LTable); ok {
		meta = make(map[string]string)
		t.ForEach(func(k, v lua.LValue) {
			meta[PluginMetaPrefix+k.String()] = v.String()
		})
	}

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := m.handlers.Dispatch(ctx, &Call{Plugin: m.plugin, Capability: id, Payload: payload, Meta: meta})
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	v, err := luaval.FromGo(L, res)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(v)
	return 1
}

// capabilities returns the ids declared in the plugin's manifest.
func (m *sdkModule) capabilities(L *lua.LState) int {
	ids, _ := m.decls.Declared(m.plugin)
	t := L.CreateTable(len(ids), 0)
	for _, id := range ids {
		t.Append(lua.LString(id))
	}
	L.Push(t)
	return 1
}

func (m *sdkModule) log(L *lua.LState) int {
	level := wazero.ParseLogLevel(L.CheckString(1))
	msg := L.CheckString(2)
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	m.logger.Log(ctx, level, msg, "plugin", m.plugin)
	return 0
}
