package worker

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/tuff-dev/tuff-sandbox/luaval"
)

// ModuleName is the id plugins require.
const ModuleName = "worker"

const handleTypeName = "tuff.worker"

// SpawnHook observes every worker created through a Module. An error
// terminates the worker and is raised in the calling Lua code.
type SpawnHook func(w *Worker) error

// Module is the Lua binding of Spawn:
//
//	local Worker = require("worker")
//	local w = Worker.new(source, data)
//	w:id(); w:running(); w:terminate(); w:wait()
type Module struct {
	newState func() *lua.LState
	hooks    []SpawnHook
	base     context.Context
}

// ModuleOption configures a Module.
type ModuleOption func(*Module)

// WithSpawnHook adds a hook run after each spawn.
func WithSpawnHook(h SpawnHook) ModuleOption {
	return func(m *Module) { m.hooks = append(m.hooks, h) }
}

// WithBaseContext parents spawned workers to ctx instead of the calling
// state's context, so they outlive the call that created them.
func WithBaseContext(ctx context.Context) ModuleOption {
	return func(m *Module) { m.base = ctx }
}

// NewModule creates the binding. newState builds worker states; nil means
// lua.NewState.
func NewModule(newState func() *lua.LState, opts ...ModuleOption) *Module {
	m := &Module{newState: newState}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the module id.
func (m *Module) Name() string { return ModuleName }

// Open builds the module table in L.
func (m *Module) Open(L *lua.LState) lua.LValue {
	mt := L.NewTypeMetatable(handleTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"id":        handleID,
		"running":   handleRunning,
		"terminate": handleTerminate,
		"wait":      handleWait,
	}))
	L.SetField(mt, "__tostring", L.NewFunction(handleString))

	mod := L.NewTable()
	L.SetField(mod, "new", L.NewFunction(m.spawn))
	return mod
}

// spawn implements Worker.new(source, data).
func (m *Module) spawn(L *lua.LState) int {
	src := L.CheckString(1)
	data, err := luaval.ToGo(L.Get(2))
	if err != nil {
		L.ArgError(2, err.Error())
		return 0
	}

	ctx := m.base
	if ctx == nil {
		ctx = L.Context()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	w, err := Spawn(ctx, Options{Source: src, Data: data, NewState: m.newState})
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	for _, h := range m.hooks {
		if err := h(w); err != nil {
			w.Terminate()
			L.RaiseError("%s", err.Error())
			return 0
		}
	}

	ud := L.NewUserData()
	ud.Value = w
	L.SetMetatable(ud, L.GetTypeMetatable(handleTypeName))
	L.Push(ud)
	return 1
}

func checkWorker(L *lua.LState) *Worker {
	ud := L.CheckUserData(1)
	if w, ok := ud.Value.(*Worker); ok {
		return w
	}
	L.ArgError(1, "worker expected")
	return nil
}

func handleID(L *lua.LState) int {
	L.Push(lua.LString(checkWorker(L).ID()))
	return 1
}

func handleRunning(L *lua.LState) int {
	L.Push(lua.LBool(checkWorker(L).Running()))
	return 1
}

func handleTerminate(L *lua.LState) int {
	checkWorker(L).Terminate()
	return 0
}

// handleWait returns the exit code and, on failure, the error message.
func handleWait(L *lua.LState) int {
	w := checkWorker(L)
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	code, err := w.Wait(ctx)
	L.Push(lua.LNumber(code))
	if err != nil {
		L.Push(lua.LString(err.Error()))
		return 2
	}
	return 1
}

func handleString(L *lua.LState) int {
	L.Push(lua.LString("worker: " + checkWorker(L).ID()))
	return 1
}
