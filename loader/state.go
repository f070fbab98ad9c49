package loader

import (
	lua "github.com/yuin/gopher-lua"
)

// openLibs are the standard libraries a plugin state gets. io, os, debug
// and channel are withheld.
var openLibs = []struct {
	name string
	fn   lua.LGFunction
}{
	{lua.LoadLibName, lua.OpenPackage},
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
	{lua.CoroutineLibName, lua.OpenCoroutine},
}

// removedGlobals reach the file system from the base library.
var removedGlobals = []string{"dofile", "loadfile"}

// NewState builds an isolated state for the plugin. require in the state
// only finds the modules this loader can satisfy; the search path for
// files is empty.
func (l *Loader) NewState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range openLibs {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		L.SetField(pkg, "path", lua.LString(""))
		L.SetField(pkg, "cpath", lua.LString(""))
	}

	for _, id := range l.IDs() {
		L.PreloadModule(id, l.preload(id))
	}
	return L
}

// preload resolves id at require time so a Forget between states is honored.
func (l *Loader) preload(id string) lua.LGFunction {
	return func(L *lua.LState) int {
		m, err := l.Require(id)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(m.Open(L))
		return 1
	}
}
