package script

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/broker/internal/logging"
)

// newState creates a Lua state with only the safe standard libraries.
func newState(log *logging.Logger) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// io, os, debug and package stay closed.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}

	installPrint(L, log)
	return L
}

// installPrint routes print to the script logger.
func installPrint(L *lua.LState, log *logging.Logger) {
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		log.Info("%s", strings.Join(parts, "\t"))
		return 0
	}))
}
