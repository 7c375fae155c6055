package lua

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// removedGlobals are base functions that load or run code outside the
// unit's own source.
var removedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
}

// builtinModules may always be required.
var builtinModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// Sandbox restricts what Lua code can reach.
type Sandbox struct {
	L *lua.LState

	preloaded map[string]bool
}

// NewSandbox creates a new sandbox for the Lua state.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{
		L:         L,
		preloaded: make(map[string]bool),
	}
}

// Install removes dangerous globals and replaces require with a
// whitelisting version.
func (s *Sandbox) Install() {
	for _, name := range removedGlobals {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installSafeRequire()
}

// Preload makes a Go-implemented module available to require.
func (s *Sandbox) Preload(name string, loader lua.LGFunction) {
	s.L.PreloadModule(name, loader)
	s.preloaded[name] = true
}

// RedirectPrint replaces print so that each call produces one line passed
// to fn. Arguments are converted with tostring and joined by tabs.
func (s *Sandbox) RedirectPrint(fn func(string)) {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		fn(strings.Join(parts, "\t"))
		return 0
	}))
}

// installSafeRequire clears the package search paths and replaces require
// so only builtin and preloaded modules resolve.
func (s *Sandbox) installSafeRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
	}

	originalRequire := s.L.GetGlobal("require")
	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !builtinModules[name] && !s.preloaded[name] {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(originalRequire)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}
