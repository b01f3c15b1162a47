package lua

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// builtinModules are the standard libraries require may return.
var builtinModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// Sandbox restricts what plugin code can reach. Plugins get the safe standard
// libraries and the modules the host preloads for them; nothing that touches
// files, processes or the network.
type Sandbox struct {
	L *lua.LState

	modules map[string]bool
	print   func(string)
}

// NewSandbox creates a sandbox for the Lua state.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{
		L:       L,
		modules: make(map[string]bool),
	}
}

// Allow lets require load the named preloaded modules. Call before Install.
func (s *Sandbox) Allow(names ...string) {
	for _, n := range names {
		if n != "" {
			s.modules[n] = true
		}
	}
}

// SetPrint redirects print output. A nil function discards it.
func (s *Sandbox) SetPrint(fn func(string)) {
	s.print = fn
}

// Allowed reports whether require may load the module.
func (s *Sandbox) Allowed(name string) bool {
	return builtinModules[name] || s.modules[name]
}

// Install sets up the sandbox restrictions.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "module"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installPrint()
	s.installRequire()
}

func (s *Sandbox) installPrint() {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		if s.print == nil {
			return 0
		}
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
		}
		s.print(strings.Join(parts, "\t"))
		return 0
	}))
}

// installRequire replaces require with a whitelist. package.path and
// package.cpath are cleared so nothing can be loaded from disk, and only
// preloaded or built-in modules resolve.
func (s *Sandbox) installRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))

		if loaded, ok := s.L.GetField(pkg, "loaded").(*lua.LTable); ok {
			var drop []string
			loaded.ForEach(func(k, _ lua.LValue) {
				if ks, ok := k.(lua.LString); ok {
					name := string(ks)
					if name != "_G" && name != "package" && !builtinModules[name] {
						drop = append(drop, name)
					}
				}
			})
			for _, name := range drop {
				loaded.RawSetString(name, lua.LNil)
			}
		}
	}

	original := s.L.GetGlobal("require")
	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !s.Allowed(name) {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(original)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}
