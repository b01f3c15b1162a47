// Package lua provides the Lua runtime for plugins.
//
// This package wraps the gopher-lua library to provide:
//   - Sandboxed Lua state management
//   - An executor that serialises calls into a state
//   - Go-Lua value conversion
//
// # State
//
// A State opens only the package, base, table, string and math libraries.
// dofile, loadfile, load and loadstring are removed and require resolves only
// built-in libraries and modules the host allowed:
//
//	state := lua.NewState(lua.WithModules("fedi"))
//	defer state.Close()
//
//	if err := state.DoFile("main.lua"); err != nil {
//	    return err
//	}
//
// # Executor
//
// Event handlers fire on arbitrary goroutines. An Executor queues every call
// into one state and runs them in order on a single goroutine. Call installs
// the caller's context on the state, so a deadline interrupts running Lua
// code.
//
// # Bridge
//
// The Bridge converts payloads. Go structs reach Lua through their JSON form;
// Lua tables come back as maps or slices that the event catalogue decodes
// into payload structs.
package lua
