package lua

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// DefaultCallStackSize bounds Lua recursion depth.
const DefaultCallStackSize = 256

// State wraps a sandboxed gopher-lua state.
//
// gopher-lua's LState is not goroutine-safe. State serialises access with a
// mutex; code that calls into a plugin from many goroutines should go through
// an Executor so calls are queued in order.
type State struct {
	L *lua.LState

	mu      sync.Mutex
	sandbox *Sandbox
	closed  bool
}

// StateOption configures a State.
type StateOption func(*stateConfig)

type stateConfig struct {
	modules       []string
	print         func(string)
	callStackSize int
}

// WithModules allows require() to load the given preloaded modules.
func WithModules(names ...string) StateOption {
	return func(c *stateConfig) {
		c.modules = append(c.modules, names...)
	}
}

// WithPrint redirects the Lua print function.
func WithPrint(fn func(string)) StateOption {
	return func(c *stateConfig) {
		c.print = fn
	}
}

// WithCallStackSize sets the maximum call depth.
func WithCallStackSize(n int) StateOption {
	return func(c *stateConfig) {
		if n > 0 {
			c.callStackSize = n
		}
	}
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...StateOption) *State {
	cfg := stateConfig{callStackSize: DefaultCallStackSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: cfg.callStackSize,
	})
	openSafeLibraries(L)

	sandbox := NewSandbox(L)
	sandbox.Allow(cfg.modules...)
	sandbox.SetPrint(cfg.print)
	sandbox.Install()

	return &State{L: L, sandbox: sandbox}
}

// openSafeLibraries opens only safe Lua standard libraries.
// The package library is needed for require and preloaded modules; the sandbox
// strips its file loaders.
func openSafeLibraries(L *lua.LState) {
	lua.OpenPackage(L)
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Not opened: io, os, debug, channel, coroutine.
}

// Do runs fn with exclusive access to the Lua state. Panics raised by fn
// are returned as errors.
func (s *State) Do(fn func(L *lua.LState) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn(s.L)
}

// DoFile executes a Lua file.
func (s *State) DoFile(path string) error {
	return s.Do(func(L *lua.LState) error {
		return L.DoFile(path)
	})
}

// DoString executes a Lua string.
func (s *State) DoString(code string) error {
	return s.Do(func(L *lua.LState) error {
		return L.DoString(code)
	})
}

// HasFunction reports whether a global function with the given name exists.
func (s *State) HasFunction(name string) bool {
	var ok bool
	_ = s.Do(func(L *lua.LState) error {
		ok = L.GetGlobal(name).Type() == lua.LTFunction
		return nil
	})
	return ok
}

// CallGlobal calls a global Lua function. ctx bounds the execution: once it is
// done the running Lua code raises an error.
func (s *State) CallGlobal(ctx context.Context, name string, args ...lua.LValue) ([]lua.LValue, error) {
	var out []lua.LValue
	err := s.Do(func(L *lua.LState) error {
		fn, ok := L.GetGlobal(name).(*lua.LFunction)
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotFunction, name)
		}
		var err error
		out, err = Call(ctx, L, fn, args...)
		return err
	})
	return out, err
}

// Call invokes fn on L with ctx installed as the state's context. It must run
// on the goroutine that currently owns L, such as inside State.Do or an
// Executor task. An empty slice is returned when fn returns nothing.
func Call(ctx context.Context, L *lua.LState, fn *lua.LFunction, args ...lua.LValue) ([]lua.LValue, error) {
	if ctx != nil {
		prev := L.Context()
		L.SetContext(ctx)
		defer func() {
			if prev != nil {
				L.SetContext(prev)
			} else {
				L.RemoveContext()
			}
		}()
	}

	top := L.GetTop()
	L.Push(fn)
	for _, arg := range args {
		L.Push(arg)
	}
	if err := L.PCall(len(args), lua.MultRet, nil); err != nil {
		L.SetTop(top)
		return nil, err
	}

	n := L.GetTop() - top
	if n <= 0 {
		return []lua.LValue{}, nil
	}
	results := make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		results[i] = L.Get(top + i + 1)
	}
	L.Pop(n)
	return results, nil
}

// Sandbox returns the sandbox installed on the state.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. Later calls return ErrStateClosed.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.Close()
	s.closed = true
}
