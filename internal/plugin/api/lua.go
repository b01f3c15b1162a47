package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/fedihook/internal/event"
	"github.com/dshills/fedihook/internal/event/topic"
	pluginlua "github.com/dshills/fedihook/internal/plugin/lua"
)

// ModuleName is the name plugins require the host API under.
const ModuleName = "fedi"

// Runner executes a function with exclusive access to a Lua state.
// *lua.Executor from the plugin runtime satisfies it.
type Runner interface {
	Execute(ctx context.Context, fn func(L *lua.LState) error) error
}

// Module is the fedi Lua module bound to one secure context.
//
// Lua surface:
//
//	fedi.plugin_id                       -- string
//	fedi.on(topic, fn)                   -- fn(data, event); returns subscription id
//	fedi.on_before(topic, fn)            -- fn(data, event) returns nil,
//	                                     -- {modified = tbl} or {cancel = true, reason = "..."}
//	fedi.off(id)                         -- true if the subscription was active
//	fedi.storage.get(key)                -- string or nil
//	fedi.storage.set(key, value)
//	fedi.storage.delete(key)
//	fedi.storage.keys()                  -- array of keys
//	fedi.log.debug|info|warn|error(msg, fields)
//
// Permission failures raise Lua errors, which plugins may catch with pcall.
type Module struct {
	sc     *SecureContext
	runner Runner
	table  *lua.LTable

	mu   sync.Mutex
	subs map[string]*Subscription
}

// Install registers the fedi module on L. Lua handlers subscribed through
// it are invoked via runner, so bus goroutines never touch L directly.
func Install(L *lua.LState, sc *SecureContext, runner Runner) *Module {
	m := &Module{
		sc:     sc,
		runner: runner,
		subs:   make(map[string]*Subscription),
	}

	mod := L.NewTable()
	L.SetField(mod, "plugin_id", lua.LString(sc.PluginID()))
	L.SetField(mod, "on", L.NewFunction(m.on))
	L.SetField(mod, "on_before", L.NewFunction(m.onBefore))
	L.SetField(mod, "off", L.NewFunction(m.off))

	storage := L.NewTable()
	L.SetField(storage, "get", L.NewFunction(m.storageGet))
	L.SetField(storage, "set", L.NewFunction(m.storageSet))
	L.SetField(storage, "delete", L.NewFunction(m.storageDelete))
	L.SetField(storage, "keys", L.NewFunction(m.storageKeys))
	L.SetField(mod, "storage", storage)

	log := L.NewTable()
	L.SetField(log, "debug", L.NewFunction(m.logFunc(sc.Logger().Debug)))
	L.SetField(log, "info", L.NewFunction(m.logFunc(sc.Logger().Info)))
	L.SetField(log, "warn", L.NewFunction(m.logFunc(sc.Logger().Warn)))
	L.SetField(log, "error", L.NewFunction(m.logFunc(sc.Logger().Error)))
	L.SetField(mod, "log", log)

	m.table = mod
	L.PreloadModule(ModuleName, func(L *lua.LState) int {
		L.Push(mod)
		return 1
	})
	return m
}

// Table returns the module table, the value require("fedi") yields.
func (m *Module) Table() *lua.LTable {
	return m.table
}

func luaContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func raise(L *lua.LState, err error) int {
	L.RaiseError("%s", err.Error())
	return 0
}

func (m *Module) track(s *Subscription) {
	m.mu.Lock()
	m.subs[s.ID()] = s
	m.mu.Unlock()
}

// on(topic, fn) -> id
func (m *Module) on(L *lua.LState) int {
	t := topic.Topic(L.CheckString(1))
	fn := L.CheckFunction(2)

	sub, err := m.sc.On(t, func(ctx context.Context, e event.Event) error {
		return m.runner.Execute(ctx, func(L *lua.LState) error {
			args, err := handlerArgs(L, e)
			if err != nil {
				return err
			}
			_, err = pluginlua.Call(ctx, L, fn, args...)
			return err
		})
	})
	if err != nil {
		return raise(L, err)
	}
	m.track(sub)
	L.Push(lua.LString(sub.ID()))
	return 1
}

// on_before(topic, fn) -> id
func (m *Module) onBefore(L *lua.LState) int {
	t := topic.Topic(L.CheckString(1))
	fn := L.CheckFunction(2)

	sub, err := m.sc.OnBefore(t, func(ctx context.Context, e event.Event) (event.Decision, error) {
		decision := event.Continue()
		err := m.runner.Execute(ctx, func(L *lua.LState) error {
			args, err := handlerArgs(L, e)
			if err != nil {
				return err
			}
			out, err := pluginlua.Call(ctx, L, fn, args...)
			if err != nil {
				return err
			}
			if len(out) == 0 {
				return nil
			}
			decision, err = toDecision(L, out[0])
			return err
		})
		return decision, err
	})
	if err != nil {
		return raise(L, err)
	}
	m.track(sub)
	L.Push(lua.LString(sub.ID()))
	return 1
}

// toDecision interprets a before handler's return value.
func toDecision(L *lua.LState, lv lua.LValue) (event.Decision, error) {
	switch v := lv.(type) {
	case *lua.LNilType:
		return event.Continue(), nil
	case *lua.LTable:
		if pluginlua.TableBool(v, "cancel") {
			reason, _ := pluginlua.TableString(v, "reason")
			return event.Cancel(reason), nil
		}
		if mod := v.RawGetString("modified"); mod != lua.LNil {
			return event.Modify(pluginlua.NewBridge(L).ToGo(mod)), nil
		}
		return event.Continue(), nil
	default:
		return event.Decision{}, fmt.Errorf("before handler returned %s, want nil or table", lv.Type())
	}
}

// handlerArgs builds (data, event) for a Lua handler.
func handlerArgs(L *lua.LState, e event.Event) ([]lua.LValue, error) {
	data, err := pluginlua.NewBridge(L).ToLua(e.Data)
	if err != nil {
		return nil, err
	}
	meta := L.NewTable()
	meta.RawSetString("id", lua.LString(e.ID))
	meta.RawSetString("topic", lua.LString(e.Topic))
	meta.RawSetString("timestamp", lua.LString(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	return []lua.LValue{data, meta}, nil
}

// off(id) -> bool
func (m *Module) off(L *lua.LState) int {
	id := L.CheckString(1)

	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}
	m.mu.Unlock()

	if !ok {
		L.Push(lua.LFalse)
		return 1
	}
	removed, err := m.sc.Off(sub)
	if err != nil {
		return raise(L, err)
	}
	L.Push(lua.LBool(removed))
	return 1
}

// storage.get(key) -> string|nil
func (m *Module) storageGet(L *lua.LState) int {
	v, ok, err := m.sc.Storage().Get(luaContext(L), L.CheckString(1))
	if err != nil {
		return raise(L, err)
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(v))
	return 1
}

// storage.set(key, value)
func (m *Module) storageSet(L *lua.LState) int {
	key := L.CheckString(1)
	value := L.CheckString(2)
	if err := m.sc.Storage().Set(luaContext(L), key, []byte(value)); err != nil {
		return raise(L, err)
	}
	return 0
}

// storage.delete(key)
func (m *Module) storageDelete(L *lua.LState) int {
	if err := m.sc.Storage().Delete(luaContext(L), L.CheckString(1)); err != nil {
		return raise(L, err)
	}
	return 0
}

// storage.keys() -> {key, ...}
func (m *Module) storageKeys(L *lua.LState) int {
	keys, err := m.sc.Storage().Keys(luaContext(L))
	if err != nil {
		return raise(L, err)
	}
	t := L.NewTable()
	for i, k := range keys {
		t.RawSetInt(i+1, lua.LString(k))
	}
	L.Push(t)
	return 1
}

// logFunc adapts a Logger method to log.<level>(msg, fields).
func (m *Module) logFunc(write func(string, map[string]any) error) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		var fields map[string]any
		if t, ok := L.Get(2).(*lua.LTable); ok {
			if f, ok := pluginlua.NewBridge(L).ToGo(t).(map[string]any); ok {
				fields = f
			}
		}
		if err := write(msg, fields); err != nil {
			return raise(L, err)
		}
		return 0
	}
}
