package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/fedihook/internal/plugin/api"
	plua "github.com/dshills/fedihook/internal/plugin/lua"
)

// Instance is a running plugin as the manager sees it.
type Instance interface {
	// Activate starts the plugin. sc is the only host object it may use.
	Activate(ctx context.Context, sc *api.SecureContext) error

	// Deactivate gives the plugin a chance to clean up. Its subscriptions
	// are removed by the manager right after.
	Deactivate(ctx context.Context) error
}

// Releaser is implemented by instances holding resources that must outlive
// Deactivate until the plugin's subscriptions are gone.
type Releaser interface {
	Release()
}

// Default host settings.
const (
	DefaultCallTimeout = 5 * time.Second
	defaultQueueSize   = 64
)

// Host runs a Lua plugin. Loading the main file and calling its global
// activate(fedi, config) function happen in Activate; deactivate() is called
// on Deactivate when defined.
type Host struct {
	mu sync.Mutex

	manifest *Manifest
	logger   zerolog.Logger
	timeout  time.Duration

	state  *plua.State
	exec   *plua.Executor
	module *api.Module
	cancel context.CancelFunc
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostCallTimeout bounds how long activate and deactivate may run.
func WithHostCallTimeout(d time.Duration) HostOption {
	return func(h *Host) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithHostLogger sets the logger for print output and host diagnostics.
func WithHostLogger(l zerolog.Logger) HostOption {
	return func(h *Host) {
		h.logger = l
	}
}

// NewHost creates a new plugin host for the given manifest.
func NewHost(manifest *Manifest, opts ...HostOption) (*Host, error) {
	if manifest == nil {
		return nil, ErrNilManifest
	}
	h := &Host{
		manifest: manifest,
		logger:   zerolog.Nop(),
		timeout:  DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With().Str("plugin_id", manifest.ID).Logger()
	return h, nil
}

// Manifest returns the plugin manifest.
func (h *Host) Manifest() *Manifest {
	return h.manifest
}

// Activate implements Instance.
func (h *Host) Activate(ctx context.Context, sc *api.SecureContext) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != nil {
		return ErrAlreadyLoaded
	}

	state := plua.NewState(
		plua.WithModules(api.ModuleName),
		plua.WithPrint(func(line string) {
			h.logger.Debug().Str("source", "print").Msg(line)
		}),
	)
	exec := plua.NewExecutor(state, defaultQueueSize)
	runCtx, cancel := context.WithCancel(context.Background())
	go exec.Run(runCtx)

	h.state, h.exec, h.cancel = state, exec, cancel
	h.module = api.Install(state.L, sc, exec)

	callCtx, done := context.WithTimeout(ctx, h.timeout)
	defer done()

	err := exec.Execute(callCtx, func(L *lua.LState) error {
		// Bound top-level script code as well as the activate call.
		L.SetContext(callCtx)
		defer L.RemoveContext()

		if err := L.DoFile(h.manifest.MainPath()); err != nil {
			return fmt.Errorf("load %s: %w", h.manifest.Main, err)
		}
		fn, ok := L.GetGlobal("activate").(*lua.LFunction)
		if !ok {
			return nil // activate is optional
		}
		config, err := plua.NewBridge(L).ToLua(h.manifest.Config)
		if err != nil {
			return err
		}
		if _, err := plua.Call(callCtx, L, fn, h.module.Table(), config); err != nil {
			return fmt.Errorf("activate: %w", err)
		}
		return nil
	})
	if err != nil {
		h.releaseLocked()
		return err
	}
	return nil
}

// Deactivate implements Instance.
func (h *Host) Deactivate(ctx context.Context) error {
	h.mu.Lock()
	exec := h.exec
	h.mu.Unlock()

	if exec == nil {
		return nil
	}

	callCtx, done := context.WithTimeout(ctx, h.timeout)
	defer done()

	return exec.Execute(callCtx, func(L *lua.LState) error {
		fn, ok := L.GetGlobal("deactivate").(*lua.LFunction)
		if !ok {
			return nil // deactivate is optional
		}
		if _, err := plua.Call(callCtx, L, fn); err != nil {
			return fmt.Errorf("deactivate: %w", err)
		}
		return nil
	})
}

// Release implements Releaser. It stops the executor and closes the Lua
// state.
func (h *Host) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releaseLocked()
}

func (h *Host) releaseLocked() {
	if h.exec != nil {
		h.exec.Close()
		h.exec = nil
	}
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	if h.state != nil {
		h.state.Close()
		h.state = nil
	}
	h.module = nil
}

var (
	_ Instance = (*Host)(nil)
	_ Releaser = (*Host)(nil)
)
