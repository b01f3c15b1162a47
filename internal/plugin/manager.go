package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/fedihook/internal/event"
	"github.com/dshills/fedihook/internal/event/events"
	"github.com/dshills/fedihook/internal/event/topic"
	"github.com/dshills/fedihook/internal/plugin/api"
	"github.com/dshills/fedihook/internal/plugin/security"
)

// Observer receives lifecycle transitions, typically for metrics.
// Implementations must not call back into the Manager.
type Observer interface {
	PluginTransition(pluginID string, from, to State)
}

// Info is a snapshot of one plugin's lifecycle.
type Info struct {
	ID      string
	Version string
	State   State
	Builtin bool

	// Err is the error that moved the plugin to Rejected or Failed.
	Err error

	// Permissions is the grant the plugin runs with while active.
	Permissions []security.Permission

	// History is every transition the plugin went through, oldest first.
	History []Transition
}

// record is the manager's entry for one plugin id.
type record struct {
	lifecycle

	manifest *Manifest
	builtin  bool
	err      error

	instance Instance
	sc       *api.SecureContext
	lease    *api.Lease
}

func (r *record) info() Info {
	info := Info{
		State:   r.state,
		Builtin: r.builtin,
		Err:     r.err,
		History: append([]Transition(nil), r.history...),
	}
	if r.manifest != nil {
		info.ID = r.manifest.ID
		info.Version = r.manifest.Version
	}
	if r.sc != nil && r.state == StateActive {
		info.Permissions = r.sc.Permissions()
	}
	return info
}

// builtin is a Go-native plugin registered with RegisterBuiltin.
type builtin struct {
	manifest *Manifest
	instance Instance
}

// Manager drives plugins through their lifecycle.
//
// Load walks Discovered -> ManifestValidated -> PermissionsGranted -> Active,
// stopping at Rejected when the grant is refused or Failed on any other error.
// Unload and Reload remove all of the plugin's subscriptions before its
// secure context is torn down.
//
// The plugin table is guarded by mu. Lifecycle operations are serialised by
// ops so a reload never interleaves with an unload of the same plugin.
type Manager struct {
	ops sync.Mutex
	mu  sync.RWMutex

	plugins  map[string]*record
	order    []string
	builtins map[string]builtin

	loader      *Loader
	bus         *event.Bus
	permissions *security.Manager
	factory     *api.Factory
	logger      zerolog.Logger
	observer    Observer
	hostOpts    []HostOption
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithObserver sets a lifecycle observer.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithHostOptions sets options applied to every Lua host.
func WithHostOptions(opts ...HostOption) ManagerOption {
	return func(m *Manager) {
		m.hostOpts = append(m.hostOpts, opts...)
	}
}

// NewManager creates a new plugin manager.
func NewManager(loader *Loader, bus *event.Bus, permissions *security.Manager, factory *api.Factory, opts ...ManagerOption) *Manager {
	m := &Manager{
		plugins:     make(map[string]*record),
		builtins:    make(map[string]builtin),
		loader:      loader,
		bus:         bus,
		permissions: permissions,
		factory:     factory,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "plugin-manager").Logger()
	return m
}

// RegisterBuiltin registers a Go-native plugin. It goes through the same
// lifecycle and permission checks as a Lua plugin once loaded.
func (m *Manager) RegisterBuiltin(manifest *Manifest, inst Instance) error {
	if manifest == nil {
		return ErrNilManifest
	}
	if inst == nil {
		return fmt.Errorf("builtin %q: nil instance", manifest.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.builtins[manifest.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, manifest.ID)
	}
	clone := manifest.Clone()
	clone.applyDefaults()
	m.builtins[manifest.ID] = builtin{manifest: clone, instance: inst}
	return nil
}

// Loader returns the plugin loader.
func (m *Manager) Loader() *Loader {
	return m.loader
}

// Load discovers, validates, grants and activates one plugin.
func (m *Manager) Load(ctx context.Context, id string) (Info, error) {
	m.ops.Lock()
	defer m.ops.Unlock()
	return m.load(ctx, id)
}

func (m *Manager) load(ctx context.Context, id string) (Info, error) {
	m.mu.RLock()
	existing, exists := m.plugins[id]
	var current Info
	if exists {
		current = existing.info()
	}
	m.mu.RUnlock()
	if exists && !current.State.IsTerminal() {
		return current, fmt.Errorf("plugin %q: %w", id, ErrAlreadyLoaded)
	}

	res, err := m.resolve(id)
	if errors.Is(err, ErrPluginNotFound) {
		return Info{ID: id}, err
	}
	rec := &record{manifest: res.manifest, builtin: res.builtin, instance: res.instance}
	rec.state = StateDiscovered
	m.put(id, rec)
	if err != nil {
		return m.fail(rec, id, err)
	}

	if err := m.transition(rec, id, StateManifestValidated); err != nil {
		return rec.info(), err
	}
	return m.activate(ctx, rec, id)
}

// resolved is what resolve found for a plugin id. It is committed to the
// record under mu.
type resolved struct {
	manifest *Manifest
	builtin  bool
	instance Instance
}

// resolve finds the manifest and instance of id. The manifest may be set even
// when an error is returned, so a broken plugin still reports its id.
func (m *Manager) resolve(id string) (resolved, error) {
	m.mu.RLock()
	b, isBuiltin := m.builtins[id]
	m.mu.RUnlock()

	if isBuiltin {
		return resolved{manifest: b.manifest, builtin: true, instance: b.instance}, b.manifest.Validate()
	}

	if m.loader == nil {
		return resolved{}, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	info, err := m.loader.Find(id)
	if err != nil {
		return resolved{}, err
	}
	if info.Error != nil {
		return resolved{manifest: &Manifest{ID: id}}, info.Error
	}
	host, err := NewHost(info.Manifest, append([]HostOption{WithHostLogger(m.logger)}, m.hostOpts...)...)
	if err != nil {
		return resolved{manifest: info.Manifest}, err
	}
	return resolved{manifest: info.Manifest, instance: host}, nil
}

// commit stores res on rec. A missing manifest keeps the previous one.
func (m *Manager) commit(rec *record, res resolved) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res.manifest != nil {
		rec.manifest = res.manifest
	}
	rec.builtin = res.builtin
	rec.instance = res.instance
	rec.err = nil
}

// activate runs ManifestValidated -> PermissionsGranted -> Active.
func (m *Manager) activate(ctx context.Context, rec *record, id string) (Info, error) {
	grant, err := m.permissions.ValidateAndGrant(ctx, id, rec.manifest.Permissions)
	if err != nil {
		rejected := fmt.Errorf("%w: %w", ErrRejected, err)
		if terr := m.end(rec, id, StateRejected, rejected); terr != nil {
			return rec.info(), terr
		}
		m.logger.Warn().Err(err).Str("plugin_id", id).Msg("plugin rejected")
		return rec.info(), fmt.Errorf("plugin %q: %w", id, rejected)
	}
	if err := m.transition(rec, id, StatePermissionsGranted); err != nil {
		return rec.info(), err
	}

	sc, lease, err := m.factory.Create(id, grant)
	if err != nil {
		m.permissions.Remove(ctx, id)
		return m.fail(rec, id, err)
	}
	if err := rec.instance.Activate(ctx, sc); err != nil {
		lease.Close()
		m.release(rec)
		m.permissions.Remove(ctx, id)
		return m.fail(rec, id, err)
	}

	m.mu.Lock()
	rec.sc, rec.lease = sc, lease
	m.mu.Unlock()

	if err := m.transition(rec, id, StateActive); err != nil {
		return rec.info(), err
	}
	m.logger.Info().
		Str("plugin_id", id).
		Str("version", rec.manifest.Version).
		Strs("permissions", rec.manifest.Permissions).
		Msg("plugin active")
	if risky := highRisk(grant); len(risky) > 0 {
		m.logger.Warn().Str("plugin_id", id).Strs("permissions", risky).Msg("plugin holds high-risk permissions")
	}

	m.emit(ctx, events.PluginAfterActivate, events.PluginLifecycle{
		PluginID: id,
		Version:  rec.manifest.Version,
		State:    StateActive.String(),
	})
	return rec.info(), nil
}

// LoadAll loads every registered builtin and every discovered plugin that is
// not already active. Failures are collected; one plugin failing does not stop
// the rest.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	m.mu.RLock()
	ids := make([]string, 0, len(m.builtins))
	for id := range m.builtins {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	if m.loader != nil {
		discovered, err := m.loader.Discover()
		if err != nil {
			return err
		}
		for _, info := range discovered {
			ids = append(ids, info.ID)
		}
	}

	var loadErrors []error
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if m.isActive(id) {
			continue
		}
		if _, err := m.load(ctx, id); err != nil {
			loadErrors = append(loadErrors, err)
		}
	}

	if len(loadErrors) > 0 {
		return fmt.Errorf("failed to load %d plugins: %w", len(loadErrors), errors.Join(loadErrors...))
	}
	return nil
}

// Unload deactivates a plugin, removes all of its subscriptions and tears
// down its secure context.
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.ops.Lock()
	defer m.ops.Unlock()
	return m.unload(ctx, id, "unload")
}

func (m *Manager) unload(ctx context.Context, id, reason string) error {
	rec, err := m.active(id)
	if err != nil {
		return err
	}

	m.teardown(ctx, rec, id)
	if err := m.transition(rec, id, StateUnloaded); err != nil {
		return err
	}
	m.logger.Info().Str("plugin_id", id).Str("reason", reason).Msg("plugin unloaded")

	m.emit(ctx, events.PluginAfterUnload, events.PluginLifecycle{
		PluginID: id,
		Version:  rec.manifest.Version,
		State:    StateUnloaded.String(),
		Reason:   reason,
	})
	return nil
}

// UnloadAll unloads all active plugins in reverse load order.
func (m *Manager) UnloadAll(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	m.mu.RLock()
	ids := make([]string, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if r := m.plugins[m.order[i]]; r != nil && r.state == StateActive {
			ids = append(ids, m.order[i])
		}
	}
	m.mu.RUnlock()

	var unloadErrors []error
	for _, id := range ids {
		if err := m.unload(ctx, id, "shutdown"); err != nil {
			unloadErrors = append(unloadErrors, fmt.Errorf("%s: %w", id, err))
		}
	}

	if len(unloadErrors) > 0 {
		return fmt.Errorf("failed to unload %d plugins: %w", len(unloadErrors), errors.Join(unloadErrors...))
	}
	return nil
}

// Reload tears an active plugin down and loads it again from a fresh
// manifest: Active -> Reloading -> ManifestValidated -> ... -> Active.
func (m *Manager) Reload(ctx context.Context, id string) (Info, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	rec, err := m.active(id)
	if err != nil {
		return Info{ID: id}, err
	}
	if err := m.transition(rec, id, StateReloading); err != nil {
		return rec.info(), err
	}
	m.teardown(ctx, rec, id)
	m.emit(ctx, events.PluginAfterUnload, events.PluginLifecycle{
		PluginID: id,
		Version:  rec.manifest.Version,
		State:    StateReloading.String(),
		Reason:   "reload",
	})

	res, err := m.resolve(id)
	m.commit(rec, res)
	if err != nil {
		return m.fail(rec, id, err)
	}
	if err := m.transition(rec, id, StateManifestValidated); err != nil {
		return rec.info(), err
	}
	return m.activate(ctx, rec, id)
}

// teardown runs the plugin's deactivate hook, removes its subscriptions and
// closes its context, then releases the runtime and the grant, in that order.
func (m *Manager) teardown(ctx context.Context, rec *record, id string) {
	if rec.instance != nil {
		if err := rec.instance.Deactivate(ctx); err != nil {
			m.logger.Warn().Err(err).Str("plugin_id", id).Msg("deactivate failed")
		}
	}

	m.mu.Lock()
	lease := rec.lease
	rec.sc, rec.lease = nil, nil
	m.mu.Unlock()

	if lease != nil {
		n := lease.Close()
		m.logger.Debug().Str("plugin_id", id).Int("subscriptions", n).Msg("subscriptions removed")
	}
	m.release(rec)
	m.permissions.Remove(ctx, id)
}

func (m *Manager) release(rec *record) {
	if r, ok := rec.instance.(Releaser); ok {
		r.Release()
	}
}

// Get returns a snapshot of a plugin.
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.plugins[id]
	if !ok {
		return Info{}, false
	}
	return rec.info(), true
}

// List returns snapshots of all known plugins, in first-load order.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.order))
	for _, id := range m.order {
		if rec, ok := m.plugins[id]; ok {
			out = append(out, rec.info())
		}
	}
	return out
}

// CountActive returns the number of active plugins.
func (m *Manager) CountActive() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, rec := range m.plugins {
		if rec.state == StateActive {
			count++
		}
	}
	return count
}

func (m *Manager) isActive(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.plugins[id]
	return ok && rec.state == StateActive
}

func (m *Manager) active(id string) (*record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.plugins[id]
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	if rec.state != StateActive {
		return nil, fmt.Errorf("plugin %q is %s: %w", id, rec.state, ErrNotActive)
	}
	return rec, nil
}

// put stores rec as the current record of id.
func (m *Manager) put(id string, rec *record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plugins[id]; !exists {
		m.order = append(m.order, id)
	}
	m.plugins[id] = rec
}

// transition moves rec to next. Record fields are only written under mu and
// only by the goroutine holding ops, so that goroutine may read them unlocked.
func (m *Manager) transition(rec *record, id string, next State) error {
	return m.end(rec, id, next, nil)
}

// end moves rec to next and sets its error in the same critical section.
func (m *Manager) end(rec *record, id string, next State, cause error) error {
	m.mu.Lock()
	from := rec.state
	err := rec.to(next)
	if err == nil && cause != nil {
		rec.err = cause
	}
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("plugin %q: %w", id, err)
	}
	m.notify(id, from, next)
	return nil
}

// fail moves rec to Failed and returns err.
func (m *Manager) fail(rec *record, id string, err error) (Info, error) {
	if terr := m.end(rec, id, StateFailed, err); terr != nil {
		return rec.info(), errors.Join(err, terr)
	}
	m.logger.Error().Err(err).Str("plugin_id", id).Msg("plugin failed")
	return rec.info(), fmt.Errorf("plugin %q failed: %w", id, err)
}

// highRisk lists the granted permissions of tier High or above.
func highRisk(g *security.Grant) []string {
	var out []string
	for _, p := range security.PermissionsAtOrAbove(security.RiskHigh) {
		if g.Has(p) {
			out = append(out, string(p))
		}
	}
	return out
}

func (m *Manager) notify(id string, from, to State) {
	if m.observer != nil {
		m.observer.PluginTransition(id, from, to)
	}
}

func (m *Manager) emit(ctx context.Context, k topic.Key[events.PluginLifecycle], payload events.PluginLifecycle) {
	if m.bus == nil {
		return
	}
	if err := event.Emit(ctx, m.bus, k, payload); err != nil {
		m.logger.Error().Err(err).Str("topic", string(k.Topic())).Msg("emit lifecycle event")
	}
}
