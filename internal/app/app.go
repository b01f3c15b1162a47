// Package app wires fedihook together and implements the host operations
// that plugins hook into.
package app

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/fedihook/internal/config"
	"github.com/dshills/fedihook/internal/event"
	"github.com/dshills/fedihook/internal/event/events"
	"github.com/dshills/fedihook/internal/metrics"
	"github.com/dshills/fedihook/internal/plugin"
	"github.com/dshills/fedihook/internal/plugin/api"
	"github.com/dshills/fedihook/internal/plugin/security"
	"github.com/dshills/fedihook/internal/store"
)

// Application holds every long-lived component.
type Application struct {
	cfg    *config.Config
	logger zerolog.Logger

	metrics *metrics.Metrics
	store   store.Store
	grants  *store.Grants

	bus         *event.Bus
	permissions *security.Manager
	auditor     *security.Auditor
	factory     *api.Factory
	plugins     *plugin.Manager
	watcher     *plugin.Watcher

	users UserRepository
	notes NoteRepository

	mu      sync.Mutex
	closers []func(context.Context) error
	closed  bool
}

// Options configures New.
type Options struct {
	// LogOutput receives log lines; defaults to os.Stderr.
	LogOutput io.Writer

	// Store overrides the configured backend.
	Store store.Store

	// Users and Notes default to in-memory repositories.
	Users UserRepository
	Notes NoteRepository
}

// New builds an application from cfg. Plugins are not loaded until Start.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}

	app := &Application{
		cfg:    cfg,
		logger: NewLogger(cfg, opts.LogOutput),
		users:  opts.Users,
		notes:  opts.Notes,
	}
	if app.users == nil {
		app.users = NewMemoryUsers()
	}
	if app.notes == nil {
		app.notes = NewMemoryNotes()
	}

	if err := app.bootstrap(ctx, opts); err != nil {
		_ = app.runClosers(context.Background())
		return nil, err
	}
	return app, nil
}

// bootstrap initializes components in dependency order.
func (app *Application) bootstrap(ctx context.Context, opts Options) error {
	cfg := app.cfg

	var metricOpts []metrics.Option
	if cfg.Metrics.Runtime {
		metricOpts = append(metricOpts, metrics.WithRuntimeCollectors())
	}
	app.metrics = metrics.New(metricOpts...)

	if err := app.initStore(ctx, opts.Store); err != nil {
		return err
	}
	app.grants = store.NewGrants(app.store)

	auditOpts := []security.AuditorOption{
		security.WithAuditLogger(app.component("auditor")),
		security.WithRecordHook(app.metrics.RecordAudit),
	}
	if cfg.Audit.Persist {
		auditOpts = append(auditOpts,
			security.WithAuditSink(store.NewAuditLog(app.store)),
			security.WithSinkQueueSize(cfg.Audit.QueueSize),
		)
	}
	app.auditor = security.NewAuditor(auditOpts...)
	app.onClose(app.auditor.Close)

	app.permissions = security.NewManager(
		security.WithGrantStore(app.grants),
		security.WithManagerLogger(app.component("permissions")),
	)

	app.bus = event.NewBus(events.Catalogue(),
		event.WithHandlerTimeout(cfg.Bus.HandlerTimeout.Std()),
		event.WithLogger(app.component("bus")),
		event.WithObserver(app.metrics),
	)

	app.factory = api.NewFactory(app.bus, app.permissions, app.auditor,
		api.WithStore(app.store),
		api.WithLogger(app.logger),
	)

	app.plugins = plugin.NewManager(
		plugin.NewLoader(plugin.WithPaths(cfg.Plugins.Paths...)),
		app.bus, app.permissions, app.factory,
		plugin.WithManagerLogger(app.logger),
		plugin.WithObserver(app.metrics),
		plugin.WithHostOptions(plugin.WithHostCallTimeout(cfg.Plugins.CallTimeout.Std())),
	)
	return nil
}

func (app *Application) initStore(ctx context.Context, override store.Store) error {
	if override != nil {
		app.store = override
		return nil
	}

	switch app.cfg.Store.Backend {
	case config.BackendRedis:
		rc := app.cfg.Store.Redis
		r, err := store.DialRedis(ctx, rc.Addr, rc.Password, rc.DB, rc.Namespace)
		if err != nil {
			return &InitError{Component: "store", Err: err}
		}
		app.store = r
		app.onClose(func(context.Context) error { return r.Close() })
	default:
		app.store = store.NewMemory()
	}
	app.logger.Info().Str("backend", app.cfg.Store.Backend).Msg("store ready")
	return nil
}

func (app *Application) component(name string) zerolog.Logger {
	return app.logger.With().Str("component", name).Logger()
}

// onClose registers a shutdown step. Steps run in reverse order.
func (app *Application) onClose(fn func(context.Context) error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.closers = append(app.closers, fn)
}

func (app *Application) runClosers(ctx context.Context) error {
	app.mu.Lock()
	closers := app.closers
	app.closers = nil
	app.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start loads every plugin and, when configured, starts watching the plugin
// paths. Plugins that fail to load are reported in the returned error but do
// not stop the others.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	if app.closed {
		app.mu.Unlock()
		return ErrClosed
	}
	app.mu.Unlock()

	loadErr := app.plugins.LoadAll(ctx)
	if loadErr != nil {
		app.logger.Warn().Err(loadErr).Msg("some plugins failed to load")
	}
	app.logger.Info().Int("active", app.plugins.CountActive()).Msg("plugins loaded")

	if app.cfg.Plugins.Watch {
		w, err := plugin.NewWatcher(app.plugins, app.cfg.Plugins.Paths,
			plugin.WithDebounce(app.cfg.Plugins.Debounce.Std()),
			plugin.WithAutoLoad(app.cfg.Plugins.AutoLoad),
			plugin.WithWatcherLogger(app.logger),
		)
		if err != nil {
			return errors.Join(loadErr, &InitError{Component: "plugin watcher", Err: err})
		}
		if err := w.Start(ctx); err != nil {
			_ = w.Close()
			return errors.Join(loadErr, err)
		}
		app.watcher = w
	}
	return loadErr
}

// Close unloads all plugins, flushes the audit log and closes the store.
func (app *Application) Close(ctx context.Context) error {
	app.mu.Lock()
	if app.closed {
		app.mu.Unlock()
		return nil
	}
	app.closed = true
	app.mu.Unlock()

	// The watcher must stop before plugins are unloaded so no reload races
	// the shutdown.
	var errs []error
	if app.watcher != nil {
		if err := app.watcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := app.plugins.UnloadAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := app.runClosers(ctx); err != nil {
		errs = append(errs, err)
	}
	app.logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

// Config returns the configuration.
func (app *Application) Config() *config.Config { return app.cfg }

// Logger returns the host logger.
func (app *Application) Logger() zerolog.Logger { return app.logger }

// Bus returns the event bus.
func (app *Application) Bus() *event.Bus { return app.bus }

// Plugins returns the plugin manager.
func (app *Application) Plugins() *plugin.Manager { return app.plugins }

// Permissions returns the permission manager.
func (app *Application) Permissions() *security.Manager { return app.permissions }

// Auditor returns the permission auditor.
func (app *Application) Auditor() *security.Auditor { return app.auditor }

// Metrics returns the metrics collectors.
func (app *Application) Metrics() *metrics.Metrics { return app.metrics }

// Store returns the backing store.
func (app *Application) Store() store.Store { return app.store }

// Grants returns the persisted grant records.
func (app *Application) Grants() *store.Grants { return app.grants }
