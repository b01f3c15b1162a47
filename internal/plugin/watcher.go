package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the watcher waits for a plugin directory to
// settle before reloading it.
const DefaultDebounce = 250 * time.Millisecond

// ErrWatcherClosed is returned when using a closed watcher.
var ErrWatcherClosed = errors.New("watcher is closed")

// Reloader is the part of the Manager the watcher drives.
type Reloader interface {
	Get(id string) (Info, bool)
	Load(ctx context.Context, id string) (Info, error)
	Reload(ctx context.Context, id string) (Info, error)
}

// Watcher reloads plugins when files in their directory change.
//
// Each search path and each plugin directory directly below it is watched.
// Changes are coalesced per plugin directory. An active plugin is reloaded,
// a failed one is loaded again, and an unknown one is loaded only when
// auto-load is enabled.
type Watcher struct {
	fs       *fsnotify.Watcher
	target   Reloader
	paths    []string
	delay    time.Duration
	autoLoad bool
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the settle delay.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithAutoLoad loads plugins that appear after startup.
func WithAutoLoad(enabled bool) WatcherOption {
	return func(w *Watcher) {
		w.autoLoad = enabled
	}
}

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(l zerolog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = l
	}
}

// NewWatcher creates a watcher over the given plugin search paths. Paths that
// do not exist are skipped.
func NewWatcher(target Reloader, paths []string, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:      fsw,
		target:  target,
		delay:   DefaultDebounce,
		logger:  zerolog.Nop(),
		pending: make(map[string]*time.Timer),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With().Str("component", "plugin-watcher").Logger()

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsw.Close()
			return nil, err
		}
		if err := w.watchBase(abs); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// watchBase adds a search path and its plugin directories.
func (w *Watcher) watchBase(base string) error {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := w.fs.Add(base); err != nil {
		return err
	}
	w.paths = append(w.paths, base)

	for _, entry := range entries {
		if entry.IsDir() && !hidden(entry.Name()) {
			if err := w.fs.Add(filepath.Join(base, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// WatchedPaths returns the watched directories.
func (w *Watcher) WatchedPaths() []string {
	return w.fs.WatchList()
}

// Start processes file events until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go w.processLoop(ctx)
	return nil
}

// Close stops the watcher, cancels pending reloads and waits for one already
// running to finish.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for dir, t := range w.pending {
		t.Stop()
		delete(w.pending, dir)
	}
	w.mu.Unlock()

	w.wg.Wait()
	return w.fs.Close()
}

func (w *Watcher) processLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case <-ctx.Done():
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || hidden(filepath.Base(ev.Name)) {
		return
	}
	dir, ok := w.pluginDir(ev.Name)
	if !ok {
		return
	}

	// A new plugin directory: watch it so edits inside are seen too.
	if ev.Has(fsnotify.Create) && dir == ev.Name {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			if err := w.fs.Add(dir); err != nil {
				w.logger.Warn().Err(err).Str("dir", dir).Msg("watch plugin directory")
			}
		}
	}
	w.schedule(ctx, dir)
}

// pluginDir maps a changed path to the plugin directory containing it.
func (w *Watcher) pluginDir(name string) (string, bool) {
	for _, base := range w.paths {
		rel, err := filepath.Rel(base, name)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		first := strings.SplitN(rel, string(filepath.Separator), 2)[0]
		if hidden(first) {
			return "", false
		}
		return filepath.Join(base, first), true
	}
	return "", false
}

// schedule (re)starts the settle timer of dir. A fired timer joins wg so
// Close waits for the reload it runs.
func (w *Watcher) schedule(ctx context.Context, dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if t, ok := w.pending[dir]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(w.delay, func() {
		w.mu.Lock()
		if w.pending[dir] == timer {
			delete(w.pending, dir)
		}
		if w.closed || ctx.Err() != nil {
			w.mu.Unlock()
			return
		}
		w.wg.Add(1)
		w.mu.Unlock()

		defer w.wg.Done()
		w.apply(ctx, dir)
	})
	w.pending[dir] = timer
}

// apply reloads or loads the plugin living in dir.
func (w *Watcher) apply(ctx context.Context, dir string) {
	id := filepath.Base(dir)
	if m, err := LoadManifestFromDir(dir); err == nil {
		id = m.ID
	}

	info, known := w.target.Get(id)
	var err error
	switch {
	case known && info.State == StateActive:
		w.logger.Info().Str("plugin_id", id).Msg("reloading changed plugin")
		_, err = w.target.Reload(ctx, id)
	case known && info.State == StateFailed:
		w.logger.Info().Str("plugin_id", id).Msg("retrying failed plugin")
		_, err = w.target.Load(ctx, id)
	case !known && w.autoLoad:
		w.logger.Info().Str("plugin_id", id).Msg("loading new plugin")
		_, err = w.target.Load(ctx, id)
	default:
		return
	}
	if err != nil {
		w.logger.Warn().Err(err).Str("plugin_id", id).Msg("plugin change not applied")
	}
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

var _ Reloader = (*Manager)(nil)
