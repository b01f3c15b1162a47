package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Loader discovers plugins on the filesystem. A plugin is a directory holding
// a plugin.json or plugin.toml manifest and its Lua entry point.
type Loader struct {
	mu sync.RWMutex

	// Search paths for plugins (checked in order)
	paths []string

	// Discovered plugins cache
	discovered map[string]*PluginInfo
}

// PluginInfo contains discovery information about a plugin.
type PluginInfo struct {
	// ID is the manifest id, or the directory name when the manifest could
	// not be read.
	ID       string
	Path     string
	Manifest *Manifest

	// Error is set when the manifest is missing or malformed.
	Error error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the plugin search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// NewLoader creates a new plugin loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:      DefaultPluginPaths(),
		discovered: make(map[string]*PluginInfo),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultPluginPaths returns the default plugin search paths.
func DefaultPluginPaths() []string {
	paths := make([]string, 0, 2)

	// User plugins: ~/.config/fedihook/plugins/
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "fedihook", "plugins"))
	}

	// Working directory plugins: ./plugins/
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "plugins"))
	}
	return paths
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.paths...)
}

// AddPath adds a search path.
func (l *Loader) AddPath(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path)
}

// Discover finds all plugins in the search paths. When two paths hold the
// same id the first path wins. Plugins are returned sorted by id; broken
// plugins are included with Error set.
func (l *Loader) Discover() ([]*PluginInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	discovered := make(map[string]*PluginInfo)
	for _, basePath := range l.paths {
		if err := discoverInPath(basePath, discovered); err != nil {
			return nil, fmt.Errorf("scan %s: %w", basePath, err)
		}
	}
	l.discovered = discovered

	plugins := make([]*PluginInfo, 0, len(discovered))
	for _, info := range discovered {
		plugins = append(plugins, info)
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].ID < plugins[j].ID
	})
	return plugins, nil
}

// discoverInPath finds plugins in a single directory.
func discoverInPath(basePath string, into map[string]*PluginInfo) error {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Not an error if path doesn't exist
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info := inspectPlugin(entry.Name(), filepath.Join(basePath, entry.Name()))

		// Don't override earlier discoveries (first path wins)
		if _, exists := into[info.ID]; !exists {
			into[info.ID] = info
		}
	}
	return nil
}

// inspectPlugin examines a plugin directory and returns its info.
func inspectPlugin(dirName, path string) *PluginInfo {
	info := &PluginInfo{ID: dirName, Path: path}

	manifest, err := LoadManifestFromDir(path)
	if err != nil {
		info.Error = fmt.Errorf("invalid manifest: %w", err)
		return info
	}
	if _, err := os.Stat(manifest.MainPath()); err != nil {
		info.Error = fmt.Errorf("entry point %s: %w", manifest.Main, err)
		return info
	}

	info.Manifest = manifest
	info.ID = manifest.ID
	return info
}

// Get returns cached info for a plugin from the last Discover.
func (l *Loader) Get(id string) (*PluginInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	info, ok := l.discovered[id]
	return info, ok
}

// Find locates a plugin by id, re-reading its manifest from disk so edits
// since the last Discover are picked up.
func (l *Loader) Find(id string) (*PluginInfo, error) {
	if _, err := l.Discover(); err != nil {
		return nil, err
	}
	info, ok := l.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	return info, nil
}

// Errors returns discovered plugins whose manifest could not be used.
func (l *Loader) Errors() []*PluginInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var errored []*PluginInfo
	for _, info := range l.discovered {
		if info.Error != nil {
			errored = append(errored, info)
		}
	}
	sort.Slice(errored, func(i, j int) bool {
		return errored[i].ID < errored[j].ID
	})
	return errored
}
