package plugin

import "errors"

// Plugin system errors.
var (
	// ErrPluginNotFound is returned when a plugin cannot be located.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNoManifest is returned when a plugin directory has no plugin.json
	// or plugin.toml.
	ErrNoManifest = errors.New("plugin has no manifest (plugin.json or plugin.toml)")

	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest is nil")

	// ErrAlreadyLoaded is returned when attempting to load an active plugin.
	ErrAlreadyLoaded = errors.New("plugin is already loaded")

	// ErrNotActive is returned when an operation needs an active plugin.
	ErrNotActive = errors.New("plugin is not active")

	// ErrAlreadyRegistered is returned when a builtin id is registered twice.
	ErrAlreadyRegistered = errors.New("builtin plugin already registered")

	// ErrRejected wraps the permission error of a refused grant.
	ErrRejected = errors.New("plugin rejected")
)
