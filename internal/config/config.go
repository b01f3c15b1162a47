// Package config loads fedihook's configuration.
//
// Settings come from three layers, later ones winning: built-in defaults, an
// optional TOML file, and FEDIHOOK_* environment variables.
//
//	[log]
//	level = "info"
//	format = "json"
//
//	[bus]
//	handler_timeout = "5s"
//
//	[plugins]
//	paths = ["./plugins"]
//	watch = true
//
//	[store]
//	backend = "redis"
//
//	[store.redis]
//	addr = "localhost:6379"
//
//	[metrics]
//	addr = ":9090"
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Log formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config is the complete fedihook configuration.
type Config struct {
	Log     LogConfig     `toml:"log"`
	Bus     BusConfig     `toml:"bus"`
	Plugins PluginsConfig `toml:"plugins"`
	Store   StoreConfig   `toml:"store"`
	Audit   AuditConfig   `toml:"audit"`
	Metrics MetricsConfig `toml:"metrics"`
}

// LogConfig controls the host logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json or console
}

// BusConfig controls event dispatch.
type BusConfig struct {
	// HandlerTimeout bounds each handler invocation.
	HandlerTimeout Duration `toml:"handler_timeout"`
}

// PluginsConfig controls discovery and the plugin runtime.
type PluginsConfig struct {
	Paths       []string `toml:"paths"`
	Watch       bool     `toml:"watch"`
	AutoLoad    bool     `toml:"auto_load"`
	Debounce    Duration `toml:"debounce"`
	CallTimeout Duration `toml:"call_timeout"` // activate/deactivate bound
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string      `toml:"backend"`
	Redis   RedisConfig `toml:"redis"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	Namespace string `toml:"namespace"`
}

// AuditConfig controls the permission audit log.
type AuditConfig struct {
	// Persist writes entries to the store in addition to memory.
	Persist   bool `toml:"persist"`
	QueueSize int  `toml:"queue_size"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr    string `toml:"addr"`
	Runtime bool   `toml:"runtime"`
}

// Duration is a time.Duration written as a string ("250ms", "5s") in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: FormatJSON,
		},
		Bus: BusConfig{
			HandlerTimeout: Duration(5 * time.Second),
		},
		Plugins: PluginsConfig{
			Paths:       defaultPluginPaths(),
			Watch:       false,
			Debounce:    Duration(250 * time.Millisecond),
			CallTimeout: Duration(5 * time.Second),
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				Namespace: "fedihook",
			},
		},
		Audit: AuditConfig{
			QueueSize: 1024,
		},
	}
}

func defaultPluginPaths() []string {
	paths := make([]string, 0, 2)
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "fedihook", "plugins"))
	}
	return append(paths, "plugins")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "fedihook", "config.toml")
	}
	return "fedihook.toml"
}

// Load builds a configuration from defaults, the file at path and the
// environment, then validates it. A missing file at path is only an error
// when required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path, required); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if required {
				return fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return c.Parse(path, data)
}

// Parse decodes TOML data over c. Unknown keys are an error.
func (c *Config) Parse(source string, data []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		pe := &ParseError{Path: source, Message: err.Error(), Err: err}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			pe.Line, pe.Column = de.Position()
		}
		return pe
	}
	return nil
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(path, format string, args ...any) {
		errs = append(errs, &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil || c.Log.Level == "" {
		invalid("log.level", "unknown level %q", c.Log.Level)
	}
	if c.Log.Format != FormatJSON && c.Log.Format != FormatConsole {
		invalid("log.format", "must be %q or %q", FormatJSON, FormatConsole)
	}
	if c.Bus.HandlerTimeout <= 0 {
		invalid("bus.handler_timeout", "must be positive")
	}
	if c.Plugins.CallTimeout <= 0 {
		invalid("plugins.call_timeout", "must be positive")
	}
	if c.Plugins.Watch && c.Plugins.Debounce <= 0 {
		invalid("plugins.debounce", "must be positive when watching")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			invalid("store.redis.addr", "required for the redis backend")
		}
		if c.Store.Redis.DB < 0 {
			invalid("store.redis.db", "must not be negative")
		}
	default:
		invalid("store.backend", "unknown backend %q", c.Store.Backend)
	}

	if c.Audit.QueueSize < 0 {
		invalid("audit.queue_size", "must not be negative")
	}
	return errors.Join(errs...)
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
