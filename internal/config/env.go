package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FEDIHOOK_"

// LookupFunc looks up an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

type envSetter func(c *Config, value string) error

// envMapping maps environment variables to settings.
var envMapping = map[string]envSetter{
	"FEDIHOOK_LOG_LEVEL":             setString(func(c *Config) *string { return &c.Log.Level }),
	"FEDIHOOK_LOG_FORMAT":            setString(func(c *Config) *string { return &c.Log.Format }),
	"FEDIHOOK_BUS_HANDLER_TIMEOUT":   setDuration(func(c *Config) *Duration { return &c.Bus.HandlerTimeout }),
	"FEDIHOOK_PLUGINS_PATHS":         setList(func(c *Config) *[]string { return &c.Plugins.Paths }),
	"FEDIHOOK_PLUGINS_WATCH":         setBool(func(c *Config) *bool { return &c.Plugins.Watch }),
	"FEDIHOOK_PLUGINS_AUTO_LOAD":     setBool(func(c *Config) *bool { return &c.Plugins.AutoLoad }),
	"FEDIHOOK_PLUGINS_DEBOUNCE":      setDuration(func(c *Config) *Duration { return &c.Plugins.Debounce }),
	"FEDIHOOK_PLUGINS_CALL_TIMEOUT":  setDuration(func(c *Config) *Duration { return &c.Plugins.CallTimeout }),
	"FEDIHOOK_STORE_BACKEND":         setString(func(c *Config) *string { return &c.Store.Backend }),
	"FEDIHOOK_STORE_REDIS_ADDR":      setString(func(c *Config) *string { return &c.Store.Redis.Addr }),
	"FEDIHOOK_STORE_REDIS_PASSWORD":  setString(func(c *Config) *string { return &c.Store.Redis.Password }),
	"FEDIHOOK_STORE_REDIS_DB":        setInt(func(c *Config) *int { return &c.Store.Redis.DB }),
	"FEDIHOOK_STORE_REDIS_NAMESPACE": setString(func(c *Config) *string { return &c.Store.Redis.Namespace }),
	"FEDIHOOK_AUDIT_PERSIST":         setBool(func(c *Config) *bool { return &c.Audit.Persist }),
	"FEDIHOOK_AUDIT_QUEUE_SIZE":      setInt(func(c *Config) *int { return &c.Audit.QueueSize }),
	"FEDIHOOK_METRICS_ADDR":          setString(func(c *Config) *string { return &c.Metrics.Addr }),
	"FEDIHOOK_METRICS_RUNTIME":       setBool(func(c *Config) *bool { return &c.Metrics.Runtime }),
}

// EnvVars returns the supported environment variable names.
func EnvVars() []string {
	names := make([]string, 0, len(envMapping))
	for name := range envMapping {
		names = append(names, name)
	}
	return names
}

// ApplyEnv overrides settings from the environment.
// Empty values are treated as set, not as unset.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for name, set := range envMapping {
		value, ok := lookup(name)
		if !ok {
			continue
		}
		if err := set(c, value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func setString(field func(*Config) *string) envSetter {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setBool(field func(*Config) *bool) envSetter {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func setInt(field func(*Config) *int) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setDuration(field func(*Config) *Duration) envSetter {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = Duration(d)
		return nil
	}
}

// setList splits on the OS path list separator, like PATH.
func setList(field func(*Config) *[]string) envSetter {
	return func(c *Config, v string) error {
		var out []string
		for _, p := range filepath.SplitList(v) {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*field(c) = out
		return nil
	}
}
