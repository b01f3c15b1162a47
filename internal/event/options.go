package event

import (
	"time"

	"github.com/rs/zerolog"
)

// BusOption configures an event Bus.
type BusOption func(*busConfig)

// busConfig contains configuration for the event bus.
type busConfig struct {
	// handlerTimeout is the per-handler deadline. Zero means none.
	handlerTimeout time.Duration

	logger   zerolog.Logger
	observer Observer
}

// defaultBusConfig returns the default configuration: no handler deadline,
// no logging, no observer.
func defaultBusConfig() busConfig {
	return busConfig{
		logger: zerolog.Nop(),
	}
}

// WithHandlerTimeout sets the per-handler deadline.
// A Before handler that misses it fails the chain; an After handler that
// misses it is logged and abandoned.
func WithHandlerTimeout(timeout time.Duration) BusOption {
	return func(c *busConfig) {
		if timeout >= 0 {
			c.handlerTimeout = timeout
		}
	}
}

// WithLogger sets the logger used for contained handler failures.
func WithLogger(l zerolog.Logger) BusOption {
	return func(c *busConfig) {
		c.logger = l
	}
}

// WithObserver sets a dispatch observer, typically a metrics collector.
func WithObserver(o Observer) BusOption {
	return func(c *busConfig) {
		c.observer = o
	}
}
