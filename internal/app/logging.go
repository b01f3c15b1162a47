package app

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/fedihook/internal/config"
)

// NewLogger builds the host logger. Output defaults to os.Stderr.
func NewLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if cfg.Log.Format == config.FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(cfg.LogLevel()).
		With().
		Timestamp().
		Str("service", "fedihook").
		Logger()
}
