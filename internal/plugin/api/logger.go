package api

import (
	"github.com/rs/zerolog"

	"github.com/dshills/fedihook/internal/plugin/security"
)

// Logger writes to the host log on behalf of a plugin. Every call needs
// log:write; entries carry the plugin id.
type Logger struct {
	ctx *SecureContext
	log zerolog.Logger
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields map[string]any) error {
	return l.write(zerolog.DebugLevel, msg, fields)
}

// Info logs at info level.
func (l *Logger) Info(msg string, fields map[string]any) error {
	return l.write(zerolog.InfoLevel, msg, fields)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields map[string]any) error {
	return l.write(zerolog.WarnLevel, msg, fields)
}

// Error logs at error level.
func (l *Logger) Error(msg string, fields map[string]any) error {
	return l.write(zerolog.ErrorLevel, msg, fields)
}

func (l *Logger) write(level zerolog.Level, msg string, fields map[string]any) error {
	if err := l.ctx.check(security.PermLogWrite, "log."+level.String()); err != nil {
		return err
	}
	ev := l.log.WithLevel(level)
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(msg)
	return nil
}
