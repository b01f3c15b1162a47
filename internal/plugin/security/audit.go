package security

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuditEntry is an immutable record of one permission check.
type AuditEntry struct {
	ID         string     `json:"id"`
	PluginID   string     `json:"pluginId"`
	Permission Permission `json:"permission"`
	Action     string     `json:"action"`
	Allowed    bool       `json:"allowed"`
	Timestamp  time.Time  `json:"timestamp"`
}

// AuditSink receives entries for external persistence.
type AuditSink interface {
	WriteAudit(ctx context.Context, entry AuditEntry) error
}

// ErrAuditorClosed is returned by Close when called twice.
var ErrAuditorClosed = errors.New("auditor is closed")

// defaultSinkQueue is the number of entries buffered for sinks.
const defaultSinkQueue = 1024

// Auditor keeps the append-only log of permission checks for the process
// lifetime and forwards each entry to its sinks on a background goroutine.
type Auditor struct {
	mu      sync.RWMutex
	entries []AuditEntry

	sinks  []AuditSink
	hooks  []func(AuditEntry)
	queue  chan AuditEntry
	done   chan struct{}
	closed bool
	now    func() time.Time

	logger zerolog.Logger
	queueN int
}

// AuditorOption configures an Auditor.
type AuditorOption func(*Auditor)

// WithAuditSink adds a persistence sink.
func WithAuditSink(s AuditSink) AuditorOption {
	return func(a *Auditor) {
		if s != nil {
			a.sinks = append(a.sinks, s)
		}
	}
}

// WithRecordHook registers a function called synchronously for every entry.
// Hooks must not block.
func WithRecordHook(fn func(AuditEntry)) AuditorOption {
	return func(a *Auditor) {
		if fn != nil {
			a.hooks = append(a.hooks, fn)
		}
	}
}

// WithAuditLogger sets the logger.
func WithAuditLogger(l zerolog.Logger) AuditorOption {
	return func(a *Auditor) {
		a.logger = l
	}
}

// WithSinkQueueSize sets the sink queue capacity.
func WithSinkQueueSize(n int) AuditorOption {
	return func(a *Auditor) {
		if n > 0 {
			a.queueN = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) AuditorOption {
	return func(a *Auditor) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuditor creates an auditor. When sinks are configured a worker goroutine
// is started; call Close to drain it.
func NewAuditor(opts ...AuditorOption) *Auditor {
	a := &Auditor{
		logger: zerolog.Nop(),
		now:    time.Now,
		queueN: defaultSinkQueue,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	if len(a.sinks) > 0 {
		a.queue = make(chan AuditEntry, a.queueN)
		go a.run()
	} else {
		close(a.done)
	}
	return a
}

// Record appends an entry and returns it.
func (a *Auditor) Record(pluginID string, perm Permission, action string, allowed bool) AuditEntry {
	entry := AuditEntry{
		ID:         uuid.NewString(),
		PluginID:   pluginID,
		Permission: perm,
		Action:     action,
		Allowed:    allowed,
		Timestamp:  a.now(),
	}

	a.mu.Lock()
	a.entries = append(a.entries, entry)
	closed := a.closed
	if a.queue != nil && !closed {
		select {
		case a.queue <- entry:
		default:
			a.logger.Warn().Str("plugin_id", pluginID).Msg("audit sink queue full, entry kept in memory only")
		}
	}
	a.mu.Unlock()

	for _, hook := range a.hooks {
		hook(entry)
	}

	ev := a.logger.Debug()
	if !allowed {
		ev = a.logger.Warn()
	}
	ev.Str("plugin_id", pluginID).
		Str("permission", string(perm)).
		Str("action", action).
		Bool("allowed", allowed).
		Msg("permission check")

	return entry
}

// Entries returns a copy of the log in append order.
func (a *Auditor) Entries() []AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// AuditQuery selects audit entries. Zero fields match every entry.
type AuditQuery struct {
	PluginID   string
	DeniedOnly bool
}

func (q AuditQuery) matches(e AuditEntry) bool {
	if q.PluginID != "" && e.PluginID != q.PluginID {
		return false
	}
	return !q.DeniedOnly || !e.Allowed
}

// Query returns the entries matching q in append order.
func (a *Auditor) Query(q AuditQuery) []AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []AuditEntry
	for _, e := range a.entries {
		if q.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// EntriesFor returns the entries recorded for one plugin.
func (a *Auditor) EntriesFor(pluginID string) []AuditEntry {
	return a.Query(AuditQuery{PluginID: pluginID})
}

// Denied returns every entry whose check was refused.
func (a *Auditor) Denied() []AuditEntry {
	return a.Query(AuditQuery{DeniedOnly: true})
}

// Len returns the number of recorded entries.
func (a *Auditor) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Close stops accepting sink work and waits for queued entries to be written
// or for ctx to expire. The in-memory log stays readable.
func (a *Auditor) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrAuditorClosed
	}
	a.closed = true
	if a.queue != nil {
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Auditor) run() {
	defer close(a.done)
	for entry := range a.queue {
		for _, sink := range a.sinks {
			if err := sink.WriteAudit(context.Background(), entry); err != nil {
				a.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("audit sink write failed")
			}
		}
	}
}
