package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fedihook/internal/event"
	"github.com/dshills/fedihook/internal/event/events"
	"github.com/dshills/fedihook/internal/event/topic"
	"github.com/dshills/fedihook/internal/plugin"
	"github.com/dshills/fedihook/internal/plugin/security"
)

func render(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestBusObserver(t *testing.T) {
	m := New()
	bus := event.NewBus(events.Catalogue(), event.WithObserver(m))

	_, err := event.OnBefore(bus, events.NoteBeforeCreate, func(context.Context, events.NoteDraft) (event.Decision, error) {
		return event.Cancel("nope"), nil
	})
	require.NoError(t, err)

	res, err := event.EmitBefore(context.Background(), bus, events.NoteBeforeCreate, events.NoteDraft{UserID: "u", Content: "x"})
	require.NoError(t, err)
	require.True(t, res.Cancelled)

	out := render(t, m)
	assert.Contains(t, out, `fedihook_events_emitted_total{kind="before",topic="note:beforeCreate"} 1`)
	assert.Contains(t, out, `fedihook_before_chains_cancelled_total{topic="note:beforeCreate"} 1`)
	assert.Contains(t, out, `fedihook_handler_duration_seconds_count{kind="before",status="ok",topic="note:beforeCreate"} 1`)
}

func TestRecordAudit(t *testing.T) {
	m := New()
	auditor := security.NewAuditor(security.WithRecordHook(m.RecordAudit))
	defer func() { _ = auditor.Close(context.Background()) }()

	auditor.Record("p", security.PermNoteRead, "on note:afterCreate", true)
	auditor.Record("p", security.PermNoteWrite, "onBefore note:beforeCreate", false)
	auditor.Record("p", security.PermNoteWrite, "onBefore note:beforeCreate", false)

	out := render(t, m)
	assert.Contains(t, out, `fedihook_permission_checks_total{allowed="true",permission="note:read"} 1`)
	assert.Contains(t, out, `fedihook_permission_checks_total{allowed="false",permission="note:write"} 2`)
}

func TestPluginTransition(t *testing.T) {
	m := New()
	m.PluginTransition("a", plugin.StatePermissionsGranted, plugin.StateActive)
	m.PluginTransition("b", plugin.StatePermissionsGranted, plugin.StateActive)
	m.PluginTransition("a", plugin.StateActive, plugin.StateUnloaded)

	out := render(t, m)
	assert.Contains(t, out, "fedihook_plugins_active 1")
	assert.Contains(t, out, `fedihook_plugin_transitions_total{state="active"} 2`)
	assert.Contains(t, out, `fedihook_plugin_transitions_total{state="unloaded"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventEmitted(topic.Topic("note:afterCreate"), topic.KindAfter)
		m.HandlerFinished(topic.Topic("note:afterCreate"), topic.KindAfter, event.StatusOK, time.Millisecond)
		m.ChainCancelled(topic.Topic("note:beforeCreate"))
		m.RecordAudit(security.AuditEntry{})
		m.PluginTransition("x", plugin.StateActive, plugin.StateFailed)
	})
}

func TestRuntimeCollectors(t *testing.T) {
	out := render(t, New(WithRuntimeCollectors()))
	assert.Contains(t, out, "go_goroutines")
}
