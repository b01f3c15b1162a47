// Package metrics exposes fedihook's Prometheus metrics.
//
// A Metrics value owns a private registry and plugs into the rest of the
// system as an event bus observer, an audit record hook and a plugin
// lifecycle observer. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/fedihook/internal/event"
	"github.com/dshills/fedihook/internal/event/topic"
	"github.com/dshills/fedihook/internal/plugin"
	"github.com/dshills/fedihook/internal/plugin/security"
)

const namespace = "fedihook"

// Metrics provides observability for the event bus and the plugin system.
type Metrics struct {
	registry *prometheus.Registry

	// Events dispatched by topic and kind
	EventsEmitted *prometheus.CounterVec

	// Handler latency by topic, kind and outcome
	HandlerDuration *prometheus.HistogramVec

	// Before chains vetoed by a handler
	ChainsCancelled *prometheus.CounterVec

	// Permission checks by permission and outcome
	PermissionChecks *prometheus.CounterVec

	// Lifecycle transitions by target state
	PluginTransitions *prometheus.CounterVec

	// Plugins currently active
	PluginsActive prometheus.Gauge
}

// Option configures Metrics.
type Option func(*config)

type config struct {
	runtime bool
}

// WithRuntimeCollectors also registers the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(c *config) {
		c.runtime = true
	}
}

// New creates a Metrics instance with all collectors registered on a fresh
// registry.
func New(opts ...Option) *Metrics {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Total events dispatched by topic and kind",
		}, []string{"topic", "kind"}),

		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Duration of event handler invocations",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"topic", "kind", "status"}),

		ChainsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "before_chains_cancelled_total",
			Help:      "Before chains cancelled by a handler",
		}, []string{"topic"}),

		PermissionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_checks_total",
			Help:      "Plugin permission checks by permission and outcome",
		}, []string{"permission", "allowed"}),

		PluginTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_transitions_total",
			Help:      "Plugin lifecycle transitions by target state",
		}, []string{"state"}),

		PluginsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugins_active",
			Help:      "Number of active plugins",
		}),
	}

	reg.MustRegister(
		m.EventsEmitted,
		m.HandlerDuration,
		m.ChainsCancelled,
		m.PermissionChecks,
		m.PluginTransitions,
		m.PluginsActive,
	)
	if cfg.runtime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventEmitted implements event.Observer.
func (m *Metrics) EventEmitted(t topic.Topic, kind topic.Kind) {
	if m != nil {
		m.EventsEmitted.WithLabelValues(string(t), kind.String()).Inc()
	}
}

// HandlerFinished implements event.Observer.
func (m *Metrics) HandlerFinished(t topic.Topic, kind topic.Kind, status event.HandlerStatus, d time.Duration) {
	if m != nil {
		m.HandlerDuration.WithLabelValues(string(t), kind.String(), string(status)).Observe(d.Seconds())
	}
}

// ChainCancelled implements event.Observer.
func (m *Metrics) ChainCancelled(t topic.Topic) {
	if m != nil {
		m.ChainsCancelled.WithLabelValues(string(t)).Inc()
	}
}

// RecordAudit counts one permission check. It is meant for
// security.WithRecordHook.
func (m *Metrics) RecordAudit(e security.AuditEntry) {
	if m != nil {
		m.PermissionChecks.WithLabelValues(string(e.Permission), strconv.FormatBool(e.Allowed)).Inc()
	}
}

// PluginTransition implements plugin.Observer.
func (m *Metrics) PluginTransition(_ string, from, to plugin.State) {
	if m == nil {
		return
	}
	m.PluginTransitions.WithLabelValues(to.String()).Inc()
	if to == plugin.StateActive {
		m.PluginsActive.Inc()
	}
	if from == plugin.StateActive {
		m.PluginsActive.Dec()
	}
}

var (
	_ event.Observer  = (*Metrics)(nil)
	_ plugin.Observer = (*Metrics)(nil)
)
