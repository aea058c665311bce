package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors fed by actions, lifecycle steps,
// telemetry events and the lock guard. A disabled Metrics has no registry
// and every Record method is a no-op.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	events    *prometheus.CounterVec
	actions   *prometheus.CounterVec
	actionDur *prometheus.HistogramVec
	running   prometheus.Gauge
	steps     *prometheus.CounterVec
	stepDur   *prometheus.HistogramVec
	errClass  *prometheus.CounterVec
	errName   *prometheus.CounterVec
	contended *prometheus.CounterVec
}

// NewMetrics registers the fxctl collectors on a private registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	ns := cfg.Namespace

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: buckets}, labels)
	}

	return &Metrics{
		config:    cfg,
		registry:  reg,
		events:    counter("telemetry_events_total", "Telemetry events published, by name and level.", "name", "level"),
		actions:   counter("actions_total", "Finished actions, by action and status.", "action", "status"),
		actionDur: histogram("action_duration_seconds", "Action wall time (timeCost).", "action"),
		running:   f.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "active_actions", Help: "Actions currently running."}),
		steps:     counter("lifecycle_steps_total", "Lifecycle steps run, by driver and status.", "driver", "status"),
		stepDur:   histogram("lifecycle_step_duration_seconds", "Lifecycle step wall time.", "driver"),
		errClass:  counter("errors_by_class_total", "Errors by class (user or system).", "class"),
		errName:   counter("errors_by_name_total", "Errors by error name.", "name"),
		contended: counter("lock_contention_total", "Lock acquisitions that had to retry, by outcome.", "acquired"),
	}
}

func (m *Metrics) enabled() bool { return m != nil && m.registry != nil }

func (m *Metrics) RecordEvent(name, level string) {
	if m.enabled() {
		m.events.WithLabelValues(name, level).Inc()
	}
}

func (m *Metrics) RecordActionStarted() {
	if m.enabled() {
		m.running.Inc()
	}
}

// RecordActionFinished must follow a RecordActionStarted for the same action.
func (m *Metrics) RecordActionFinished(action, status string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.running.Dec()
	m.actions.WithLabelValues(action, status).Inc()
	m.actionDur.WithLabelValues(action).Observe(d.Seconds())
}

func (m *Metrics) RecordStep(driver, status string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.steps.WithLabelValues(driver, status).Inc()
	m.stepDur.WithLabelValues(driver).Observe(d.Seconds())
}

// RecordError counts an error under its class and, when known, its name.
func (m *Metrics) RecordError(class, name string) {
	if !m.enabled() {
		return
	}
	m.errClass.WithLabelValues(class).Inc()
	if name != "" {
		m.errName.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) RecordLockContention(acquired bool) {
	if m.enabled() {
		m.contended.WithLabelValues(strconv.FormatBool(acquired)).Inc()
	}
}

// Registry is nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
