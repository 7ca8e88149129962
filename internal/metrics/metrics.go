// Package metrics exposes Prometheus counters for the watch pipeline and an
// optional HTTP listener serving them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intake"

// OutcomeArchived labels jobs that reached complete/.
const OutcomeArchived = "archived"

// Metrics holds the collectors for one watcher. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	triggers    *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	unsupported prometheus.Counter
	jobDuration prometheus.Histogram
	pending     prometheus.Gauge
	inFlight    prometheus.Gauge
}

// New registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Filesystem notifications received, by kind",
			},
			[]string{"kind"},
		),
		triggers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "triggers_total",
				Help:      "Entries leaving the coalescer, by reason",
			},
			[]string{"reason"},
		),
		jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Pipeline jobs finished, by outcome",
			},
			[]string{"outcome"},
		),
		unsupported: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unsupported_files_total",
				Help:      "Files archived without a handler",
			},
		),
		jobDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Time from trigger to archive or abort",
				Buckets:   prometheus.DefBuckets,
			},
		),
		pending: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_entries",
				Help:      "Paths waiting for their debounce window to elapse",
			},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_in_flight",
				Help:      "Pipeline jobs currently running",
			},
		),
	}
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordEvent counts a raw notification.
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// RecordTrigger counts an entry leaving the coalescer.
func (m *Metrics) RecordTrigger(reason string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(reason).Inc()
}

// JobStarted marks a job as running.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// RecordJob counts a finished job. outcome is OutcomeArchived or a failure
// kind label.
func (m *Metrics) RecordJob(outcome string, unsupported bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.jobs.WithLabelValues(outcome).Inc()
	if unsupported {
		m.unsupported.Inc()
	}
	m.jobDuration.Observe(duration.Seconds())
}

// SetPending records the coalescer size.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
