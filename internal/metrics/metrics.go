// Package metrics exposes session counters through a Prometheus registry.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "virtsession"

// Metrics holds every collector the session reports.
type Metrics struct {
	Registry *prometheus.Registry

	tickCycles   prometheus.Counter
	tickSkipped  prometheus.Counter
	tickDuration prometheus.Histogram
	tickErrors   *prometheus.CounterVec

	jobsStarted  *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec

	openWindows prometheus.Gauge
	connections prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		tickCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tick", Name: "cycles_total",
			Help: "Tick cycles that ran to completion or aborted.",
		}),
		tickSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tick", Name: "skipped_total",
			Help: "Timer firings skipped because a cycle was still running.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "tick", Name: "cycle_duration_seconds",
			Help:    "Wall time of one tick cycle.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		tickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tick", Name: "errors_total",
			Help: "Tick errors by classification.",
		}, []string{"kind"}),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "job", Name: "started_total",
			Help: "Background jobs submitted.",
		}, []string{"label"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "job", Name: "finished_total",
			Help: "Background jobs finished, by result.",
		}, []string{"label", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "job", Name: "duration_seconds",
			Help:    "Wall time of background jobs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"label"}),
		openWindows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_windows",
			Help: "Presentation surfaces currently open.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Registered connections.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tickCycles, m.tickSkipped, m.tickDuration, m.tickErrors,
		m.jobsStarted, m.jobsFinished, m.jobDuration,
		m.openWindows, m.connections,
	)
	return m
}

// CycleFinished records one completed or aborted tick cycle.
func (m *Metrics) CycleFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.tickCycles.Inc()
	m.tickDuration.Observe(d.Seconds())
}

// CycleSkipped records a timer firing that found a cycle in flight.
func (m *Metrics) CycleSkipped() {
	if m == nil {
		return
	}
	m.tickSkipped.Inc()
}

// TickError records a tick error of the given kind.
func (m *Metrics) TickError(kind string) {
	if m == nil {
		return
	}
	m.tickErrors.WithLabelValues(kind).Inc()
}

// JobStarted records a submitted job.
func (m *Metrics) JobStarted(label string) {
	if m == nil {
		return
	}
	m.jobsStarted.WithLabelValues(label).Inc()
}

// JobFinished records a finished job.
func (m *Metrics) JobFinished(label string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.jobsFinished.WithLabelValues(label, result).Inc()
	m.jobDuration.WithLabelValues(label).Observe(d.Seconds())
}

// SetOpenWindows sets the open window gauge.
func (m *Metrics) SetOpenWindows(n int) {
	if m == nil {
		return
	}
	m.openWindows.Set(float64(n))
}

// SetConnections sets the registered connection gauge.
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}
