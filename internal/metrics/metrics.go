// Package metrics provides Prometheus metrics for the conversation subsystem.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scanmed"

// Turn outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics records chat, scan and retention activity. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	turns           *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	scans           *prometheus.CounterVec
	purged          prometheus.Counter
	purgeRuns       *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Total number of chat turns by outcome",
		},
		[]string{"provider", "outcome"},
	)

	m.providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Provider call latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "operation"},
	)

	m.scans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "analyses_total",
			Help:      "Total number of scan analyses by outcome",
		},
		[]string{"outcome"},
	)

	m.purged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "purged_conversations_total",
			Help:      "Total number of conversations permanently purged",
		},
	)

	m.purgeRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "runs_total",
			Help:      "Total number of retention sweeps by status",
		},
		[]string{"status"},
	)

	m.registry.MustRegister(
		m.turns,
		m.providerLatency,
		m.scans,
		m.purged,
		m.purgeRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordTurn counts one SendMessage outcome.
func (m *Metrics) RecordTurn(provider, outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(provider, outcome).Inc()
}

// RecordProviderLatency observes one provider call.
func (m *Metrics) RecordProviderLatency(provider, operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// RecordScan counts one scan analysis outcome.
func (m *Metrics) RecordScan(outcome string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome).Inc()
}

// RecordPurge records a retention sweep.
func (m *Metrics) RecordPurge(removed int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.purgeRuns.WithLabelValues("error").Inc()
		return
	}
	m.purgeRuns.WithLabelValues("success").Inc()
	m.purged.Add(float64(removed))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
