// Package metrics exposes Prometheus collectors for the board.
//
// Every recording method is safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "localboard"

// Metrics groups the collectors of one process
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	evictions         prometheus.Counter
	submissions       *prometheus.CounterVec
	deliveries        prometheus.Counter
	deletions         prometheus.Counter
	relocations       *prometheus.CounterVec
	interactions      *prometheus.CounterVec
	flaggedDecisions  *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of registered real-time connections.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_evictions_total",
			Help:      "Connections displaced by a newer session of the same user.",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Message submissions by outcome.",
		}, []string{"outcome"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Frames successfully queued to room members.",
		}),
		deletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_deleted_total",
			Help:      "Messages removed, including cascaded replies.",
		}),
		relocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relocations_total",
			Help:      "Room migrations by cause.",
		}, []string{"cause"}),
		interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_total",
			Help:      "Recorded interactions by type.",
		}, []string{"type"}),
		flaggedDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flagged_decisions_total",
			Help:      "Moderator decisions on review ledger entries.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status code.",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		m.connectionsActive,
		m.evictions,
		m.submissions,
		m.deliveries,
		m.deletions,
		m.relocations,
		m.interactions,
		m.flaggedDecisions,
		m.httpRequests,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry for extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connectionsActive.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connectionsActive.Dec()
	}
}

func (m *Metrics) Evicted() {
	if m != nil {
		m.evictions.Inc()
	}
}

// Submission counts a pipeline outcome: accepted, uncertain, rejected,
// rate_limited or failed
func (m *Metrics) Submission(outcome string) {
	if m != nil {
		m.submissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Delivered(n int) {
	if m != nil && n > 0 {
		m.deliveries.Add(float64(n))
	}
}

func (m *Metrics) Deleted(n int) {
	if m != nil && n > 0 {
		m.deletions.Add(float64(n))
	}
}

func (m *Metrics) Relocated(cause string) {
	if m != nil {
		m.relocations.WithLabelValues(cause).Inc()
	}
}

func (m *Metrics) Interaction(kind string) {
	if m != nil {
		m.interactions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) FlaggedDecision(status string) {
	if m != nil {
		m.flaggedDecisions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Request(route string, code int) {
	if m != nil {
		m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	}
}
