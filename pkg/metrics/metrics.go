// Package metrics holds the Prometheus collectors for the indexer and the query API.
// All Observe methods are safe to call on a nil receiver, so components work without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roscax"

// Projection covers event processing in the indexer.
type Projection struct {
	events              *prometheus.CounterVec
	applySeconds        *prometheus.HistogramVec
	integrityViolations prometheus.Counter
	auditMismatches     prometheus.Counter
	batchSize           prometheus.Histogram
}

// NewProjection creates and registers the projection collectors on reg.
func NewProjection(reg prometheus.Registerer) *Projection {
	m := &Projection{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Feed entries handled, by event kind and outcome.",
		}, []string{"kind", "outcome"}),
		applySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_apply_seconds",
			Help:      "Time spent applying one event, retries included.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"kind"}),
		integrityViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_violations_total",
			Help:      "Events rejected because they contradict tracked balances.",
		}),
		auditMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_mismatches_total",
			Help:      "Circles whose deposit total disagreed with their deposit rows during an audit.",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Feed entries per processed batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	reg.MustRegister(m.events, m.applySeconds, m.integrityViolations, m.auditMismatches, m.batchSize)
	return m
}

func (m *Projection) ObserveEvent(kind, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, outcome).Inc()
	if took > 0 {
		m.applySeconds.WithLabelValues(kind).Observe(took.Seconds())
	}
}

func (m *Projection) ObserveIntegrityViolation() {
	if m == nil {
		return
	}
	m.integrityViolations.Inc()
}

func (m *Projection) ObserveAuditMismatch() {
	if m == nil {
		return
	}
	m.auditMismatches.Inc()
}

func (m *Projection) ObserveBatch(n int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(n))
}

// HTTP covers the query API.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	m := &HTTP{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Query API requests by route template and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Query API latency by route template.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.3, 0.5, 1, 2},
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *HTTP) ObserveRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, http.StatusText(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(took.Seconds())
}

// Handler exposes everything registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
