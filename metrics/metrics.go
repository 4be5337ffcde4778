// Package metrics exports Prometheus metrics for the HTTP API, chat turns
// and model catalog lookups.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatui"

// Metrics holds every collector the application records to. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	chatRequests *prometheus.CounterVec
	chatLatency  *prometheus.HistogramVec
	chatTokens   *prometheus.CounterVec

	catalogFallbacks *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.chatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of provider completions",
		},
		[]string{"provider", "status"},
	)

	m.chatLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "latency_seconds",
			Help:      "Provider completion latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	m.chatTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "tokens_total",
			Help:      "Tokens persisted with chat messages",
		},
		[]string{"provider", "role"},
	)

	m.catalogFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "fallbacks_total",
			Help:      "Model listings answered from the built-in fallback list",
		},
		[]string{"provider"},
	)

	m.registry.MustRegister(
		m.httpRequests,
		m.httpLatency,
		m.chatRequests,
		m.chatLatency,
		m.chatTokens,
		m.catalogFallbacks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTP records one handled HTTP request
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveCompletion records one provider call. Model names come from
// request bodies, so they are not used as labels.
func (m *Metrics) ObserveCompletion(provider string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.chatRequests.WithLabelValues(provider, status).Inc()
	m.chatLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// AddTokens counts tokens of a persisted message
func (m *Metrics) AddTokens(provider, role string, tokens int) {
	if m == nil || tokens <= 0 {
		return
	}
	m.chatTokens.WithLabelValues(provider, role).Add(float64(tokens))
}

// CatalogFallback counts a model listing served from the fallback list
func (m *Metrics) CatalogFallback(provider string) {
	if m == nil {
		return
	}
	m.catalogFallbacks.WithLabelValues(provider).Inc()
}
