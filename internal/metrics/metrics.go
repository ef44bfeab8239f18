package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// CacheHits counts response cache hits by operation.
	CacheHits *prometheus.CounterVec
	// CacheMisses counts response cache misses by operation.
	CacheMisses *prometheus.CounterVec
	// CacheEntries tracks the current number of live cache entries.
	CacheEntries prometheus.Gauge
	// UpstreamRequests counts authenticated upstream calls by operation and status.
	UpstreamRequests *prometheus.CounterVec
	// UpstreamLatency tracks upstream call latency by operation.
	UpstreamLatency *prometheus.HistogramVec
	// ReauthAttempts counts silent refresh attempts by outcome.
	ReauthAttempts *prometheus.CounterVec
	// Logins counts interactive login outcomes.
	Logins *prometheus.CounterVec
	// SessionsUnavailable counts sessions marked permanently unavailable.
	SessionsUnavailable prometheus.Counter
	// VersionRefreshes counts client-version fingerprint refreshes by result.
	VersionRefreshes *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a fresh registry.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Response cache hits by operation",
			},
			[]string{"operation"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Response cache misses by operation",
			},
			[]string{"operation"},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Current number of live response cache entries",
			},
		),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Authenticated upstream calls by operation and status",
			},
			[]string{"operation", "status"},
		),
		UpstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_latency_seconds",
				Help:      "Upstream call latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"operation"},
		),
		ReauthAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reauth_attempts_total",
				Help:      "Silent refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logins_total",
				Help:      "Interactive login outcomes",
			},
			[]string{"outcome"},
		),
		SessionsUnavailable: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_unavailable_total",
				Help:      "Sessions marked permanently unavailable",
			},
		),
		VersionRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "version_refreshes_total",
				Help:      "Client-version fingerprint refreshes by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.CacheHits,
		m.CacheMisses,
		m.CacheEntries,
		m.UpstreamRequests,
		m.UpstreamLatency,
		m.ReauthAttempts,
		m.Logins,
		m.SessionsUnavailable,
		m.VersionRefreshes,
	)

	return m
}

// Handler returns an HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
