// Package metrics provides Prometheus instrumentation for the forward
// proxy, retargeting the teacher's internal/metrics package (request
// counters/histograms, connection gauge) at forward-proxy concerns:
// cache outcome instead of backend/status, relayed bytes, and live cache
// occupancy.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome classifies how a single transaction ended, for the
// requests/duration label set.
type Outcome string

const (
	OutcomeCacheHit       Outcome = "cache_hit"
	OutcomeCacheMiss      Outcome = "cache_miss"
	OutcomeBadRequest     Outcome = "bad_request"
	OutcomeNotImplemented Outcome = "not_implemented"
	OutcomeOriginError    Outcome = "origin_error"
	OutcomeRateLimited    Outcome = "rate_limited"
)

// Metrics holds every Prometheus instrument the proxy exposes.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	activeConnections prometheus.Gauge
	cacheSizeBytes    prometheus.Gauge
	cacheEntries      prometheus.Gauge
	cacheEvictions    prometheus.Counter
	bytesRelayed      *prometheus.CounterVec
}

// New creates and registers every instrument with the given registry. A
// nil registry registers against prometheus's default registry.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_requests_total",
				Help: "Total number of client transactions processed, by outcome",
			},
			[]string{"method", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proxy_request_duration_seconds",
				Help:    "Transaction duration in seconds, by outcome",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "proxy_active_connections",
				Help: "Number of client connections currently being serviced",
			},
		),
		cacheSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "proxy_cache_size_bytes",
				Help: "Total bytes currently held in the response cache",
			},
		),
		cacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "proxy_cache_entries",
				Help: "Number of entries currently held in the response cache",
			},
		),
		cacheEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "proxy_cache_evictions_total",
				Help: "Total number of cache entries evicted",
			},
		),
		bytesRelayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_bytes_relayed_total",
				Help: "Total bytes relayed between origin and client",
			},
			[]string{"direction"},
		),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeConnections,
		m.cacheSizeBytes,
		m.cacheEntries,
		m.cacheEvictions,
		m.bytesRelayed,
	)

	return m
}

// RecordTransaction records one completed worker transaction.
func (m *Metrics) RecordTransaction(method string, outcome Outcome, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, string(outcome)).Inc()
	m.requestDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

// IncrementConnections marks one more connection as active.
func (m *Metrics) IncrementConnections() { m.activeConnections.Inc() }

// DecrementConnections marks one less connection as active.
func (m *Metrics) DecrementConnections() { m.activeConnections.Dec() }

// SetCacheOccupancy reports the cache's current size and entry count.
// Intended to be sampled periodically from cache.Cache.TotalSize/Len.
func (m *Metrics) SetCacheOccupancy(sizeBytes int64, entries int) {
	m.cacheSizeBytes.Set(float64(sizeBytes))
	m.cacheEntries.Set(float64(entries))
}

// RecordEviction increments the eviction counter. Intended to be wired
// into cache.Cache.OnEvict.
func (m *Metrics) RecordEviction() { m.cacheEvictions.Inc() }

// RecordBytesRelayed adds n to the origin-to-client relay counter.
func (m *Metrics) RecordBytesRelayed(n int64) {
	m.bytesRelayed.WithLabelValues("origin_to_client").Add(float64(n))
}

// Handler returns the HTTP handler for Prometheus scraping, served on the
// internal metrics port rather than the proxy's client-facing listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
