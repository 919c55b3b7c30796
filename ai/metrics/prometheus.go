// Package metrics provides Prometheus metrics export for the memory service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JohnV2002/Finja-AI-Ecosystem/store/cache"
)

const (
	namespace = "finja"
	subsystem = "memory"
)

// PrometheusExporter exports memory service metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Write pipeline
	outcomes  *prometheus.CounterVec
	fallbacks *prometheus.CounterVec

	// Providers
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec

	// Caches
	cacheLookups   *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	cacheUsers     prometheus.Gauge

	// Backups
	backups       *prometheus.CounterVec
	backupLatency prometheus.Histogram

	// HTTP
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

var _ cache.Observer = (*PrometheusExporter)(nil)

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "add_outcomes_total",
			Help:      "Outcomes of memory write attempts by reason",
		},
		[]string{"accepted", "reason"},
	)
	e.fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "provider_fallbacks_total",
			Help:      "Times a pipeline stage fell back to its local strategy",
		},
		[]string{"stage"},
	)

	e.providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "provider_calls_total",
			Help:      "Hosted provider calls by operation and status",
		},
		[]string{"provider", "operation", "status"},
	)
	e.providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "provider_latency_seconds",
			Help:      "Hosted provider call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"provider", "operation"},
	)

	e.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)
	e.cacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_evictions_total",
			Help:      "Users evicted from the working-set cache",
		},
	)
	e.cacheUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_users",
			Help:      "Users currently held in the working-set cache",
		},
	)

	e.backups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backups_total",
			Help:      "Per-user backups by status",
		},
		[]string{"status"},
	)
	e.backupLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backup_run_seconds",
			Help:      "Duration of full backup runs in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		},
		[]string{"method", "route", "code"},
	)
	e.httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_latency_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"method", "route"},
	)

	registry.MustRegister(
		e.outcomes,
		e.fallbacks,
		e.providerCalls,
		e.providerLatency,
		e.cacheLookups,
		e.cacheEvictions,
		e.cacheUsers,
		e.backups,
		e.backupLatency,
		e.httpRequests,
		e.httpLatency,
	)
	return e
}

// RecordOutcome counts one write attempt.
func (e *PrometheusExporter) RecordOutcome(accepted bool, reason string) {
	e.outcomes.WithLabelValues(strconv.FormatBool(accepted), reason).Inc()
}

// RecordFallback counts a stage that fell back to its local strategy.
func (e *PrometheusExporter) RecordFallback(stage string) {
	e.fallbacks.WithLabelValues(stage).Inc()
}

// RecordProviderCall records one hosted provider call.
func (e *PrometheusExporter) RecordProviderCall(provider, operation string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.providerCalls.WithLabelValues(provider, operation, status).Inc()
	e.providerLatency.WithLabelValues(provider, operation).Observe(latency.Seconds())
}

// RecordCacheLookup records a lookup in a named cache.
func (e *PrometheusExporter) RecordCacheLookup(name string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	e.cacheLookups.WithLabelValues(name, result).Inc()
}

// CacheLookup implements cache.Observer.
func (e *PrometheusExporter) CacheLookup(hit bool) {
	e.RecordCacheLookup("working_set", hit)
}

// CacheEvicted implements cache.Observer.
func (e *PrometheusExporter) CacheEvicted(users int) {
	e.cacheEvictions.Add(float64(users))
}

// CacheUsers implements cache.Observer.
func (e *PrometheusExporter) CacheUsers(n int) {
	e.cacheUsers.Set(float64(n))
}

// RecordBackup counts one per-user backup.
func (e *PrometheusExporter) RecordBackup(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.backups.WithLabelValues(status).Inc()
}

// RecordBackupRun records the duration of a full backup run.
func (e *PrometheusExporter) RecordBackupRun(d time.Duration) {
	e.backupLatency.Observe(d.Seconds())
}

// RecordHTTPRequest records one served request. route is the route pattern,
// not the raw path, to bound label cardinality.
func (e *PrometheusExporter) RecordHTTPRequest(method, route string, code int, latency time.Duration) {
	e.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	e.httpLatency.WithLabelValues(method, route).Observe(latency.Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
