package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	versionConflicts prometheus.Counter
	sweepDuration    prometheus.Histogram
	sweepExpired     prometheus.Counter
	sweepFailures    prometheus.Counter
	permissionChecks *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
}

// New registers the collectors on a dedicated registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "share_approval_transitions_total",
			Help: "Share approval requests opened or moved to a terminal status",
		}, []string{"status"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "share_approval_decisions_total",
			Help: "Recorded approver decisions",
		}, []string{"decision"}),
		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "share_approval_version_conflicts_total",
			Help: "Optimistic concurrency conflicts retried by the workflow engine",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "share_approval_sweep_duration_seconds",
			Help:    "Duration of expiration sweeper runs",
			Buckets: prometheus.DefBuckets,
		}),
		sweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "share_approval_sweep_expired_total",
			Help: "Requests expired by the sweeper",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "share_approval_sweep_failures_total",
			Help: "Requests the sweeper failed to expire",
		}),
		permissionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bucket_permission_checks_total",
			Help: "Bucket permission checks by subject type and outcome",
		}, []string{"subject", "result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "permission_cache_lookups_total",
			Help: "Permission cache lookups by result",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.requestDuration,
		m.requestTotal,
		m.transitions,
		m.decisions,
		m.versionConflicts,
		m.sweepDuration,
		m.sweepExpired,
		m.sweepFailures,
		m.permissionChecks,
		m.cacheLookups,
		collectors.NewGoCollector(),
	)

	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request latency and count
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordTransition counts a request entering status
func (m *Metrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// RecordDecision counts a recorded vote
func (m *Metrics) RecordDecision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}

// RecordVersionConflict counts a retried optimistic-lock conflict
func (m *Metrics) RecordVersionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}

// RecordSweep records one sweeper run
func (m *Metrics) RecordSweep(expired, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
	m.sweepExpired.Add(float64(expired))
	m.sweepFailures.Add(float64(failed))
}

// RecordPermissionCheck counts a permission check outcome
func (m *Metrics) RecordPermissionCheck(subject string, allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.permissionChecks.WithLabelValues(subject, result).Inc()
}

// RecordCacheLookup counts a permission cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
