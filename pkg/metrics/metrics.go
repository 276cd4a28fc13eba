package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Query cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheDedups prometheus.Counter

	// External API metrics
	ExternalAPICalls    *prometheus.CounterVec
	ExternalAPIDuration *prometheus.HistogramVec
	ExternalAPIFailures *prometheus.CounterVec

	// Analysis metrics
	AnalysisOpsTotal   *prometheus.CounterVec
	AnalysisDuration   *prometheus.HistogramVec
	HealthChecksTotal  *prometheus.CounterVec
	ScheduledInFlight  prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		CacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "query_cache_hits_total",
				Help: "Total number of analytics query cache hits",
			},
		),

		CacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "query_cache_misses_total",
				Help: "Total number of analytics query cache misses",
			},
		),

		CacheDedups: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "query_cache_dedups_total",
				Help: "Total number of callers coalesced onto an in-flight fetch",
			},
		),

		ExternalAPICalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "external_api_calls_total",
				Help: "Total number of external API calls",
			},
			[]string{"api", "status"},
		),

		ExternalAPIDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "external_api_duration_seconds",
				Help:    "External API call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"api"},
		),

		ExternalAPIFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "external_api_failures_total",
				Help: "Total number of external API failures",
			},
			[]string{"api", "error_type"},
		),

		AnalysisOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_operations_total",
				Help: "Total number of analysis operations executed",
			},
			[]string{"operation", "status"},
		),

		AnalysisDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "analysis_operation_duration_seconds",
				Help:    "Analysis operation duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"operation"},
		),

		HealthChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "site_health_checks_total",
				Help: "Total number of site health checks",
			},
			[]string{"status"},
		),

		ScheduledInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scheduled_units_in_flight",
				Help: "Number of scheduler units currently executing",
			},
		),
	}
}

// HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Query cache metrics
func (m *Metrics) RecordCacheHit()   { m.CacheHits.Inc() }
func (m *Metrics) RecordCacheMiss()  { m.CacheMisses.Inc() }
func (m *Metrics) RecordCacheDedup() { m.CacheDedups.Inc() }

// External API call metrics
func (m *Metrics) RecordExternalAPICall(api, status string, duration time.Duration) {
	m.ExternalAPICalls.WithLabelValues(api, status).Inc()
	m.ExternalAPIDuration.WithLabelValues(api).Observe(duration.Seconds())
}

// External API failure metrics
func (m *Metrics) RecordExternalAPIFailure(api, errorType string) {
	m.ExternalAPIFailures.WithLabelValues(api, errorType).Inc()
}

// Analysis operation metrics
func (m *Metrics) RecordAnalysisOp(operation, status string, duration time.Duration) {
	m.AnalysisOpsTotal.WithLabelValues(operation, status).Inc()
	m.AnalysisDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Health check outcome
func (m *Metrics) RecordHealthCheck(status string) {
	m.HealthChecksTotal.WithLabelValues(status).Inc()
}

// Scheduler units in flight
func (m *Metrics) IncScheduledInFlight() {
	m.ScheduledInFlight.Inc()
}

// Scheduler units in flight
func (m *Metrics) DecScheduledInFlight() {
	m.ScheduledInFlight.Dec()
}

// HTTP requests in flight counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// HTTP requests in flight counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}
