// Package metrics provides Prometheus metrics for the Atlas scoring service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager manages all Prometheus metrics for the Atlas service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Run metrics
	runsTotal     *prometheus.CounterVec
	runErrors     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	// Estimation metrics
	modelFits       *prometheus.CounterVec
	solverFallbacks prometheus.Counter
	irlsIterations  prometheus.Histogram
	predictions     *prometheus.CounterVec
	ecdfCacheOps    *prometheus.CounterVec

	// Ranking metrics
	storesRanked            prometheus.Gauge
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "atlas",
		subsystem:        "scoring",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // metric definitions
	auto := promauto.With(m.registry)

	m.runsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "runs_total",
		Help:      "Scoring runs completed, by mode",
	}, []string{"mode"})

	m.runErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "run_errors_total",
		Help:      "Scoring runs aborted by an input error, by stage",
	}, []string{"stage"})

	m.stageDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stage_duration_seconds",
		Help:      "Duration of prior, fit, predict and blend stages",
		Buckets:   m.histogramBuckets,
	}, []string{"stage"})

	m.modelFits = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "model_fits_total",
		Help:      "Count model fits, by family",
	}, []string{"family"})

	m.solverFallbacks = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "solver_fallbacks_total",
		Help:      "IRLS failures recovered by the ridge fallback",
	})

	m.irlsIterations = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "irls_iterations",
		Help:      "IRLS iterations until convergence",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 100},
	})

	m.predictions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "predictions_total",
		Help:      "Posterior predictions, by method tag",
	}, []string{"method"})

	m.ecdfCacheOps = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ecdf_cache_operations_total",
		Help:      "ECDF reference cache reads and writes",
	}, []string{"operation", "result"})

	m.storesRanked = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stores_ranked",
		Help:      "Stores currently held by the ranking store",
	})

	m.repositoryUpdateLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repository_update_latency_milliseconds",
		Help:      "Ranking store update latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.repositoryQueryLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repository_query_latency_milliseconds",
		Help:      "Ranking store query latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "HTTP requests, by endpoint, method and status",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "errors_by_component_total",
		Help:      "Errors, by component and type",
	}, []string{"component", "error_type"})
}

// RecordRun increments the completed runs counter for mode.
func RecordRun(mode string) {
	globalManager.runsTotal.WithLabelValues(mode).Inc()
}

// RecordRunError increments the aborted runs counter for stage.
func RecordRunError(stage string) {
	globalManager.runErrors.WithLabelValues(stage).Inc()
}

// RecordStageDuration records how long a stage took, in seconds.
func RecordStageDuration(stage string, seconds float64) {
	globalManager.stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordModelFit counts a fitted count model.
func RecordModelFit(family string) {
	globalManager.modelFits.WithLabelValues(family).Inc()
}

// RecordSolverFallback counts a recovered IRLS failure.
func RecordSolverFallback() {
	globalManager.solverFallbacks.Inc()
}

// RecordIRLSIterations records the iterations of a converged fit.
func RecordIRLSIterations(n int) {
	globalManager.irlsIterations.Observe(float64(n))
}

// RecordPrediction counts a posterior prediction by method tag.
func RecordPrediction(method string) {
	globalManager.predictions.WithLabelValues(method).Inc()
}

// RecordECDFCache counts a cache operation ("read"/"write") and its result.
func RecordECDFCache(operation, result string) {
	globalManager.ecdfCacheOps.WithLabelValues(operation, result).Inc()
}

// UpdateStoresRanked sets the ranked stores gauge.
func UpdateStoresRanked(count int) {
	globalManager.storesRanked.Set(float64(count))
}

// RecordRepositoryUpdateLatency records ranking store update latency in milliseconds.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records ranking store query latency in milliseconds.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in seconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent counts an error by component and type.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom registry backing the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Handler serves the custom registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(customRegistry, promhttp.HandlerOpts{})
}
