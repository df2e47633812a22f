package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Sync metrics
	SyncRunsTotal           *prometheus.CounterVec
	SyncDuration            *prometheus.HistogramVec
	SyncErrorsTotal         *prometheus.CounterVec
	LastSuccessfulSync      *prometheus.GaugeVec
	BarsIngestedTotal       *prometheus.CounterVec
	SplitsDetectedTotal     *prometheus.CounterVec
	AveragesRecomputedTotal *prometheus.CounterVec

	// Backtest metrics
	BacktestRunsTotal  *prometheus.CounterVec
	BacktestFinalValue *prometheus.GaugeVec

	// External API metrics
	ExternalAPIRequestsTotal *prometheus.CounterVec
	ExternalAPIErrorsTotal   *prometheus.CounterVec
	ExternalAPIDuration      *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryTotal    *prometheus.CounterVec
	DBErrorsTotal   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

const namespace = "stock_tracker"

// durationBuckets cover fast single-row queries up to full-history syncs (seconds)
var durationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// metricFactory registers collectors under the application namespace
type metricFactory struct {
	promauto.Factory
}

func (f metricFactory) counter(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func (f metricFactory) gauge(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func (f metricFactory) histogram(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
}

// globalMetrics is the global metrics instance
var globalMetrics *Metrics

// NewMetrics creates and registers all Prometheus metrics. A nil registerer
// selects the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := metricFactory{promauto.With(reg)}

	return &Metrics{
		SyncRunsTotal: f.counter("sync", "runs_total",
			"Symbol syncs by mode and final status", "symbol", "mode", "status"),
		SyncDuration: f.histogram("sync", "duration_seconds",
			"Duration of symbol syncs in seconds", durationBuckets, "symbol", "mode"),
		SyncErrorsTotal: f.counter("sync", "errors_total",
			"Failed syncs by the stage that failed", "symbol", "stage"),
		LastSuccessfulSync: f.gauge("sync", "last_success_timestamp_seconds",
			"Unix time of the last completed sync of a symbol", "symbol"),
		BarsIngestedTotal: f.counter("sync", "bars_ingested_total",
			"Raw bars persisted", "symbol"),
		SplitsDetectedTotal: f.counter("sync", "splits_detected_total",
			"Split events applied to the adjusted series", "symbol"),
		AveragesRecomputedTotal: f.counter("sync", "averages_recomputed_total",
			"Rolling-average entries written", "symbol"),

		BacktestRunsTotal: f.counter("backtest", "runs_total",
			"Backtest evaluations", "symbol"),
		BacktestFinalValue: f.gauge("backtest", "final_value",
			"Final depot value of the latest backtest per strategy", "symbol", "strategy"),

		ExternalAPIRequestsTotal: f.counter("external_api", "requests_total",
			"Price feed requests", "service", "operation"),
		ExternalAPIErrorsTotal: f.counter("external_api", "errors_total",
			"Price feed errors by kind", "service", "operation", "error_type"),
		ExternalAPIDuration: f.histogram("external_api", "duration_seconds",
			"Duration of price feed calls in seconds", durationBuckets, "service", "operation"),

		DBQueryDuration: f.histogram("database", "query_duration_seconds",
			"Duration of series store queries in seconds", durationBuckets, "operation", "table"),
		DBQueryTotal: f.counter("database", "queries_total",
			"Series store queries", "operation", "table"),
		DBErrorsTotal: f.counter("database", "errors_total",
			"Series store errors", "operation", "table"),

		HTTPRequestsTotal: f.counter("http", "requests_total",
			"HTTP requests", "method", "path", "status_code"),
		HTTPRequestDuration: f.histogram("http", "request_duration_seconds",
			"Duration of HTTP requests in seconds", durationBuckets, "method", "path"),
		HTTPResponseSize: f.histogram("http", "response_size_bytes",
			"Size of HTTP responses in bytes", prometheus.ExponentialBuckets(100, 10, 7), "method", "path"),

		CircuitBreakerState: f.gauge("circuit_breaker", "state",
			"Feed circuit breaker state (0=closed, 1=half-open, 2=open)", "service"),
		CircuitBreakerTrips: f.counter("circuit_breaker", "trips_total",
			"Feed circuit breaker trips", "service"),
	}
}

// InitMetrics initializes the global metrics instance
func InitMetrics() *Metrics {
	globalMetrics = NewMetrics(nil)
	return globalMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	if globalMetrics == nil {
		return InitMetrics()
	}
	return globalMetrics
}

// RecordSync records a finished sync run. Completed runs also stamp the
// symbol's last-success gauge so stale symbols can be alerted on.
func (m *Metrics) RecordSync(symbol, mode, status string, duration time.Duration) {
	m.SyncRunsTotal.WithLabelValues(symbol, mode, status).Inc()
	m.SyncDuration.WithLabelValues(symbol, mode).Observe(duration.Seconds())
	if status == "completed" {
		m.LastSuccessfulSync.WithLabelValues(symbol).SetToCurrentTime()
	}
}

// RecordSyncError records a sync failure at the given stage
func (m *Metrics) RecordSyncError(symbol, stage string) {
	m.SyncErrorsTotal.WithLabelValues(symbol, stage).Inc()
}

// RecordSyncVolume records how much a sync wrote
func (m *Metrics) RecordSyncVolume(symbol string, bars, splits, averages int) {
	m.BarsIngestedTotal.WithLabelValues(symbol).Add(float64(bars))
	m.SplitsDetectedTotal.WithLabelValues(symbol).Add(float64(splits))
	m.AveragesRecomputedTotal.WithLabelValues(symbol).Add(float64(averages))
}

// RecordBacktest records a backtest and the final value of each strategy
func (m *Metrics) RecordBacktest(symbol string, finalValues map[string]float64) {
	m.BacktestRunsTotal.WithLabelValues(symbol).Inc()
	for strategy, value := range finalValues {
		m.BacktestFinalValue.WithLabelValues(symbol, strategy).Set(value)
	}
}

// RecordExternalAPIRequest counts a feed request
func (m *Metrics) RecordExternalAPIRequest(service, operation string) {
	m.ExternalAPIRequestsTotal.WithLabelValues(service, operation).Inc()
}

// RecordExternalAPIError counts a feed error of the given kind
func (m *Metrics) RecordExternalAPIError(service, operation, errorType string) {
	m.ExternalAPIErrorsTotal.WithLabelValues(service, operation, errorType).Inc()
}

// RecordExternalAPIDuration records the duration of a feed call
func (m *Metrics) RecordExternalAPIDuration(service, operation string, duration time.Duration) {
	m.ExternalAPIDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordDBQuery records a store query
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration) {
	m.DBQueryTotal.WithLabelValues(operation, table).Inc()
	m.DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordDBError records a store error
func (m *Metrics) RecordDBError(operation, table string) {
	m.DBErrorsTotal.WithLabelValues(operation, table).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration, responseSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// SetCircuitBreakerState sets the current state of a feed breaker
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordCircuitBreakerTrip counts a breaker opening
func (m *Metrics) RecordCircuitBreakerTrip(service string) {
	m.CircuitBreakerTrips.WithLabelValues(service).Inc()
}

// Timer measures one operation from its creation
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer starts a timer
func (m *Metrics) NewTimer() *Timer {
	return &Timer{start: time.Now(), metrics: m}
}

// ObserveSync records the sync duration and outcome
func (t *Timer) ObserveSync(symbol, mode, status string) {
	t.metrics.RecordSync(symbol, mode, status, time.Since(t.start))
}

// ObserveExternalAPI records the feed call duration
func (t *Timer) ObserveExternalAPI(service, operation string) {
	t.metrics.RecordExternalAPIDuration(service, operation, time.Since(t.start))
}

// ObserveDB records the store query duration
func (t *Timer) ObserveDB(operation, table string) {
	t.metrics.RecordDBQuery(operation, table, time.Since(t.start))
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
