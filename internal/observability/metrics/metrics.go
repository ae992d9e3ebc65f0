package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "metering_"

	resultSuccess = "success"
	resultError   = "error"
	resultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	ingestRowsTotal *prometheus.CounterVec
	ingestTotal     *prometheus.CounterVec
	ingestLatency   *prometheus.HistogramVec

	consolidateTotal   *prometheus.CounterVec
	consolidateLatency *prometheus.HistogramVec
	canonicalWritten   prometheus.Counter

	allocateTotal   *prometheus.CounterVec
	allocateLatency *prometheus.HistogramVec
	syntheticRows   prometheus.Counter

	billTotal     *prometheus.CounterVec
	billLatency   *prometheus.HistogramVec
	billSkipped   *prometheus.CounterVec
	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	jobWindowsTotal *prometheus.CounterVec
	loaderBreaker   *prometheus.GaugeVec
)

// Init registers metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		ingestRowsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_rows_total",
				Help: "Raw rows ingested by source",
			},
			[]string{"source"},
		)
		ingestTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_total",
				Help: "Total ingestion runs by source and result",
			},
			[]string{"source", "result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingestion latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source", "result"},
		)

		consolidateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "consolidate_total",
				Help: "Total consolidation runs by result",
			},
			[]string{"result"},
		)
		consolidateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "consolidate_latency_seconds",
				Help:    "Consolidation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		canonicalWritten = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "canonical_upserted_total",
				Help: "Canonical readings upserted",
			},
		)

		allocateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "allocate_total",
				Help: "Total estimation allocation runs by result",
			},
			[]string{"result"},
		)
		allocateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "allocate_latency_seconds",
				Help:    "Estimation allocation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		syntheticRows = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "synthetic_rows_total",
				Help: "Synthetic raw rows written by allocation",
			},
		)

		billTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bill_create_total",
				Help: "Total billing runs by result",
			},
			[]string{"result"},
		)
		billLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "bill_create_latency_seconds",
				Help:    "Billing run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		billSkipped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bill_slices_skipped_total",
				Help: "Billing slices skipped by reason",
			},
			[]string{"reason"},
		)
		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "document_export_total",
				Help: "Total document exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "document_export_latency_seconds",
				Help:    "Document export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		jobWindowsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "job_windows_total",
				Help: "Scheduled job windows by job and result",
			},
			[]string{"job", "result"},
		)
		loaderBreaker = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "loader_breaker_state",
				Help: "Raw loader circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		)

		prometheus.MustRegister(
			ingestRowsTotal,
			ingestTotal,
			ingestLatency,
			consolidateTotal,
			consolidateLatency,
			canonicalWritten,
			allocateTotal,
			allocateLatency,
			syntheticRows,
			billTotal,
			billLatency,
			billSkipped,
			exportTotal,
			exportLatency,
			jobWindowsTotal,
			loaderBreaker,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records an ingestion run.
func ObserveIngest(source, result string, rows int, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestTotal != nil {
		ingestTotal.WithLabelValues(source, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(source, result).Observe(duration.Seconds())
	}
	if ingestRowsTotal != nil && rows > 0 {
		ingestRowsTotal.WithLabelValues(source).Add(float64(rows))
	}
}

// ObserveConsolidate records a consolidation run.
func ObserveConsolidate(result string, written int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if consolidateTotal != nil {
		consolidateTotal.WithLabelValues(result).Inc()
	}
	if consolidateLatency != nil {
		consolidateLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if canonicalWritten != nil && written > 0 {
		canonicalWritten.Add(float64(written))
	}
}

// ObserveAllocate records an allocation run.
func ObserveAllocate(result string, rows int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if allocateTotal != nil {
		allocateTotal.WithLabelValues(result).Inc()
	}
	if allocateLatency != nil {
		allocateLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if syntheticRows != nil && rows > 0 {
		syntheticRows.Add(float64(rows))
	}
}

// ObserveBill records a billing run.
func ObserveBill(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if billTotal != nil {
		billTotal.WithLabelValues(result).Inc()
	}
	if billLatency != nil {
		billLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncBillSliceSkipped counts a slice billed as nothing.
func IncBillSliceSkipped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if billSkipped != nil {
		billSkipped.WithLabelValues(reason).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncJobWindow counts a scheduled window.
func IncJobWindow(job, result string) {
	if job == "" {
		job = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if jobWindowsTotal != nil {
		jobWindowsTotal.WithLabelValues(job, result).Inc()
	}
}

// SetLoaderBreakerState publishes the breaker state.
func SetLoaderBreakerState(name string, state int) {
	if loaderBreaker != nil {
		loaderBreaker.WithLabelValues(name).Set(float64(state))
	}
}

// Result constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultSkipped = resultSkipped
)

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}
