package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	idempotencyCounter    *prometheus.CounterVec
	generationRunCounter  *prometheus.CounterVec
	invoicesCreatedGauge  prometheus.Gauge
	rateFallbackCounter   *prometheus.CounterVec
	auditFailureCounter   prometheus.Counter
	lockContentionCounter *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		generationRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_generation_runs_total",
			Help: "Monthly invoice generation run outcomes",
		}, []string{"result"})

		invoicesCreatedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "invoice_generation_last_created",
			Help: "Invoices created by the most recent generation run",
		})

		rateFallbackCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_rate_fallbacks_total",
			Help: "Conversions that fell back past the active rate",
		}, []string{"fallback"})

		auditFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit ledger writes that failed and rolled back their mutation",
		})

		lockContentionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "period_lock_contention_total",
			Help: "Lock acquisitions that found another holder",
		}, []string{"lock"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			idempotencyCounter,
			generationRunCounter,
			invoicesCreatedGauge,
			rateFallbackCounter,
			auditFailureCounter,
			lockContentionCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementGenerationRun(result string) {
	if generationRunCounter == nil {
		return
	}
	generationRunCounter.WithLabelValues(result).Inc()
}

func SetLastGenerationCreated(count int) {
	if invoicesCreatedGauge == nil {
		return
	}
	invoicesCreatedGauge.Set(float64(count))
}

func IncrementRateFallback(fallback string) {
	if rateFallbackCounter == nil {
		return
	}
	rateFallbackCounter.WithLabelValues(fallback).Inc()
}

func IncrementAuditFailure() {
	if auditFailureCounter == nil {
		return
	}
	auditFailureCounter.Inc()
}

func IncrementLockContention(lock string) {
	if lockContentionCounter == nil {
		return
	}
	lockContentionCounter.WithLabelValues(lock).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
