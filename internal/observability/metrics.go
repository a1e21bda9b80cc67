package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	embeddingDuration  prometheus.Histogram
	embeddingCacheHits prometheus.Counter
	embeddingCacheMiss prometheus.Counter

	searchDuration prometheus.Histogram
	saveDuration   prometheus.Histogram

	indexWriteDuration prometheus.Histogram
	indexBuildDuration prometheus.Histogram

	reconcileDuration prometheus.Histogram
	reconcileRepairs  *prometheus.CounterVec

	accessFailures prometheus.Counter

	memoryRows prometheus.Gauge
	indexRows  prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			embeddingDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "embedding_duration_seconds",
					Help:    "Embedding provider call duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			embeddingCacheHits: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "embedding_cache_hits_total",
					Help: "Embedding cache hits.",
				},
			),
			embeddingCacheMiss: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "embedding_cache_misses_total",
					Help: "Embedding cache misses.",
				},
			),
			searchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_search_duration_seconds",
					Help:    "Hybrid search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			saveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_save_duration_seconds",
					Help:    "Memory save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			indexWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "index_write_duration_seconds",
					Help:    "Vector/text store write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			indexBuildDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "index_build_duration_seconds",
					Help:    "Index rebuild duration in seconds.",
					Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
				},
			),
			reconcileDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "reconcile_duration_seconds",
					Help:    "Reconciliation pass duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			reconcileRepairs: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reconcile_repairs_total",
					Help: "Reconciliation repairs by kind.",
				},
				[]string{"kind"},
			),
			accessFailures: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "memory_access_record_failures_total",
					Help: "Failed best-effort access-count updates.",
				},
			),
			memoryRows: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_rows_total",
					Help: "Rows in the record store.",
				},
			),
			indexRows: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "index_rows_total",
					Help: "Rows in the vector/text store.",
				},
			),
		}

		prometheus.MustRegister(
			m.embeddingDuration,
			m.embeddingCacheHits,
			m.embeddingCacheMiss,
			m.searchDuration,
			m.saveDuration,
			m.indexWriteDuration,
			m.indexBuildDuration,
			m.reconcileDuration,
			m.reconcileRepairs,
			m.accessFailures,
			m.memoryRows,
			m.indexRows,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordEmbedding(duration time.Duration) {
	getMetrics().embeddingDuration.Observe(duration.Seconds())
}

func RecordEmbeddingCacheHit() {
	getMetrics().embeddingCacheHits.Inc()
}

func RecordEmbeddingCacheMiss() {
	getMetrics().embeddingCacheMiss.Inc()
}

func RecordSearch(duration time.Duration) {
	getMetrics().searchDuration.Observe(duration.Seconds())
}

func RecordSave(duration time.Duration) {
	getMetrics().saveDuration.Observe(duration.Seconds())
}

func RecordIndexWrite(duration time.Duration) {
	getMetrics().indexWriteDuration.Observe(duration.Seconds())
}

func RecordIndexBuild(duration time.Duration) {
	getMetrics().indexBuildDuration.Observe(duration.Seconds())
}

func RecordReconcile(duration time.Duration) {
	getMetrics().reconcileDuration.Observe(duration.Seconds())
}

func RecordReconcileRepair(kind string) {
	getMetrics().reconcileRepairs.WithLabelValues(kind).Inc()
}

func RecordAccessFailure() {
	getMetrics().accessFailures.Inc()
}

func SetMemoryRows(count int) {
	getMetrics().memoryRows.Set(float64(count))
}

func SetIndexRows(count int) {
	getMetrics().indexRows.Set(float64(count))
}
