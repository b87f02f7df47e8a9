// Package metrics provides Prometheus metrics collection for the scoring
// engine. It tracks prediction counts, stage latencies, cache effectiveness,
// and queue pressure.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "matchkit"
)

// LatencyBuckets defines histogram buckets for prediction latency metrics
// (in seconds). Skewed toward the sub-100ms range the engine operates in.
var LatencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
	0.075, 0.1, 0.15, 0.25, 0.5, 1.0, 2.5, 5.0,
}

// StageBuckets defines finer-grained buckets for per-stage timings.
var StageBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
	0.01, 0.025, 0.05, 0.1, 0.25,
}

// =============================================================================
// Prediction Metrics
// =============================================================================

var (
	// PredictionsTotal counts completed predictions by execution mode and outcome.
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Total number of predictions by execution mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// PredictionLatency tracks end-to-end prediction latency.
	PredictionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_latency_seconds",
			Help:      "End-to-end prediction latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"mode"},
	)

	// StageLatency tracks per-stage latency within a prediction.
	StageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Per-stage prediction latency in seconds",
			Buckets:   StageBuckets,
		},
		[]string{"stage"},
	)

	// DeadlineExceeded counts predictions that ran past their deadline.
	DeadlineExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deadline_exceeded_total",
			Help:      "Total predictions abandoned or failed on deadline",
		},
		[]string{"stage"},
	)

	// BatchSize tracks the size distribution of batch prediction calls.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of requests per batch prediction call",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)
)

// =============================================================================
// Cache Metrics
// =============================================================================

var (
	// CacheHits counts cache hits by entry kind and tier.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total cache hits by entry kind and tier",
		},
		[]string{"kind", "tier"},
	)

	// CacheMisses counts cache misses by entry kind.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total cache misses by entry kind",
		},
		[]string{"kind"},
	)

	// DurableCacheErrors counts failed durable-tier operations.
	DurableCacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "durable_cache_errors_total",
			Help:      "Total durable cache tier errors by operation",
		},
		[]string{"op"},
	)
)

// =============================================================================
// Queue Metrics
// =============================================================================

var (
	// QueueDepth tracks the current background queue backlog.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of queued background requests",
		},
	)

	// QueueRejections counts requests rejected because the queue was full.
	QueueRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rejections_total",
			Help:      "Total requests rejected by a full background queue",
		},
	)
)

// =============================================================================
// Health Metrics
// =============================================================================

var (
	// Healthy reports the engine health check result (1=healthy, 0=degraded).
	Healthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "healthy",
			Help:      "Engine health check result (1=healthy, 0=degraded)",
		},
	)

	// MemoryUsedMB reports the most recent sampled memory usage.
	MemoryUsedMB = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_used_mb",
			Help:      "Most recent sampled process host memory usage in MB",
		},
	)
)
