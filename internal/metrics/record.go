package metrics

import (
	"time"
)

// RecordPrediction records metrics for a completed prediction.
func RecordPrediction(mode string, outcome string, elapsed time.Duration) {
	PredictionsTotal.WithLabelValues(mode, outcome).Inc()
	PredictionLatency.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// RecordStage records the duration of a single prediction stage.
func RecordStage(stage string, elapsed time.Duration) {
	StageLatency.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordCacheHit records a cache hit for the given entry kind and tier.
func RecordCacheHit(kind, tier string) {
	CacheHits.WithLabelValues(kind, tier).Inc()
}

// RecordCacheMiss records a cache miss for the given entry kind.
func RecordCacheMiss(kind string) {
	CacheMisses.WithLabelValues(kind).Inc()
}

// RecordSnapshot publishes gauge values from a monitor sweep.
func RecordSnapshot(healthy bool, memoryUsedMB float64, queueDepth int) {
	if healthy {
		Healthy.Set(1)
	} else {
		Healthy.Set(0)
	}
	MemoryUsedMB.Set(memoryUsedMB)
	QueueDepth.Set(float64(queueDepth))
}
