// Package types defines the core request, response, and domain types for the
// matchkit serving engine. These types are shared between the library facade,
// the cache layer, and the HTTP gateway.
package types

import (
	"time"
)

// EntityKind tags which side of a match an embedding describes.
type EntityKind string

const (
	// EntitySubject is the offered side of a match (e.g. a listing).
	EntitySubject EntityKind = "subject"
	// EntityCounterpart is the seeking side of a match (e.g. a seeker).
	EntityCounterpart EntityKind = "counterpart"
)

// Payload is a raw entity record as supplied by the caller. The feature
// extractor turns it into an Embedding; the engine itself never interprets
// individual fields beyond cache-key normalization.
type Payload map[string]any

// Embedding is a fixed-length numeric representation of an entity produced
// by the feature extractor. Embeddings are immutable once created: a newer
// embedding with the same EntityID supersedes an older one, it never mutates
// it in place.
type Embedding struct {
	EntityID   string               `json:"entity_id"`
	Kind       EntityKind           `json:"kind"`
	Vector     []float64            `json:"vector"`
	Components map[string][]float64 `json:"components,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

// Age returns how long ago the embedding was created.
func (e *Embedding) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Aspect names for per-aspect compatibility scores.
const (
	AspectSimilarity             = "similarity"
	AspectPreferenceAlignment    = "preference_alignment"
	AspectMarketOpportunity      = "market_opportunity"
	AspectInvestmentPotential    = "investment_potential"
	AspectLifestyleFit           = "lifestyle_fit"
	AspectFinancialCompatibility = "financial_compatibility"
)

// Strength grades how actionable a prediction is.
type Strength string

const (
	StrengthStrong   Strength = "strong"
	StrengthModerate Strength = "moderate"
	StrengthWeak     Strength = "weak"
)

// DeriveStrength grades a score given its confidence interval width and
// per-aspect scores. Used when the scoring model does not report a strength
// of its own.
func DeriveStrength(score, confidenceLow, confidenceHigh float64, aspects map[string]float64) Strength {
	width := confidenceHigh - confidenceLow

	var sum float64
	for _, v := range aspects {
		sum += v
	}
	var avg float64
	if len(aspects) > 0 {
		avg = sum / float64(len(aspects))
	}

	if score > 0.8 && width < 0.3 && avg > 0.7 && aspects[AspectFinancialCompatibility] > 0.7 {
		return StrengthStrong
	}
	if score > 0.6 && width < 0.5 && avg > 0.5 {
		return StrengthModerate
	}
	return StrengthWeak
}

// Prediction is the ranked compatibility outcome for a (subject, counterpart)
// pair. Predictions are immutable and identified by a deterministic cache key
// derived from the normalized request payload.
type Prediction struct {
	SubjectID          string             `json:"subject_id"`
	CounterpartID      string             `json:"counterpart_id"`
	Score              float64            `json:"score"`
	ConfidenceLow      float64            `json:"confidence_low"`
	ConfidenceHigh     float64            `json:"confidence_high"`
	AspectScores       map[string]float64 `json:"aspect_scores,omitempty"`
	Explanation        []string           `json:"explanation,omitempty"`
	Strength           Strength           `json:"strength"`
	ConversionEstimate float64            `json:"conversion_estimate"`
	CreatedAt          time.Time          `json:"created_at"`
}

// InferenceRequest is a single prediction request. It is created per call and
// discarded once a response is produced or the deadline lapses.
type InferenceRequest struct {
	RequestID   string        `json:"request_id"`
	Subject     Payload       `json:"subject"`
	Counterpart Payload       `json:"counterpart"`
	Context     Payload       `json:"context,omitempty"`
	Priority    int           `json:"priority,omitempty"`
	Deadline    time.Duration `json:"deadline,omitempty"`
}

// Cache hit map keys used in InferenceResponse.CacheHits.
const (
	CacheHitPrediction           = "prediction"
	CacheHitSubjectEmbedding     = "subject_embedding"
	CacheHitCounterpartEmbedding = "counterpart_embedding"
)

// Stage timing keys used in InferenceResponse.StageTimings.
const (
	StageCacheLookup          = "cache_lookup"
	StageSubjectEmbedding     = "subject_embedding"
	StageCounterpartEmbedding = "counterpart_embedding"
	StageScoring              = "scoring"
	StageCacheWrite           = "cache_write"
)

// InferenceResponse carries either a Prediction or a non-empty error, never
// both, plus the timing breakdown of the stages the request went through.
type InferenceResponse struct {
	RequestID    string             `json:"request_id"`
	Prediction   *Prediction        `json:"prediction,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	ElapsedMS    float64            `json:"elapsed_ms"`
	CacheHits    map[string]bool    `json:"cache_hits,omitempty"`
	StageTimings map[string]float64 `json:"stage_timings,omitempty"`
	Success      bool               `json:"success"`
}

// PerformanceSnapshot is a point-in-time view of engine performance. It is
// recomputed on a fixed cadence; the previous snapshot is discarded.
type PerformanceSnapshot struct {
	AvgMS             float64            `json:"avg_ms"`
	P50MS             float64            `json:"p50_ms"`
	P95MS             float64            `json:"p95_ms"`
	P99MS             float64            `json:"p99_ms"`
	RequestsPerSecond float64            `json:"requests_per_second"`
	TotalRequests     int64              `json:"total_requests"`
	ErrorRate         float64            `json:"error_rate"`
	TimeoutRate       float64            `json:"timeout_rate"`
	CacheHitRates     map[string]float64 `json:"cache_hit_rates,omitempty"`
	QueueDepth        int                `json:"queue_depth"`
	MemoryUsedMB      float64            `json:"memory_used_mb"`
	CPUPercent        float64            `json:"cpu_percent"`
	Timestamp         time.Time          `json:"timestamp"`
}
