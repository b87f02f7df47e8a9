// Package matchkit provides a low-latency scoring and serving engine for
// trained compatibility models as a Go library.
//
// Matchkit can be used in two modes:
//   - Library Mode: Import and use directly in your Go application
//   - Gateway Mode: Run as a standalone HTTP prediction server
//
// Basic usage:
//
//	engine, err := matchkit.New(
//	    matchkit.WithScoringModel(model),
//	    matchkit.WithFeatureExtractor(extractor),
//	    matchkit.WithExecutionMode("quantized"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	resp, err := engine.Predict(ctx, &matchkit.InferenceRequest{
//	    Subject:     matchkit.Payload{"id": "listing-42", "price": 425000},
//	    Counterpart: matchkit.Payload{"id": "seeker-7", "budget_max": 450000},
//	})
package matchkit

import (
	"github.com/matchkit/matchkit/internal/cache"
	"github.com/matchkit/matchkit/internal/config"
	"github.com/matchkit/matchkit/internal/telemetry"
	"github.com/matchkit/matchkit/pkg/inferr"
	"github.com/matchkit/matchkit/pkg/scoring"
	"github.com/matchkit/matchkit/pkg/types"
)

// Version is the current version of matchkit.
const Version = "1.0.0"

// Re-export core request/response types for convenience.
// Users can use matchkit.InferenceRequest instead of types.InferenceRequest.
type (
	// InferenceRequest is a single prediction request.
	InferenceRequest = types.InferenceRequest

	// InferenceResponse carries a prediction or an error plus stage timings.
	InferenceResponse = types.InferenceResponse

	// Prediction is the scored outcome for a subject/counterpart pair.
	Prediction = types.Prediction

	// Payload is a raw entity record as supplied by the caller.
	Payload = types.Payload

	// Embedding is the feature extractor's numeric entity representation.
	Embedding = types.Embedding

	// EntityKind tags which side of a match an embedding describes.
	EntityKind = types.EntityKind

	// Strength grades how actionable a prediction is.
	Strength = types.Strength

	// PerformanceSnapshot is a point-in-time view of engine performance.
	PerformanceSnapshot = types.PerformanceSnapshot
)

// Re-export collaborator contracts.
type (
	// Model is the trained scoring model the engine serves.
	Model = scoring.Model

	// ScoringResult is the raw output of one scoring invocation.
	ScoringResult = scoring.Result

	// FeatureExtractor converts raw payloads into embeddings.
	FeatureExtractor = scoring.FeatureExtractor

	// FeatureExtractorFunc adapts a function to the FeatureExtractor interface.
	FeatureExtractorFunc = scoring.FeatureExtractorFunc

	// BasicOptimizable marks models supporting graph-level optimization.
	BasicOptimizable = scoring.BasicOptimizable

	// Quantizable marks models supporting reduced-precision conversion.
	Quantizable = scoring.Quantizable

	// Compilable marks models supporting shape-traced compilation.
	Compilable = scoring.Compilable
)

// Re-export infrastructure contracts for advanced wiring.
type (
	// Config is the full engine configuration tree.
	Config = config.Config

	// CacheBackend is the byte-level durable cache contract.
	CacheBackend = cache.Backend

	// TelemetrySink receives periodic performance snapshots.
	TelemetrySink = telemetry.Sink

	// EngineError is a standardized engine error.
	EngineError = inferr.Error
)

// Re-export entity kind constants.
const (
	EntitySubject     = types.EntitySubject
	EntityCounterpart = types.EntityCounterpart
)

// Re-export prediction strength constants.
const (
	StrengthStrong   = types.StrengthStrong
	StrengthModerate = types.StrengthModerate
	StrengthWeak     = types.StrengthWeak
)

// Re-export error type constants.
const (
	TypeValidation          = inferr.TypeValidation
	TypeUpstreamTimeout     = inferr.TypeUpstreamTimeout
	TypeCacheUnavailable    = inferr.TypeCacheUnavailable
	TypeOptimizationFailure = inferr.TypeOptimizationFailure
	TypeCapacityExceeded    = inferr.TypeCapacityExceeded
	TypeInternal            = inferr.TypeInternal
)

// Re-export error predicates.
var (
	IsTimeout          = inferr.IsTimeout
	IsValidation       = inferr.IsValidation
	IsCapacityExceeded = inferr.IsCapacityExceeded
)

// DefaultConfig returns the engine's default configuration.
func DefaultConfig() *Config {
	return config.DefaultConfig()
}
