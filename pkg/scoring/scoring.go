// Package scoring defines the collaborator interfaces the engine depends on:
// the trained scoring model, the optional optimization capabilities it may
// expose, and the feature extractor that produces entity embeddings.
//
// The engine never feature-detects a model at runtime. A model either
// implements a capability interface or it does not, and the execution-mode
// optimizer falls back accordingly.
package scoring

import (
	"context"

	"github.com/matchkit/matchkit/pkg/types"
)

// Result is the raw output of one scoring invocation.
type Result struct {
	// Score is the compatibility score in [0,1].
	Score float64

	// Uncertainty is the model's reported standard deviation for Score.
	// Zero means the model reports no uncertainty.
	Uncertainty float64

	// AspectScores holds per-aspect scores keyed by the aspect names in
	// package types.
	AspectScores map[string]float64

	// ConversionEstimate is the model's estimated conversion probability.
	ConversionEstimate float64

	// Explanation holds optional human-readable scoring rationale.
	Explanation []string
}

// Model is an opaque, versioned scoring function. Implementations must be
// safe for concurrent use; the engine shares one model across all workers.
type Model interface {
	// Name identifies the model for logging and cache-key versioning.
	Name() string

	// Version identifies the trained weights revision.
	Version() string

	// Score computes the compatibility of a subject/counterpart pair.
	// The context carries the request's remaining deadline.
	Score(ctx context.Context, subject, counterpart *types.Embedding) (*Result, error)
}

// BasicOptimizable is implemented by models that support generic graph-level
// fusion and operator scheduling.
type BasicOptimizable interface {
	OptimizeBasic() (Model, error)
}

// Quantizable is implemented by models whose linear layers can be converted
// to reduced-precision representations.
type Quantizable interface {
	Quantize() (Model, error)
}

// Compilable is implemented by models that can be traced into a static
// execution graph for a fixed input shape. The returned model has a narrower
// but faster input contract: it only accepts embeddings matching the traced
// sample's dimensions.
type Compilable interface {
	Compile(sampleSubject, sampleCounterpart *types.Embedding) (Model, error)
}

// FeatureExtractor converts raw entity payloads into embeddings. The
// extractor is an external collaborator; only this access contract matters
// to the engine.
type FeatureExtractor interface {
	Extract(ctx context.Context, payload types.Payload, kind types.EntityKind) (*types.Embedding, error)
}

// FeatureExtractorFunc adapts a function to the FeatureExtractor interface.
type FeatureExtractorFunc func(ctx context.Context, payload types.Payload, kind types.EntityKind) (*types.Embedding, error)

// Extract implements FeatureExtractor.
func (f FeatureExtractorFunc) Extract(ctx context.Context, payload types.Payload, kind types.EntityKind) (*types.Embedding, error) {
	return f(ctx, payload, kind)
}
