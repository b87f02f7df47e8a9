// Package optimizer prepares a scoring model for execution under one of four
// modes: unoptimized, basic graph optimization, quantized execution, or
// compiled graph execution. Mode preparation failures fall back one mode
// down and are logged, never propagated; callers always receive a working
// handle for any loaded model.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matchkit/matchkit/pkg/inferr"
	"github.com/matchkit/matchkit/pkg/scoring"
	"github.com/matchkit/matchkit/pkg/types"
)

// Mode selects the performance/accuracy tradeoff tier for model execution.
type Mode string

const (
	ModeNone      Mode = "none"      // model unmodified
	ModeBasic     Mode = "basic"     // graph-level fusions, operator scheduling
	ModeQuantized Mode = "quantized" // reduced-precision linear layers
	ModeCompiled  Mode = "compiled"  // static graph traced for a fixed input shape
)

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNone, ModeBasic, ModeQuantized, ModeCompiled:
		return Mode(s), nil
	case "":
		return ModeNone, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q", s)
	}
}

// Handle is an immutable execution handle. It is safe for unsynchronized
// concurrent reads; callers are mode-agnostic.
type Handle struct {
	mode  Mode
	model scoring.Model

	// Compiled handles carry a narrower input contract: embeddings must
	// match the traced sample's dimensions.
	subjectDim     int
	counterpartDim int
}

// Mode returns the mode the handle actually runs under, which may be lower
// than the requested mode after fallback.
func (h *Handle) Mode() Mode { return h.mode }

// ModelName returns the underlying model's name.
func (h *Handle) ModelName() string { return h.model.Name() }

// ModelVersion returns the underlying model's weights revision.
func (h *Handle) ModelVersion() string { return h.model.Version() }

// Run scores one subject/counterpart pair. Compiled handles reject
// embeddings that do not match the traced shape.
func (h *Handle) Run(ctx context.Context, subject, counterpart *types.Embedding) (*scoring.Result, error) {
	if h.mode == ModeCompiled {
		if len(subject.Vector) != h.subjectDim || len(counterpart.Vector) != h.counterpartDim {
			return nil, fmt.Errorf("compiled handle: input shape (%d,%d) does not match traced shape (%d,%d)",
				len(subject.Vector), len(counterpart.Vector), h.subjectDim, h.counterpartDim)
		}
	}
	return h.model.Score(ctx, subject, counterpart)
}

// Prepare produces an execution handle for the requested mode. sample holds
// one representative input pair used for shape tracing in compiled mode.
//
// Fallback chain on preparation failure: compiled → basic, quantized →
// basic, basic → none. A model that does not implement a mode's capability
// interface is treated the same as one whose preparation failed.
func Prepare(model scoring.Model, sampleSubject, sampleCounterpart *types.Embedding, mode Mode, logger *slog.Logger) (*Handle, error) {
	if model == nil {
		return nil, inferr.NewValidationError("scoring model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch mode {
	case ModeNone:
		return &Handle{mode: ModeNone, model: model}, nil

	case ModeBasic:
		optimized, err := prepareBasic(model)
		if err != nil {
			logger.Warn("basic optimization failed, falling back to unoptimized execution",
				"model", model.Name(), "error", err)
			return &Handle{mode: ModeNone, model: model}, nil
		}
		return &Handle{mode: ModeBasic, model: optimized}, nil

	case ModeQuantized:
		quantized, err := prepareQuantized(model)
		if err != nil {
			logger.Warn("quantization failed, falling back to basic optimization",
				"model", model.Name(), "error", err)
			return Prepare(model, sampleSubject, sampleCounterpart, ModeBasic, logger)
		}
		return &Handle{mode: ModeQuantized, model: quantized}, nil

	case ModeCompiled:
		compiled, err := prepareCompiled(model, sampleSubject, sampleCounterpart)
		if err != nil {
			logger.Warn("compilation failed, falling back to basic optimization",
				"model", model.Name(), "error", err)
			return Prepare(model, sampleSubject, sampleCounterpart, ModeBasic, logger)
		}
		return &Handle{
			mode:           ModeCompiled,
			model:          compiled,
			subjectDim:     len(sampleSubject.Vector),
			counterpartDim: len(sampleCounterpart.Vector),
		}, nil

	default:
		return nil, inferr.NewValidationError(fmt.Sprintf("unknown execution mode %q", mode))
	}
}

func prepareBasic(model scoring.Model) (scoring.Model, error) {
	opt, ok := model.(scoring.BasicOptimizable)
	if !ok {
		return nil, inferr.NewOptimizationFailure(string(ModeBasic), "model does not support graph optimization")
	}
	return opt.OptimizeBasic()
}

func prepareQuantized(model scoring.Model) (scoring.Model, error) {
	q, ok := model.(scoring.Quantizable)
	if !ok {
		return nil, inferr.NewOptimizationFailure(string(ModeQuantized), "model does not support quantization")
	}
	return q.Quantize()
}

func prepareCompiled(model scoring.Model, sampleSubject, sampleCounterpart *types.Embedding) (scoring.Model, error) {
	c, ok := model.(scoring.Compilable)
	if !ok {
		return nil, inferr.NewOptimizationFailure(string(ModeCompiled), "model does not support compilation")
	}
	if sampleSubject == nil || sampleCounterpart == nil {
		return nil, inferr.NewOptimizationFailure(string(ModeCompiled), "compilation requires a sample input pair for shape tracing")
	}
	return c.Compile(sampleSubject, sampleCounterpart)
}
