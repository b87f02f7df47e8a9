package matchkit

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchkit/matchkit/pkg/scoring"
	"github.com/matchkit/matchkit/pkg/types"
)

// stubModel scores deterministically after an optional artificial delay.
type stubModel struct {
	name    string
	version string
	delay   time.Duration
	calls   atomic.Int64
	failN   atomic.Int64 // fail this many calls before succeeding
}

func (m *stubModel) Name() string    { return m.name }
func (m *stubModel) Version() string { return m.version }

func (m *stubModel) Score(ctx context.Context, subject, counterpart *types.Embedding) (*scoring.Result, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.failN.Load() > 0 {
		m.failN.Add(-1)
		return nil, fmt.Errorf("transient scoring failure")
	}
	return &scoring.Result{
		Score:       0.74,
		Uncertainty: 0.05,
		AspectScores: map[string]float64{
			types.AspectSimilarity:             0.8,
			types.AspectPreferenceAlignment:    0.7,
			types.AspectFinancialCompatibility: 0.75,
		},
		ConversionEstimate: 0.31,
		Explanation:        []string{"strong price alignment"},
	}, nil
}

// stubExtractor produces one-dimensional embeddings from the payload's
// "v" field and counts extractions per entity kind.
type stubExtractor struct {
	subjectCalls     atomic.Int64
	counterpartCalls atomic.Int64
}

func (x *stubExtractor) Extract(_ context.Context, payload types.Payload, kind types.EntityKind) (*types.Embedding, error) {
	if kind == types.EntitySubject {
		x.subjectCalls.Add(1)
	} else {
		x.counterpartCalls.Add(1)
	}

	v, _ := payload["v"].(float64)
	id, _ := payload["id"].(string)
	return &types.Embedding{
		EntityID:  id,
		Kind:      kind,
		Vector:    []float64{v},
		CreatedAt: time.Now().UTC(),
	}, nil
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *stubModel, *stubExtractor) {
	t.Helper()

	model := &stubModel{name: "matcher", version: "v1"}
	ext := &stubExtractor{}

	cfg := DefaultConfig()
	// Health must reflect the engine under test, not the host's memory load.
	cfg.Monitor.MemoryCeilingMB = 1 << 20

	base := []Option{
		WithConfig(cfg),
		WithScoringModel(model),
		WithFeatureExtractor(ext),
		WithExecutionMode("none"),
	}
	engine, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine, model, ext
}

func subjectPayload() types.Payload {
	return types.Payload{"id": "listing-1", "v": 0.8, "price": 425000.0}
}

func counterpartPayload() types.Payload {
	return types.Payload{"id": "seeker-1", "v": 0.2, "budget_max": 450000.0}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(WithFeatureExtractor(&stubExtractor{}))
	assert.ErrorContains(t, err, "scoring model")

	_, err = New(WithScoringModel(&stubModel{name: "m", version: "v1"}))
	assert.ErrorContains(t, err, "feature extractor")
}

func TestPredict(t *testing.T) {
	engine, model, ext := newTestEngine(t)

	resp, err := engine.Predict(context.Background(), &types.InferenceRequest{
		Subject:     subjectPayload(),
		Counterpart: counterpartPayload(),
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotNil(t, resp.Prediction)

	assert.InDelta(t, 0.74, resp.Prediction.Score, 1e-9)
	assert.InDelta(t, 0.74-1.96*0.05, resp.Prediction.ConfidenceLow, 1e-9)
	assert.InDelta(t, 0.74+1.96*0.05, resp.Prediction.ConfidenceHigh, 1e-9)
	assert.Equal(t, types.StrengthModerate, resp.Prediction.Strength)
	assert.Equal(t, "listing-1", resp.Prediction.SubjectID)
	assert.Equal(t, "seeker-1", resp.Prediction.CounterpartID)
	assert.NotEmpty(t, resp.RequestID)

	// Every stage reported a timing on the cold path.
	for _, stage := range []string{
		types.StageCacheLookup,
		types.StageSubjectEmbedding,
		types.StageCounterpartEmbedding,
		types.StageScoring,
		types.StageCacheWrite,
	} {
		assert.Contains(t, resp.StageTimings, stage, "missing timing for %s", stage)
	}

	assert.Equal(t, int64(1), model.calls.Load())
	assert.Equal(t, int64(1), ext.subjectCalls.Load())
	assert.Equal(t, int64(1), ext.counterpartCalls.Load())
}

func TestPredict_CacheHitSkipsCompute(t *testing.T) {
	engine, model, _ := newTestEngine(t)

	req := func() *types.InferenceRequest {
		return &types.InferenceRequest{
			Subject:     subjectPayload(),
			Counterpart: counterpartPayload(),
		}
	}

	first, err := engine.Predict(context.Background(), req())
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := engine.Predict(context.Background(), req())
	require.NoError(t, err)
	require.True(t, second.Success)

	assert.True(t, second.CacheHits[types.CacheHitPrediction])
	assert.Equal(t, int64(1), model.calls.Load(), "cached prediction must not rescore")
	assert.InDelta(t, first.Prediction.Score, second.Prediction.Score, 1e-9)

	// Volatile fields never break cache identity.
	mutated := req()
	mutated.Subject["updated_at"] = "2026-08-31T10:00:00Z"
	third, err := engine.Predict(context.Background(), mutated)
	require.NoError(t, err)
	assert.True(t, third.CacheHits[types.CacheHitPrediction])
	assert.Equal(t, int64(1), model.calls.Load())
}

func TestPredict_Deterministic(t *testing.T) {
	engineA, _, _ := newTestEngine(t)
	engineB, _, _ := newTestEngine(t)

	req := &types.InferenceRequest{Subject: subjectPayload(), Counterpart: counterpartPayload()}

	a, err := engineA.Predict(context.Background(), req)
	require.NoError(t, err)
	b, err := engineB.Predict(context.Background(), &types.InferenceRequest{Subject: subjectPayload(), Counterpart: counterpartPayload()})
	require.NoError(t, err)

	assert.Equal(t, a.Prediction.Score, b.Prediction.Score)
	assert.Equal(t, a.Prediction.Strength, b.Prediction.Strength)
	assert.Equal(t, a.Prediction.ConfidenceLow, b.Prediction.ConfidenceLow)
}

func TestPredict_ValidationErrors(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Predict(context.Background(), nil)
	assert.True(t, IsValidation(err))

	_, err = engine.Predict(context.Background(), &types.InferenceRequest{Counterpart: counterpartPayload()})
	assert.True(t, IsValidation(err))

	_, err = engine.Predict(context.Background(), &types.InferenceRequest{Subject: subjectPayload()})
	assert.True(t, IsValidation(err))
}

func TestPredict_RetriesTransientScoringFailure(t *testing.T) {
	engine, model, _ := newTestEngine(t)
	model.failN.Store(1)

	resp, err := engine.Predict(context.Background(), &types.InferenceRequest{
		Subject:     subjectPayload(),
		Counterpart: counterpartPayload(),
		Deadline:    time.Second,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(2), model.calls.Load())
}

func TestEnqueue_WarmsPredictionCache(t *testing.T) {
	engine, model, _ := newTestEngine(t)

	require.NoError(t, engine.Enqueue(&types.InferenceRequest{
		Subject:     subjectPayload(),
		Counterpart: counterpartPayload(),
	}))

	assert.Eventually(t, func() bool {
		return model.calls.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	resp, err := engine.Predict(context.Background(), &types.InferenceRequest{
		Subject:     subjectPayload(),
		Counterpart: counterpartPayload(),
	})
	require.NoError(t, err)
	assert.True(t, resp.CacheHits[types.CacheHitPrediction])
	assert.Equal(t, int64(1), model.calls.Load())
}

func TestHealthAndSnapshot(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	for i := 0; i < 5; i++ {
		_, err := engine.Predict(context.Background(), &types.InferenceRequest{
			Subject:     types.Payload{"id": fmt.Sprintf("listing-%d", i), "v": 0.5},
			Counterpart: counterpartPayload(),
		})
		require.NoError(t, err)
	}

	snap := engine.Snapshot()
	assert.Equal(t, int64(5), snap.TotalRequests)
	assert.Zero(t, snap.ErrorRate)

	health := engine.Health(context.Background())
	assert.True(t, health.Healthy)
	assert.True(t, health.DurableCacheOK)
	assert.Equal(t, "none", health.ExecutionMode)
	require.NotNil(t, health.Snapshot)
}

func TestClose_Idempotent(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())

	err := engine.Enqueue(&types.InferenceRequest{
		Subject:     subjectPayload(),
		Counterpart: counterpartPayload(),
	})
	assert.True(t, IsCapacityExceeded(err))
}
