package matchkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchkit/matchkit/pkg/types"
)

func TestPredict_DeadlineAbandonsSlowScoring(t *testing.T) {
	engine, model, _ := newTestEngine(t)
	model.delay = 200 * time.Millisecond

	start := time.Now()
	resp, err := engine.Predict(context.Background(), &types.InferenceRequest{
		Subject:     subjectPayload(),
		Counterpart: counterpartPayload(),
		Deadline:    5 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.ErrorMessage)

	// The caller got its answer near the deadline, not after the model.
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func TestPredict_DefaultDeadlineFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Inference.MaxResponseTimeMS = 10
	engine, model, _ := newTestEngine(t, WithConfig(cfg))
	model.delay = 200 * time.Millisecond

	start := time.Now()
	resp, err := engine.Predict(context.Background(), &types.InferenceRequest{
		Subject:     subjectPayload(),
		Counterpart: counterpartPayload(),
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.False(t, resp.Success)
	assert.Less(t, elapsed, 150*time.Millisecond)
}

func TestPredict_NoRetryWhenBudgetTooTight(t *testing.T) {
	engine, model, _ := newTestEngine(t)
	model.delay = 30 * time.Millisecond
	model.failN.Store(1)

	// One attempt costs ~30ms; with ~50ms left at failure time there is no
	// room for a retry worth twice the attempt.
	resp, err := engine.Predict(context.Background(), &types.InferenceRequest{
		Subject:     subjectPayload(),
		Counterpart: counterpartPayload(),
		Deadline:    80 * time.Millisecond,
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.Equal(t, int64(1), model.calls.Load())
}

func TestPredict_TimeoutCountsTowardErrorRate(t *testing.T) {
	engine, model, _ := newTestEngine(t)
	model.delay = 100 * time.Millisecond

	_, err := engine.Predict(context.Background(), &types.InferenceRequest{
		Subject:     subjectPayload(),
		Counterpart: counterpartPayload(),
		Deadline:    5 * time.Millisecond,
	})
	require.Error(t, err)

	snap := engine.Snapshot()
	assert.Equal(t, int64(1), snap.TotalRequests)
	assert.Equal(t, 1.0, snap.ErrorRate)
}
