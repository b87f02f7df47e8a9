package matchkit

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchkit/matchkit/pkg/types"
)

func batchRequests(n int) []*types.InferenceRequest {
	reqs := make([]*types.InferenceRequest, n)
	for i := range reqs {
		reqs[i] = &types.InferenceRequest{
			RequestID: fmt.Sprintf("req-%d", i),
			Subject:   subjectPayload(),
			Counterpart: types.Payload{
				"id": fmt.Sprintf("seeker-%d", i),
				"v":  0.1 * float64(i),
			},
		}
	}
	return reqs
}

func TestBatchPredict(t *testing.T) {
	engine, model, ext := newTestEngine(t)

	reqs := batchRequests(8)
	responses, err := engine.BatchPredict(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, responses, 8)

	// Responses come back in request order.
	for i, resp := range responses {
		require.NotNil(t, resp, "response %d", i)
		assert.Equal(t, fmt.Sprintf("req-%d", i), resp.RequestID)
		assert.True(t, resp.Success, "response %d", i)
	}

	// The shared subject was extracted exactly once.
	assert.Equal(t, int64(1), ext.subjectCalls.Load())
	assert.Equal(t, int64(8), ext.counterpartCalls.Load())
	assert.Equal(t, int64(8), model.calls.Load())
}

func TestBatchPredict_FailureIsolation(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	reqs := batchRequests(4)
	reqs[2] = &types.InferenceRequest{RequestID: "req-2", Subject: subjectPayload()} // no counterpart

	responses, err := engine.BatchPredict(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, responses, 4)

	for i, resp := range responses {
		if i == 2 {
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.ErrorMessage)
			continue
		}
		assert.True(t, resp.Success, "sibling %d must be unaffected", i)
	}
}

func TestBatchPredict_Empty(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	responses, err := engine.BatchPredict(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, responses)
}

func TestBatchPredict_ReusesWarmCaches(t *testing.T) {
	engine, model, _ := newTestEngine(t)

	reqs := batchRequests(3)
	_, err := engine.BatchPredict(context.Background(), reqs)
	require.NoError(t, err)

	// Identical batch again: every pair is already cached.
	responses, err := engine.BatchPredict(context.Background(), batchRequests(3))
	require.NoError(t, err)
	for _, resp := range responses {
		assert.True(t, resp.CacheHits[types.CacheHitPrediction])
	}
	assert.Equal(t, int64(3), model.calls.Load())
}
