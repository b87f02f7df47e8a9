package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchkit/matchkit/pkg/types"
)

func TestKeyGenerator_PredictionKeyIgnoresVolatileFields(t *testing.T) {
	g := NewKeyGenerator("matchkit", "v1")

	base := &types.InferenceRequest{
		RequestID: "req-1",
		Subject: types.Payload{
			"id":       "subj-1",
			"price":    750000.0,
			"rooms":    3.0,
			"features": []any{"garden", "garage"},
		},
		Counterpart: types.Payload{
			"id":     "cp-1",
			"budget": 800000.0,
		},
		Context: types.Payload{
			"extracted_preferences": map[string]any{"location": "downtown"},
		},
	}

	variant := &types.InferenceRequest{
		RequestID: "req-2",
		Subject: types.Payload{
			"id":         "different-id",
			"created_at": "2026-08-31T10:00:00Z",
			"price":      750000.0,
			"rooms":      3.0,
			"features":   []any{"garden", "garage"},
		},
		Counterpart: types.Payload{
			"id":        "other-cp",
			"budget":    800000.0,
			"timestamp": "1756600000",
		},
		Context: types.Payload{
			"extracted_preferences": map[string]any{"location": "downtown"},
			"session_id":            "ignored",
		},
	}

	k1, err := g.PredictionKey(base)
	require.NoError(t, err)
	k2, err := g.PredictionKey(variant)
	require.NoError(t, err)

	assert.Equal(t, k1, k2, "identifiers and timestamps must not affect the key")
}

func TestKeyGenerator_PredictionKeySensitivity(t *testing.T) {
	g := NewKeyGenerator("matchkit", "v1")

	req := func(price float64) *types.InferenceRequest {
		return &types.InferenceRequest{
			Subject:     types.Payload{"price": price},
			Counterpart: types.Payload{"budget": 500000.0},
		}
	}

	k1, err := g.PredictionKey(req(400000))
	require.NoError(t, err)
	k2, err := g.PredictionKey(req(450000))
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2, "feature-relevant fields must affect the key")
}

func TestKeyGenerator_ModelVersionPartitionsKeys(t *testing.T) {
	req := &types.InferenceRequest{
		Subject:     types.Payload{"price": 1.0},
		Counterpart: types.Payload{"budget": 2.0},
	}

	k1, err := NewKeyGenerator("matchkit", "v1").PredictionKey(req)
	require.NoError(t, err)
	k2, err := NewKeyGenerator("matchkit", "v2").PredictionKey(req)
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestKeyGenerator_EmbeddingKey(t *testing.T) {
	g := NewKeyGenerator("matchkit", "v1")

	t.Run("declared id wins", func(t *testing.T) {
		key, err := g.EmbeddingKey(types.EntitySubject, types.Payload{"id": "subj-9", "price": 1.0})
		require.NoError(t, err)
		assert.Equal(t, "matchkit:subject_embedding:subj-9", key)
	})

	t.Run("anonymous payloads hash by content", func(t *testing.T) {
		k1, err := g.EmbeddingKey(types.EntityCounterpart, types.Payload{"budget": 100.0})
		require.NoError(t, err)
		k2, err := g.EmbeddingKey(types.EntityCounterpart, types.Payload{"budget": 100.0})
		require.NoError(t, err)
		k3, err := g.EmbeddingKey(types.EntityCounterpart, types.Payload{"budget": 200.0})
		require.NoError(t, err)

		assert.Equal(t, k1, k2)
		assert.NotEqual(t, k1, k3)
	})

	t.Run("kinds are namespaced apart", func(t *testing.T) {
		k1, err := g.EmbeddingKey(types.EntitySubject, types.Payload{"id": "x"})
		require.NoError(t, err)
		k2, err := g.EmbeddingKey(types.EntityCounterpart, types.Payload{"id": "x"})
		require.NoError(t, err)
		assert.NotEqual(t, k1, k2)
	})
}
