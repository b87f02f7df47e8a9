package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTiered(t *testing.T, capacity int) (*Tiered, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	durable := NewRedisFromClient(client, "test", time.Hour, 50*time.Millisecond)
	local := NewMemory(MemoryConfig{Capacity: capacity, DefaultTTL: time.Minute})
	return NewTiered(KindPrediction, local, durable, nil), mr
}

func TestTiered_WriteThroughAndRead(t *testing.T) {
	tiered, mr := newTestTiered(t, 100)
	ctx := context.Background()

	tiered.Set(ctx, "k1", []byte("v1"), time.Minute)

	t.Run("local hit", func(t *testing.T) {
		val, ok := tiered.Get(ctx, "k1", time.Minute)
		require.True(t, ok)
		assert.Equal(t, []byte("v1"), val)
	})

	t.Run("durable tier holds the value", func(t *testing.T) {
		assert.True(t, mr.Exists("test:k1"))
	})
}

func TestTiered_DurableBackfill(t *testing.T) {
	tiered, _ := newTestTiered(t, 100)
	ctx := context.Background()

	tiered.Set(ctx, "k2", []byte("v2"), time.Minute)

	// Drop the in-process copy; the durable tier must serve the read and
	// backfill the in-process tier.
	require.NoError(t, tiered.local.Delete(ctx, "k2"))

	val, ok := tiered.Get(ctx, "k2", time.Minute)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), val)

	localVal, err := tiered.local.Get(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), localVal, "durable hit should backfill the in-process tier")
}

func TestTiered_DurableFailureDegradesToMiss(t *testing.T) {
	tiered, mr := newTestTiered(t, 100)
	ctx := context.Background()

	tiered.Set(ctx, "k3", []byte("v3"), time.Minute)
	require.NoError(t, tiered.local.Delete(ctx, "k3"))

	mr.Close()

	val, ok := tiered.Get(ctx, "k3", time.Minute)
	assert.False(t, ok)
	assert.Nil(t, val)

	// Writes with the backend down must still land in the in-process tier.
	tiered.Set(ctx, "k4", []byte("v4"), time.Minute)
	val, ok = tiered.Get(ctx, "k4", time.Minute)
	require.True(t, ok)
	assert.Equal(t, []byte("v4"), val)
}

func TestTiered_EvictionLeavesDurableIntact(t *testing.T) {
	tiered, mr := newTestTiered(t, 1)
	ctx := context.Background()

	tiered.Set(ctx, "first", []byte("1"), time.Minute)
	tiered.Set(ctx, "second", []byte("2"), time.Minute)

	// "first" was evicted from the in-process tier by capacity pressure,
	// but must survive in the durable tier.
	localVal, err := tiered.local.Get(ctx, "first")
	require.NoError(t, err)
	assert.Nil(t, localVal)
	assert.True(t, mr.Exists("test:first"))

	val, ok := tiered.Get(ctx, "first", time.Minute)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), val)
}

func TestTiered_HitRate(t *testing.T) {
	tiered, _ := newTestTiered(t, 100)
	ctx := context.Background()

	tiered.Set(ctx, "k", []byte("v"), time.Minute)

	_, _ = tiered.Get(ctx, "k", time.Minute)
	_, _ = tiered.Get(ctx, "k", time.Minute)
	_, _ = tiered.Get(ctx, "missing", time.Minute)

	assert.InDelta(t, 2.0/3.0, tiered.HitRate(), 1e-9)
}

func TestTiered_WithoutDurableTier(t *testing.T) {
	local := NewMemory(MemoryConfig{Capacity: 10, DefaultTTL: time.Minute})
	tiered := NewTiered(KindSubjectEmbedding, local, nil, nil)
	ctx := context.Background()

	tiered.Set(ctx, "k", []byte("v"), time.Minute)

	val, ok := tiered.Get(ctx, "k", time.Minute)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	_, ok = tiered.Get(ctx, "missing", time.Minute)
	assert.False(t, ok)
}
