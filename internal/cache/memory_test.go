package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_BasicOperations(t *testing.T) {
	m := NewMemory(MemoryConfig{Capacity: 100, DefaultTTL: time.Minute})
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, m.Set(ctx, "key1", []byte("value1"), 0))

		val, err := m.Get(ctx, "key1")
		require.NoError(t, err)
		assert.Equal(t, []byte("value1"), val)
	})

	t.Run("get non-existent key", func(t *testing.T) {
		val, err := m.Get(ctx, "non-existent")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("overwrite keeps entry count", func(t *testing.T) {
		require.NoError(t, m.Set(ctx, "key2", []byte("v1"), 0))
		before := m.Len()
		require.NoError(t, m.Set(ctx, "key2", []byte("v2"), 0))
		assert.Equal(t, before, m.Len())

		val, err := m.Get(ctx, "key2")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), val)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, m.Set(ctx, "key3", []byte("v"), 0))
		require.NoError(t, m.Delete(ctx, "key3"))

		val, err := m.Get(ctx, "key3")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("returned value is a copy", func(t *testing.T) {
		require.NoError(t, m.Set(ctx, "key4", []byte("abc"), 0))
		val, err := m.Get(ctx, "key4")
		require.NoError(t, err)
		val[0] = 'x'

		again, err := m.Get(ctx, "key4")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), again)
	})
}

func TestMemory_TTL(t *testing.T) {
	m := NewMemory(MemoryConfig{Capacity: 100, DefaultTTL: 50 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "ttl-key", []byte("v"), 0))

	val, err := m.Get(ctx, "ttl-key")
	require.NoError(t, err)
	assert.NotNil(t, val)

	time.Sleep(80 * time.Millisecond)

	val, err = m.Get(ctx, "ttl-key")
	require.NoError(t, err)
	assert.Nil(t, val, "expired entry must read as a miss")
}

func TestMemory_CapacityNeverExceeded(t *testing.T) {
	const capacity = 10
	m := NewMemory(MemoryConfig{Capacity: capacity, DefaultTTL: time.Minute})
	ctx := context.Background()

	for i := 0; i < capacity*5; i++ {
		require.NoError(t, m.Set(ctx, fmt.Sprintf("key-%d", i), []byte("v"), 0))
		assert.LessOrEqual(t, m.Len(), capacity)
	}
	assert.Equal(t, capacity, m.Len())
}

func TestMemory_LRUEvictionOrder(t *testing.T) {
	m := NewMemory(MemoryConfig{Capacity: 3, DefaultTTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, m.Set(ctx, "c", []byte("3"), 0))

	// Touch "a" so "b" becomes the least recently accessed entry.
	_, err := m.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, m.Set(ctx, "d", []byte("4"), 0))

	val, err := m.Get(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, val, "least recently accessed entry should be evicted")

	for _, key := range []string{"a", "c", "d"} {
		val, err := m.Get(ctx, key)
		require.NoError(t, err)
		assert.NotNil(t, val, "key %q should survive eviction", key)
	}
}

func TestMemory_ReclaimExpired(t *testing.T) {
	m := NewMemory(MemoryConfig{Capacity: 100, DefaultTTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "short-1", []byte("v"), 30*time.Millisecond))
	require.NoError(t, m.Set(ctx, "short-2", []byte("v"), 30*time.Millisecond))
	require.NoError(t, m.Set(ctx, "long", []byte("v"), time.Minute))

	time.Sleep(60 * time.Millisecond)

	reclaimed := m.ReclaimExpired()
	assert.Equal(t, 2, reclaimed)
	assert.Equal(t, 1, m.Len())
}

func TestMemory_Stats(t *testing.T) {
	m := NewMemory(MemoryConfig{Capacity: 100, DefaultTTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	_, _ = m.Get(ctx, "k")
	_, _ = m.Get(ctx, "k")
	_, _ = m.Get(ctx, "missing")

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}
