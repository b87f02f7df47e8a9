package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_SnapshotPercentiles(t *testing.T) {
	m := New(Config{WindowSize: 1000, MaxResponseTimeMS: 100}, nil)

	// 1..100ms: p50=50, p95=95, p99=99.
	for i := 1; i <= 100; i++ {
		m.Record(float64(i), true)
	}

	snap := m.Compute()
	assert.InDelta(t, 50.5, snap.AvgMS, 0.01)
	assert.Equal(t, 50.0, snap.P50MS)
	assert.Equal(t, 95.0, snap.P95MS)
	assert.Equal(t, 99.0, snap.P99MS)
	assert.Equal(t, int64(100), snap.TotalRequests)
	assert.Equal(t, 0.0, snap.ErrorRate)
	assert.InDelta(t, 0.01, snap.TimeoutRate, 1e-9, "only the 100ms sample is at the ceiling")
}

func TestMonitor_WindowIsBounded(t *testing.T) {
	m := New(Config{WindowSize: 10, MaxResponseTimeMS: 1000}, nil)

	// Overfill the window; only the last 10 samples (all 5ms) remain.
	for i := 0; i < 50; i++ {
		m.Record(500, true)
	}
	for i := 0; i < 10; i++ {
		m.Record(5, true)
	}

	snap := m.Compute()
	assert.Equal(t, 5.0, snap.P99MS)
	assert.Equal(t, int64(60), snap.TotalRequests, "totals are cumulative, windows are not")
}

func TestMonitor_ErrorRate(t *testing.T) {
	m := New(Config{WindowSize: 100}, nil)

	for i := 0; i < 95; i++ {
		m.Record(10, true)
	}
	for i := 0; i < 5; i++ {
		m.Record(10, false)
	}

	snap := m.Compute()
	assert.InDelta(t, 0.05, snap.ErrorRate, 1e-9)
}

func TestMonitor_IsHealthy(t *testing.T) {
	t.Run("healthy under ceilings", func(t *testing.T) {
		m := New(Config{WindowSize: 100, MaxResponseTimeMS: 100, MemoryCeilingMB: 1 << 20}, nil)
		for i := 0; i < 20; i++ {
			m.Record(10, true)
		}
		m.Compute()
		assert.True(t, m.IsHealthy())
	})

	t.Run("unhealthy when p95 exceeds ceiling", func(t *testing.T) {
		m := New(Config{WindowSize: 100, MaxResponseTimeMS: 100, MemoryCeilingMB: 1 << 20}, nil)
		for i := 0; i < 20; i++ {
			m.Record(500, true)
		}
		m.Compute()
		assert.False(t, m.IsHealthy())
	})

	t.Run("unhealthy when error rate exceeds ceiling", func(t *testing.T) {
		m := New(Config{WindowSize: 100, MaxResponseTimeMS: 100, MemoryCeilingMB: 1 << 20}, nil)
		for i := 0; i < 10; i++ {
			m.Record(10, false)
		}
		m.Compute()
		assert.False(t, m.IsHealthy())
	})
}

func TestMonitor_SnapshotCarriesCallbacks(t *testing.T) {
	m := New(Config{WindowSize: 100, MemoryCeilingMB: 1 << 20}, nil)
	m.SetQueueDepthFunc(func() int { return 7 })
	m.SetHitRatesFunc(func() map[string]float64 {
		return map[string]float64{"prediction": 0.9}
	})

	snap := m.Compute()
	assert.Equal(t, 7, snap.QueueDepth)
	assert.Equal(t, 0.9, snap.CacheHitRates["prediction"])
}

func TestMonitor_ReclaimOnMemoryPressure(t *testing.T) {
	// A tiny ceiling guarantees the pressure threshold trips on any host.
	m := New(Config{WindowSize: 100, MemoryCeilingMB: 1, ReclaimFraction: 0.5}, nil)

	var mu sync.Mutex
	called := false
	m.RegisterReclaimer(func() int {
		mu.Lock()
		defer mu.Unlock()
		called = true
		return 3
	})

	m.Compute()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return called
	}, time.Second, 10*time.Millisecond, "reclamation pass should run on memory pressure")
}

func TestMonitor_RequestsPerSecond(t *testing.T) {
	m := New(Config{WindowSize: 100}, nil)
	for i := 0; i < 60; i++ {
		m.Record(10, true)
	}
	snap := m.Compute()
	assert.InDelta(t, 1.0, snap.RequestsPerSecond, 0.05)
}
