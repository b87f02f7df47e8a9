// Package monitor tracks response times and outcomes in fixed-size rolling
// windows and periodically recomputes a performance snapshot, independent of
// request handling. The snapshot feeds the health predicate the engine uses
// to decide whether to shed load.
package monitor

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/matchkit/matchkit/pkg/types"
)

// Config holds monitor thresholds and cadence.
type Config struct {
	// WindowSize caps the rolling windows (default: 1000).
	WindowSize int

	// Interval is the snapshot recomputation cadence (default: 60s).
	Interval time.Duration

	// MaxResponseTimeMS is the latency ceiling; responses at or above it
	// count toward the timeout rate, and a p95 above it marks the engine
	// unhealthy.
	MaxResponseTimeMS float64

	// MemoryCeilingMB marks the engine unhealthy when exceeded.
	MemoryCeilingMB float64

	// ErrorRateCeiling marks the engine unhealthy when exceeded
	// (default: 0.05).
	ErrorRateCeiling float64

	// ReclaimFraction of MemoryCeilingMB above which a best-effort cache
	// reclamation pass runs (default: 0.8).
	ReclaimFraction float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:        1000,
		Interval:          60 * time.Second,
		MaxResponseTimeMS: 100,
		MemoryCeilingMB:   8192,
		ErrorRateCeiling:  0.05,
		ReclaimFraction:   0.8,
	}
}

// Monitor records request outcomes and computes performance snapshots.
// Record is O(1) amortized and safe for concurrent use.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	elapsed    []float64 // rolling window of response times, ms
	timestamps []time.Time
	head       int
	filled     bool

	total  atomic.Int64
	failed atomic.Int64

	snapshot atomic.Pointer[types.PerformanceSnapshot]

	queueDepth func() int
	hitRates   func() map[string]float64

	reclaimMu  sync.Mutex
	reclaimers []func() int
	reclaiming atomic.Bool
}

// New creates a monitor. queueDepth and hitRates may be nil.
func New(cfg Config, logger *slog.Logger) *Monitor {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 1000
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.MaxResponseTimeMS <= 0 {
		cfg.MaxResponseTimeMS = 100
	}
	if cfg.MemoryCeilingMB <= 0 {
		cfg.MemoryCeilingMB = 8192
	}
	if cfg.ErrorRateCeiling <= 0 {
		cfg.ErrorRateCeiling = 0.05
	}
	if cfg.ReclaimFraction <= 0 {
		cfg.ReclaimFraction = 0.8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:        cfg,
		logger:     logger,
		elapsed:    make([]float64, cfg.WindowSize),
		timestamps: make([]time.Time, cfg.WindowSize),
	}
}

// SetQueueDepthFunc wires the background queue's depth into snapshots.
func (m *Monitor) SetQueueDepthFunc(fn func() int) { m.queueDepth = fn }

// SetHitRatesFunc wires per-kind cache hit rates into snapshots.
func (m *Monitor) SetHitRatesFunc(fn func() map[string]float64) { m.hitRates = fn }

// RegisterReclaimer adds a best-effort resource reclamation pass, invoked
// when memory usage rises above ReclaimFraction of the ceiling.
func (m *Monitor) RegisterReclaimer(fn func() int) {
	m.reclaimMu.Lock()
	defer m.reclaimMu.Unlock()
	m.reclaimers = append(m.reclaimers, fn)
}

// Record appends one request outcome to the rolling windows.
func (m *Monitor) Record(elapsedMS float64, success bool) {
	m.total.Add(1)
	if !success {
		m.failed.Add(1)
	}

	m.mu.Lock()
	m.elapsed[m.head] = elapsedMS
	m.timestamps[m.head] = time.Now()
	m.head++
	if m.head == len(m.elapsed) {
		m.head = 0
		m.filled = true
	}
	m.mu.Unlock()
}

// Start runs the snapshot loop until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Compute()
			}
		}
	}()
}

// Snapshot returns the latest snapshot, computing one if none exists yet.
func (m *Monitor) Snapshot() *types.PerformanceSnapshot {
	if snap := m.snapshot.Load(); snap != nil {
		return snap
	}
	return m.Compute()
}

// Compute recomputes the snapshot from the rolling windows and host resource
// usage, replacing the previous one.
func (m *Monitor) Compute() *types.PerformanceSnapshot {
	m.mu.Lock()
	n := m.head
	if m.filled {
		n = len(m.elapsed)
	}
	window := make([]float64, n)
	if m.filled {
		copy(window, m.elapsed)
	} else {
		copy(window, m.elapsed[:n])
	}

	now := time.Now()
	recent := 0
	for i := 0; i < n; i++ {
		if now.Sub(m.timestamps[i]) <= 60*time.Second {
			recent++
		}
	}
	m.mu.Unlock()

	snap := &types.PerformanceSnapshot{
		TotalRequests:     m.total.Load(),
		RequestsPerSecond: float64(recent) / 60.0,
		Timestamp:         now,
	}

	if n > 0 {
		sorted := make([]float64, n)
		copy(sorted, window)
		sort.Float64s(sorted)

		var sum float64
		timeouts := 0
		for _, v := range sorted {
			sum += v
			if v >= m.cfg.MaxResponseTimeMS {
				timeouts++
			}
		}
		snap.AvgMS = sum / float64(n)
		snap.P50MS = percentile(sorted, 0.50)
		snap.P95MS = percentile(sorted, 0.95)
		snap.P99MS = percentile(sorted, 0.99)
		snap.TimeoutRate = float64(timeouts) / float64(n)
	}

	if total := m.total.Load(); total > 0 {
		snap.ErrorRate = float64(m.failed.Load()) / float64(total)
	}

	if m.queueDepth != nil {
		snap.QueueDepth = m.queueDepth()
	}
	if m.hitRates != nil {
		snap.CacheHitRates = m.hitRates()
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryUsedMB = float64(vm.Used) / (1024 * 1024)
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	m.snapshot.Store(snap)

	if snap.MemoryUsedMB > m.cfg.ReclaimFraction*m.cfg.MemoryCeilingMB {
		m.triggerReclaim(snap.MemoryUsedMB)
	}
	return snap
}

// IsHealthy reports whether p95 latency, error rate, and memory usage are
// all within their configured ceilings.
func (m *Monitor) IsHealthy() bool {
	snap := m.Snapshot()
	if snap.P95MS > m.cfg.MaxResponseTimeMS {
		return false
	}
	if snap.ErrorRate > m.cfg.ErrorRateCeiling {
		return false
	}
	if snap.MemoryUsedMB > m.cfg.MemoryCeilingMB {
		return false
	}
	return true
}

// triggerReclaim runs the registered reclamation passes off the snapshot
// path. Advisory: overlapping triggers are coalesced.
func (m *Monitor) triggerReclaim(usedMB float64) {
	if !m.reclaiming.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer m.reclaiming.Store(false)

		m.reclaimMu.Lock()
		reclaimers := make([]func() int, len(m.reclaimers))
		copy(reclaimers, m.reclaimers)
		m.reclaimMu.Unlock()

		reclaimed := 0
		for _, fn := range reclaimers {
			reclaimed += fn()
		}
		m.logger.Info("memory pressure reclamation pass",
			"memory_used_mb", math.Round(usedMB),
			"entries_reclaimed", reclaimed,
		)
	}()
}

// percentile returns the nearest-rank percentile of a sorted window.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
