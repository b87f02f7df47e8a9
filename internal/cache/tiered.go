package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/matchkit/matchkit/internal/metrics"
)

// Tiered composes the in-process tier with an optional durable tier. Reads
// check the in-process tier first, then the durable tier with backfill.
// Writes go to both tiers.
//
// Any durable-tier error degrades to a miss rather than propagating: the
// orchestrator can always proceed by recomputing. Evicting from the
// in-process tier never deletes from the durable tier, so cross-process
// reuse survives memory pressure.
type Tiered struct {
	kind    Kind
	local   *Memory
	durable Backend // nil when running without a durable tier
	logger  *slog.Logger

	localHits   atomic.Int64
	durableHits atomic.Int64
	misses      atomic.Int64
	degraded    atomic.Int64
}

// NewTiered creates a tiered cache for one cache kind. durable may be nil.
func NewTiered(kind Kind, local *Memory, durable Backend, logger *slog.Logger) *Tiered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiered{
		kind:    kind,
		local:   local,
		durable: durable,
		logger:  logger.With("cache_kind", string(kind)),
	}
}

// Kind returns the cache kind this instance serves.
func (t *Tiered) Kind() Kind { return t.kind }

// Get retrieves a value, checking the in-process tier first. A durable hit
// populates the in-process tier before returning. The second return value
// reports whether the key was found in either tier.
func (t *Tiered) Get(ctx context.Context, key string, localTTL time.Duration) ([]byte, bool) {
	if val, err := t.local.Get(ctx, key); err == nil && val != nil {
		t.localHits.Add(1)
		metrics.RecordCacheHit(string(t.kind), "local")
		return val, true
	}

	if t.durable != nil {
		val, err := t.durable.Get(ctx, key)
		if err != nil {
			// Degrade to miss; the caller recomputes.
			t.degraded.Add(1)
			metrics.DurableCacheErrors.WithLabelValues("get").Inc()
			t.logger.Warn("durable tier unavailable, treating as miss", "error", err)
		} else if val != nil {
			t.durableHits.Add(1)
			metrics.RecordCacheHit(string(t.kind), "durable")
			// Backfill is best-effort.
			_ = t.local.Set(ctx, key, val, localTTL)
			return val, true
		}
	}

	t.misses.Add(1)
	metrics.RecordCacheMiss(string(t.kind))
	return nil, false
}

// Set writes through both tiers. A durable-tier write failure is logged and
// absorbed; the in-process write alone keeps the cache correct for this
// process.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	_ = t.local.Set(ctx, key, value, ttl)

	if t.durable != nil {
		if err := t.durable.Set(ctx, key, value, ttl); err != nil {
			t.degraded.Add(1)
			metrics.DurableCacheErrors.WithLabelValues("set").Inc()
			t.logger.Warn("durable tier write failed", "error", err)
		}
	}
}

// HitRate returns cumulative hits / (hits + misses) since process start.
func (t *Tiered) HitRate() float64 {
	hits := t.localHits.Load() + t.durableHits.Load()
	total := hits + t.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// ReclaimExpired drops expired in-process entries, leaving the durable tier
// untouched.
func (t *Tiered) ReclaimExpired() int {
	return t.local.ReclaimExpired()
}

// Len returns the in-process entry count.
func (t *Tiered) Len() int { return t.local.Len() }

// Stats returns combined statistics for monitoring.
func (t *Tiered) Stats() Stats {
	hits := t.localHits.Load() + t.durableHits.Load()
	misses := t.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:    hits,
		Misses:  misses,
		Errors:  t.degraded.Load(),
		HitRate: hitRate,
	}
}

// Close closes the in-process tier. The durable backend is shared across
// kinds and closed by its owner.
func (t *Tiered) Close() error {
	return t.local.Close()
}
