// Package extractor decorates the external feature extractor with a
// short-lived memo cache, so repeated extractions of an identical payload
// within the TTL never pay the upstream cost twice. This sits below the
// embedding caches: it catches recomputation forced by in-process eviction.
package extractor

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/matchkit/matchkit/internal/cache"
	"github.com/matchkit/matchkit/pkg/scoring"
	"github.com/matchkit/matchkit/pkg/types"
)

// Caching wraps a FeatureExtractor with payload-content memoization.
type Caching struct {
	next   scoring.FeatureExtractor
	memo   *gocache.Cache
	keys   *cache.KeyGenerator
	logger *slog.Logger
}

// NewCaching creates a caching decorator. ttl bounds how long an extraction
// result is reused (default: 30 minutes).
func NewCaching(next scoring.FeatureExtractor, ttl time.Duration, logger *slog.Logger) *Caching {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Caching{
		next:   next,
		memo:   gocache.New(ttl, 2*ttl),
		keys:   cache.NewKeyGenerator("features", ""),
		logger: logger,
	}
}

// Extract returns the memoized embedding for an identical payload, or calls
// through and memoizes the result. Embeddings are immutable, so sharing the
// cached value is safe.
func (c *Caching) Extract(ctx context.Context, payload types.Payload, kind types.EntityKind) (*types.Embedding, error) {
	key, err := c.keys.EmbeddingKey(kind, payload)
	if err != nil {
		// Unkeyable payloads just skip memoization.
		c.logger.Debug("payload not memoizable", "kind", string(kind), "error", err)
		return c.next.Extract(ctx, payload, kind)
	}

	if cached, ok := c.memo.Get(key); ok {
		return cached.(*types.Embedding), nil
	}

	emb, err := c.next.Extract(ctx, payload, kind)
	if err != nil {
		return nil, err
	}
	c.memo.SetDefault(key, emb)
	return emb, nil
}

// Flush drops all memoized extractions. Used by tests and the engine's
// reclamation pass.
func (c *Caching) Flush() {
	c.memo.Flush()
}

// Reclaim removes expired memo entries and returns how many were dropped.
func (c *Caching) Reclaim() int {
	before := c.memo.ItemCount()
	c.memo.DeleteExpired()
	return before - c.memo.ItemCount()
}
