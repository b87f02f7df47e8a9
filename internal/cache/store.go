package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/matchkit/matchkit/pkg/types"
)

// EmbeddingStore is the typed view over a tiered cache holding entity
// embeddings of one kind. Counterpart embeddings additionally enforce a
// freshness threshold: a cached entry older than Freshness is treated as a
// miss even if its TTL has not lapsed, because counterpart state is presumed
// volatile.
type EmbeddingStore struct {
	tier      *Tiered
	ttl       time.Duration
	freshness time.Duration // 0 = no freshness check
	logger    *slog.Logger
}

// NewEmbeddingStore creates a typed embedding store over a tiered cache.
func NewEmbeddingStore(tier *Tiered, ttl, freshness time.Duration, logger *slog.Logger) *EmbeddingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingStore{tier: tier, ttl: ttl, freshness: freshness, logger: logger}
}

// Get returns the cached embedding for key, or nil on a miss. Corrupt cached
// bytes degrade to a miss.
func (s *EmbeddingStore) Get(ctx context.Context, key string) *types.Embedding {
	raw, ok := s.tier.Get(ctx, key, s.ttl)
	if !ok {
		return nil
	}

	var emb types.Embedding
	if err := json.Unmarshal(raw, &emb); err != nil {
		s.logger.Warn("discarding undecodable cached embedding", "key", key, "error", err)
		return nil
	}

	if s.freshness > 0 && emb.Age(time.Now()) > s.freshness {
		return nil
	}
	return &emb
}

// Set writes the embedding through both tiers. Serialization failures are
// logged and absorbed.
func (s *EmbeddingStore) Set(ctx context.Context, key string, emb *types.Embedding) {
	raw, err := json.Marshal(emb)
	if err != nil {
		s.logger.Warn("embedding not cacheable", "key", key, "error", err)
		return
	}
	s.tier.Set(ctx, key, raw, s.ttl)
}

// HitRate returns the cumulative hit rate of the underlying tiered cache.
func (s *EmbeddingStore) HitRate() float64 { return s.tier.HitRate() }

// Tier exposes the underlying tiered cache for monitoring and reclamation.
func (s *EmbeddingStore) Tier() *Tiered { return s.tier }

// PredictionStore is the typed view over the prediction tiered cache.
// Prediction TTL is kept at or below the embedding TTLs so a cached
// prediction can never outlive the embeddings it was computed from.
type PredictionStore struct {
	tier   *Tiered
	ttl    time.Duration
	logger *slog.Logger
}

// NewPredictionStore creates a typed prediction store over a tiered cache.
func NewPredictionStore(tier *Tiered, ttl time.Duration, logger *slog.Logger) *PredictionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictionStore{tier: tier, ttl: ttl, logger: logger}
}

// Get returns the cached prediction for key, or nil on a miss.
func (s *PredictionStore) Get(ctx context.Context, key string) *types.Prediction {
	raw, ok := s.tier.Get(ctx, key, s.ttl)
	if !ok {
		return nil
	}

	var pred types.Prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		s.logger.Warn("discarding undecodable cached prediction", "key", key, "error", err)
		return nil
	}
	return &pred
}

// Set writes the prediction through both tiers.
func (s *PredictionStore) Set(ctx context.Context, key string, pred *types.Prediction) {
	raw, err := json.Marshal(pred)
	if err != nil {
		s.logger.Warn("prediction not cacheable", "key", key, "error", err)
		return
	}
	s.tier.Set(ctx, key, raw, s.ttl)
}

// HitRate returns the cumulative hit rate of the underlying tiered cache.
func (s *PredictionStore) HitRate() float64 { return s.tier.HitRate() }

// Tier exposes the underlying tiered cache for monitoring and reclamation.
func (s *PredictionStore) Tier() *Tiered { return s.tier }
