// Package cache implements the engine's multi-tier cache: a bounded,
// LRU-evicted in-process tier backed by a durable TTL tier for cross-process
// reuse. Each cache kind (subject embedding, counterpart embedding,
// prediction) owns an independent tiered instance so unrelated traffic never
// serializes on a shared lock.
package cache

import (
	"context"
	"time"
)

// Kind identifies one of the engine's cache kinds.
type Kind string

const (
	KindSubjectEmbedding     Kind = "subject_embedding"
	KindCounterpartEmbedding Kind = "counterpart_embedding"
	KindPrediction           Kind = "prediction"
)

// Stats holds cumulative cache statistics since process start.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	Errors    int64   `json:"errors"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// Backend is the byte-level contract both tiers implement. A nil value with
// a nil error means the key is a miss.
type Backend interface {
	// Get retrieves a value. Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. If ttl is 0 the backend's
	// default TTL applies.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Ping checks backend health.
	Ping(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error

	// Stats returns cumulative statistics.
	Stats() Stats
}
