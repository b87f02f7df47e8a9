package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Redis is the durable cache tier. Every call is bounded by OpTimeout so a
// slow backend can never consume a request's latency budget; the tiered
// cache above treats any error from this tier as a miss.
type Redis struct {
	client     goredis.UniversalClient
	namespace  string
	defaultTTL time.Duration
	opTimeout  time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
	errs   atomic.Int64
}

// RedisConfig holds configuration for the durable tier.
type RedisConfig struct {
	Addr     string `yaml:"addr"`     // Redis address (e.g. "localhost:6379")
	Password string `yaml:"password"` // Redis password
	DB       int    `yaml:"db"`       // Redis database number

	Namespace    string        `yaml:"namespace"`      // key namespace prefix
	DefaultTTL   time.Duration `yaml:"default_ttl"`    // default TTL (default: 1 hour)
	OpTimeout    time.Duration `yaml:"op_timeout"`     // per-operation budget (default: 50ms)
	DialTimeout  time.Duration `yaml:"dial_timeout"`   // connection timeout
	PoolSize     int           `yaml:"pool_size"`      // connection pool size
	MinIdleConns int           `yaml:"min_idle_conns"` // minimum idle connections
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Namespace:    "matchkit",
		DefaultTTL:   time.Hour,
		OpTimeout:    50 * time.Millisecond,
		DialTimeout:  5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// NewRedis creates a new durable-tier client.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis cache: addr is required")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 50 * time.Millisecond
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	return &Redis{
		client:     client,
		namespace:  cfg.Namespace,
		defaultTTL: cfg.DefaultTTL,
		opTimeout:  cfg.OpTimeout,
	}, nil
}

// NewRedisFromClient wraps an existing client. Used by tests and callers that
// manage their own connection options.
func NewRedisFromClient(client goredis.UniversalClient, namespace string, defaultTTL, opTimeout time.Duration) *Redis {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	if opTimeout <= 0 {
		opTimeout = 50 * time.Millisecond
	}
	return &Redis{
		client:     client,
		namespace:  namespace,
		defaultTTL: defaultTTL,
		opTimeout:  opTimeout,
	}
}

func (r *Redis) namespacedKey(key string) string {
	if r.namespace == "" {
		return key
	}
	return r.namespace + ":" + key
}

// Get retrieves a value. Returns nil, nil on a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	val, err := r.client.Get(ctx, r.namespacedKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			r.misses.Add(1)
			return nil, nil
		}
		r.errs.Add(1)
		return nil, fmt.Errorf("redis get: %w", err)
	}
	r.hits.Add(1)
	return val, nil
}

// Set stores a value with the given TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}

	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.namespacedKey(key), value, ttl).Err(); err != nil {
		r.errs.Add(1)
		return fmt.Errorf("redis set: %w", err)
	}
	r.sets.Add(1)
	return nil
}

// Delete removes a key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.client.Del(ctx, r.namespacedKey(key)).Err(); err != nil {
		r.errs.Add(1)
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Stats returns cumulative statistics.
func (r *Redis) Stats() Stats {
	hits := r.hits.Load()
	misses := r.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    r.sets.Load(),
		Errors:  r.errs.Load(),
		HitRate: hitRate,
	}
}
