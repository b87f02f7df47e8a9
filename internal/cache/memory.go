package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Memory is the in-process cache tier: strict LRU by last access time with a
// hard entry cap and per-entry TTL. All operations are O(1) and never block
// on anything external.
type Memory struct {
	mu    sync.Mutex
	data  map[string]*list.Element
	order *list.List // front = most recently accessed

	capacity   int
	defaultTTL time.Duration

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

type memoryEntry struct {
	key        string
	value      []byte
	expiration int64 // unix nano, 0 = no expiry
}

// MemoryConfig holds configuration for the in-process tier.
type MemoryConfig struct {
	Capacity   int           // maximum number of entries (default: 1000)
	DefaultTTL time.Duration // default TTL (default: 10 minutes)
}

// DefaultMemoryConfig returns sensible defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Capacity:   1000,
		DefaultTTL: 10 * time.Minute,
	}
}

// NewMemory creates a new in-process cache tier.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}
	return &Memory{
		data:       make(map[string]*list.Element, cfg.Capacity),
		order:      list.New(),
		capacity:   cfg.Capacity,
		defaultTTL: cfg.DefaultTTL,
	}
}

// Get retrieves a value and marks the entry as most recently accessed.
// Expired entries are removed lazily and reported as misses.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	elem, ok := m.data[key]
	if !ok {
		m.mu.Unlock()
		m.misses.Add(1)
		return nil, nil
	}

	entry := elem.Value.(*memoryEntry)
	if entry.expiration > 0 && entry.expiration <= time.Now().UnixNano() {
		m.removeLocked(elem)
		m.mu.Unlock()
		m.misses.Add(1)
		return nil, nil
	}

	m.order.MoveToFront(elem)
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	m.mu.Unlock()

	m.hits.Add(1)
	return value, nil
}

// Set stores a value. If the tier is at capacity the least recently accessed
// entry is evicted first, so the entry count never exceeds the cap.
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	expiration := time.Now().Add(ttl).UnixNano()

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.data[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = valueCopy
		entry.expiration = expiration
		m.order.MoveToFront(elem)
		m.sets.Add(1)
		return nil
	}

	for len(m.data) >= m.capacity {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.removeLocked(oldest)
		m.evictions.Add(1)
	}

	elem := m.order.PushFront(&memoryEntry{
		key:        key,
		value:      valueCopy,
		expiration: expiration,
	})
	m.data[key] = elem
	m.sets.Add(1)
	return nil
}

// Delete removes a key.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.data[key]; ok {
		m.removeLocked(elem)
	}
	return nil
}

// ReclaimExpired removes all expired entries and returns how many were
// dropped. The performance monitor calls this on memory pressure; it is
// advisory and never blocks request handling for long.
func (m *Memory) ReclaimExpired() int {
	now := time.Now().UnixNano()
	reclaimed := 0

	m.mu.Lock()
	defer m.mu.Unlock()

	for elem := m.order.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*memoryEntry)
		if entry.expiration > 0 && entry.expiration <= now {
			m.removeLocked(elem)
			reclaimed++
		}
		elem = prev
	}
	return reclaimed
}

func (m *Memory) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	m.order.Remove(elem)
	delete(m.data, entry.key)
}

// Len returns the number of entries currently held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Ping always succeeds for the in-process tier.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Close releases the tier's storage.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*list.Element)
	m.order.Init()
	return nil
}

// Stats returns cumulative statistics.
func (m *Memory) Stats() Stats {
	hits := m.hits.Load()
	misses := m.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:      hits,
		Misses:    misses,
		Sets:      m.sets.Load(),
		Evictions: m.evictions.Load(),
		HitRate:   hitRate,
	}
}
