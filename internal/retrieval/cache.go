package retrieval

import (
	"sync"
	"time"
)

// Embedding cache bounds: entries older than the TTL are treated as misses,
// and the map never grows past the capacity.
const (
	DefaultCacheTTL      = time.Hour
	DefaultCacheCapacity = 1024
)

type cacheKey struct {
	text          string
	embeddingType string
}

type cacheEntry struct {
	vector   []float32
	storedAt time.Time
}

// EmbeddingCache memoizes query embeddings keyed on (text, embeddingType).
// Best-effort and process-local: concurrent identical queries may both miss
// and both compute, which costs duplicate work, not duplicate storage.
type EmbeddingCache struct {
	mu       sync.Mutex
	entries  map[cacheKey]cacheEntry
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

func NewEmbeddingCache(ttl time.Duration, capacity int) *EmbeddingCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &EmbeddingCache{
		entries:  make(map[cacheKey]cacheEntry),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

func (c *EmbeddingCache) Get(text, embeddingType string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{text, embeddingType}
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.vector, true
}

func (c *EmbeddingCache) Put(text, embeddingType string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[cacheKey{text, embeddingType}] = cacheEntry{vector: vector, storedAt: c.now()}
}

func (c *EmbeddingCache) evictOldestLocked() {
	var (
		oldestKey cacheKey
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.storedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.storedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}
