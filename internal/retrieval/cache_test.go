package retrieval

import (
	"fmt"
	"testing"
	"time"
)

func TestEmbeddingCacheHitAndMiss(t *testing.T) {
	c := NewEmbeddingCache(time.Hour, 16)

	if _, ok := c.Get("q", "openai"); ok {
		t.Fatal("hit on empty cache")
	}

	c.Put("q", "openai", []float32{1, 2})
	vec, ok := c.Get("q", "openai")
	if !ok || len(vec) != 2 {
		t.Fatalf("Get = %v, %v", vec, ok)
	}

	// The embedding type is part of the key.
	if _, ok := c.Get("q", "gemini"); ok {
		t.Error("hit across embedding types")
	}
}

func TestEmbeddingCacheExpiresEntries(t *testing.T) {
	c := NewEmbeddingCache(time.Minute, 16)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	c.Put("q", "openai", []float32{1})

	current = current.Add(30 * time.Second)
	if _, ok := c.Get("q", "openai"); !ok {
		t.Fatal("expired before TTL")
	}

	current = current.Add(31 * time.Second)
	if _, ok := c.Get("q", "openai"); ok {
		t.Fatal("hit after TTL")
	}
}

func TestEmbeddingCacheEvictsOldestAtCapacity(t *testing.T) {
	c := NewEmbeddingCache(time.Hour, 3)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("q%d", i), "openai", []float32{float32(i)})
		current = current.Add(time.Second)
	}

	c.Put("q3", "openai", []float32{3})

	if _, ok := c.Get("q0", "openai"); ok {
		t.Error("oldest entry survived eviction")
	}
	for _, key := range []string{"q1", "q2", "q3"} {
		if _, ok := c.Get(key, "openai"); !ok {
			t.Errorf("entry %s evicted unexpectedly", key)
		}
	}
}
