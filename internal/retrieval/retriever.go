package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/docqa/docqa/internal/core"
	"github.com/docqa/docqa/internal/core/llm"
	"github.com/docqa/docqa/internal/models"
)

// CanonicalEmbeddingType is forced for multi-document queries: vectors from
// different embedding models are not comparable, so cross-document similarity
// scores must come from a single provider.
const CanonicalEmbeddingType = "openai"

// ftsOnlyWeight scales the normalized ts_rank of chunks found only by
// full-text search; exactTermBonus rewards chunks both searches agree on.
// Full-text catches exact-term matches (drug names, codes) that embeddings
// under-weight.
const (
	ftsOnlyWeight  = 0.5
	exactTermBonus = 0.05
)

// Query is one retrieval request.
type Query struct {
	Text          string
	Slugs         []string
	EmbeddingType string
	Limit         int
}

// Result carries the ranked chunks plus the audit fields the chat pipeline
// logs.
type Result struct {
	Chunks        []models.ScoredChunk
	EmbeddingType string
	CacheHit      bool
	EmbedTime     time.Duration
	SearchTime    time.Duration
}

// Retriever answers queries with hybrid (vector + full-text) search over one
// or more documents, with a memoizing embedding cache in front of the
// embedding API.
type Retriever struct {
	db       core.DbClient
	registry *llm.Registry
	cache    *EmbeddingCache
}

func NewRetriever(db core.DbClient, registry *llm.Registry, cache *EmbeddingCache) *Retriever {
	if cache == nil {
		cache = NewEmbeddingCache(DefaultCacheTTL, DefaultCacheCapacity)
	}
	return &Retriever{db: db, registry: registry, cache: cache}
}

// Retrieve embeds the query text (cache-checked), runs both search legs, and
// merges them into a single ranking of at most q.Limit chunks.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (*Result, error) {
	if q.Text == "" {
		return nil, fmt.Errorf("empty query text")
	}
	if len(q.Slugs) == 0 {
		return nil, fmt.Errorf("no document slugs")
	}
	if q.Limit <= 0 {
		q.Limit = GlobalDefaultChunkLimit
	}

	embeddingType := q.EmbeddingType
	if embeddingType == "" || len(q.Slugs) > 1 {
		embeddingType = CanonicalEmbeddingType
	}

	res := &Result{EmbeddingType: embeddingType}

	embedStart := time.Now()
	vec, hit := r.cache.Get(q.Text, embeddingType)
	if !hit {
		provider, err := r.registry.Embedder(embeddingType)
		if err != nil {
			return nil, err
		}
		vecs, err := provider.EmbedTexts(ctx, []string{q.Text})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if len(vecs) != 1 {
			return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
		}
		vec = vecs[0]
		r.cache.Put(q.Text, embeddingType, vec)
	}
	res.CacheHit = hit
	res.EmbedTime = time.Since(embedStart)

	searchStart := time.Now()
	vectorHits, err := r.db.SearchChunksByVector(ctx, q.Slugs, vec, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	textHits, err := r.db.SearchChunksByText(ctx, q.Slugs, q.Text, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	res.SearchTime = time.Since(searchStart)

	res.Chunks = mergeHits(vectorHits, textHits, q.Limit)
	return res, nil
}

// mergeHits combines both signal sources. Vector hits keep their cosine
// similarity; chunks the full-text leg also found get a small bonus; chunks
// found only by full-text are appended with a normalized, down-weighted rank
// so exact-term matches survive even when embeddings miss them.
func mergeHits(vectorHits, textHits []models.ScoredChunk, limit int) []models.ScoredChunk {
	merged := make(map[string]models.ScoredChunk, len(vectorHits)+len(textHits))
	for _, ch := range vectorHits {
		merged[ch.ID] = ch
	}

	maxRank := 0.0
	for _, ch := range textHits {
		if ch.Similarity > maxRank {
			maxRank = ch.Similarity
		}
	}
	for _, ch := range textHits {
		if existing, ok := merged[ch.ID]; ok {
			existing.Similarity += exactTermBonus
			merged[ch.ID] = existing
			continue
		}
		if maxRank > 0 {
			ch.Similarity = ftsOnlyWeight * (ch.Similarity / maxRank)
		} else {
			ch.Similarity = 0
		}
		merged[ch.ID] = ch
	}

	out := make([]models.ScoredChunk, 0, len(merged))
	for _, ch := range merged {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		// Stable order for equal scores: document, then position.
		if out[i].DocumentSlug != out[j].DocumentSlug {
			return out[i].DocumentSlug < out[j].DocumentSlug
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
