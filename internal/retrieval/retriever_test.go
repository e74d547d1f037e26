package retrieval

import (
	"context"
	"testing"

	"github.com/docqa/docqa/internal/core"
	"github.com/docqa/docqa/internal/core/llm"
	"github.com/docqa/docqa/internal/models"
)

type mockDB struct {
	core.DbClient
	getOwnerFn             func(ctx context.Context, slug string) (*models.Owner, error)
	searchChunksByVectorFn func(ctx context.Context, slugs []string, vec []float32, limit int) ([]models.ScoredChunk, error)
	searchChunksByTextFn   func(ctx context.Context, slugs []string, query string, limit int) ([]models.ScoredChunk, error)
}

func (m *mockDB) GetOwner(ctx context.Context, slug string) (*models.Owner, error) {
	return m.getOwnerFn(ctx, slug)
}

func (m *mockDB) SearchChunksByVector(ctx context.Context, slugs []string, vec []float32, limit int) ([]models.ScoredChunk, error) {
	return m.searchChunksByVectorFn(ctx, slugs, vec, limit)
}

func (m *mockDB) SearchChunksByText(ctx context.Context, slugs []string, query string, limit int) ([]models.ScoredChunk, error) {
	return m.searchChunksByTextFn(ctx, slugs, query, limit)
}

type mockEmbedder struct {
	typ   string
	calls int
}

func (m *mockEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	m.calls++
	vecs := make([][]float32, len(texts))
	for i := range vecs {
		vecs[i] = []float32{0.1, 0.2, 0.3}
	}
	return vecs, nil
}

func (m *mockEmbedder) Type() string   { return m.typ }
func (m *mockEmbedder) Dimension() int { return 3 }

func scored(id, slug string, idx int, sim float64) models.ScoredChunk {
	return models.ScoredChunk{
		Chunk:      models.Chunk{ID: id, DocumentSlug: slug, ChunkIndex: idx, Content: "c"},
		Similarity: sim,
	}
}

func newTestRetriever(db *mockDB, embedders ...*mockEmbedder) *Retriever {
	registry := llm.NewRegistry()
	for _, e := range embedders {
		registry.RegisterEmbedder(e)
	}
	return NewRetriever(db, registry, NewEmbeddingCache(0, 0))
}

func TestRetrieveMergesBothLegs(t *testing.T) {
	db := &mockDB{
		searchChunksByVectorFn: func(_ context.Context, _ []string, _ []float32, _ int) ([]models.ScoredChunk, error) {
			return []models.ScoredChunk{
				scored("v1", "doc", 0, 0.9),
				scored("both", "doc", 1, 0.7),
			}, nil
		},
		searchChunksByTextFn: func(_ context.Context, _ []string, _ string, _ int) ([]models.ScoredChunk, error) {
			return []models.ScoredChunk{
				scored("both", "doc", 1, 0.08),
				scored("fts-only", "doc", 2, 0.04),
			}, nil
		},
	}
	r := newTestRetriever(db, &mockEmbedder{typ: "openai"})

	res, err := r.Retrieve(context.Background(), Query{Text: "q", Slugs: []string{"doc"}, EmbeddingType: "openai", Limit: 10})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(res.Chunks))
	}

	byID := map[string]float64{}
	for _, ch := range res.Chunks {
		byID[ch.ID] = ch.Similarity
	}
	if byID["v1"] != 0.9 {
		t.Errorf("vector-only score = %v, want 0.9 unchanged", byID["v1"])
	}
	if got, want := byID["both"], 0.7+exactTermBonus; got != want {
		t.Errorf("both-legs score = %v, want %v", got, want)
	}
	// FTS-only scores normalize against the best rank then down-weight.
	if got, want := byID["fts-only"], ftsOnlyWeight*(0.04/0.08); got != want {
		t.Errorf("fts-only score = %v, want %v", got, want)
	}

	// Ranking is descending.
	for i := 1; i < len(res.Chunks); i++ {
		if res.Chunks[i-1].Similarity < res.Chunks[i].Similarity {
			t.Fatalf("chunks not sorted at %d", i)
		}
	}
}

func TestRetrieveTruncatesToLimit(t *testing.T) {
	db := &mockDB{
		searchChunksByVectorFn: func(_ context.Context, _ []string, _ []float32, _ int) ([]models.ScoredChunk, error) {
			out := make([]models.ScoredChunk, 8)
			for i := range out {
				out[i] = scored(string(rune('a'+i)), "doc", i, float64(8-i)/10)
			}
			return out, nil
		},
		searchChunksByTextFn: func(_ context.Context, _ []string, _ string, _ int) ([]models.ScoredChunk, error) {
			return nil, nil
		},
	}
	r := newTestRetriever(db, &mockEmbedder{typ: "openai"})

	res, err := r.Retrieve(context.Background(), Query{Text: "q", Slugs: []string{"doc"}, EmbeddingType: "openai", Limit: 3})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Chunks) != 3 {
		t.Errorf("chunks = %d, want limit 3", len(res.Chunks))
	}
	if res.Chunks[0].ID != "a" {
		t.Errorf("top chunk = %q, want best-scored", res.Chunks[0].ID)
	}
}

func TestRetrieveMultiDocumentPinsCanonicalEmbedding(t *testing.T) {
	gemini := &mockEmbedder{typ: "gemini"}
	openai := &mockEmbedder{typ: "openai"}
	db := &mockDB{
		searchChunksByVectorFn: func(_ context.Context, _ []string, _ []float32, _ int) ([]models.ScoredChunk, error) {
			return nil, nil
		},
		searchChunksByTextFn: func(_ context.Context, _ []string, _ string, _ int) ([]models.ScoredChunk, error) {
			return nil, nil
		},
	}
	r := newTestRetriever(db, gemini, openai)

	res, err := r.Retrieve(context.Background(), Query{
		Text:          "q",
		Slugs:         []string{"doc-a", "doc-b"},
		EmbeddingType: "gemini", // ignored for multi-doc queries
		Limit:         5,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.EmbeddingType != CanonicalEmbeddingType {
		t.Errorf("embedding type = %q, want %q", res.EmbeddingType, CanonicalEmbeddingType)
	}
	if gemini.calls != 0 || openai.calls != 1 {
		t.Errorf("provider calls gemini=%d openai=%d, want 0/1", gemini.calls, openai.calls)
	}
}

func TestRetrieveCachesQueryEmbedding(t *testing.T) {
	embedder := &mockEmbedder{typ: "openai"}
	db := &mockDB{
		searchChunksByVectorFn: func(_ context.Context, _ []string, _ []float32, _ int) ([]models.ScoredChunk, error) {
			return nil, nil
		},
		searchChunksByTextFn: func(_ context.Context, _ []string, _ string, _ int) ([]models.ScoredChunk, error) {
			return nil, nil
		},
	}
	r := newTestRetriever(db, embedder)
	q := Query{Text: "repeated question", Slugs: []string{"doc"}, EmbeddingType: "openai", Limit: 5}

	first, err := r.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("first Retrieve: %v", err)
	}
	second, err := r.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("second Retrieve: %v", err)
	}

	if first.CacheHit {
		t.Error("first query reported a cache hit")
	}
	if !second.CacheHit {
		t.Error("second identical query missed the cache")
	}
	if embedder.calls != 1 {
		t.Errorf("embedder calls = %d, want 1", embedder.calls)
	}
}

func TestRetrieveRejectsEmptyInput(t *testing.T) {
	r := newTestRetriever(&mockDB{}, &mockEmbedder{typ: "openai"})

	if _, err := r.Retrieve(context.Background(), Query{Slugs: []string{"doc"}}); err == nil {
		t.Error("expected error for empty text")
	}
	if _, err := r.Retrieve(context.Background(), Query{Text: "q"}); err == nil {
		t.Error("expected error for no slugs")
	}
}
