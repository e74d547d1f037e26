package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/docqa/docqa/internal/core"
)

// Embedding batch defaults: batch size keeps each API call's payload bounded,
// the inter-batch delay stays under provider rate limits.
const (
	DefaultEmbedBatchSize = 50
	DefaultBatchDelay     = 100 * time.Millisecond
)

// EmbeddedChunk pairs a chunk with its embedding. Embedding is nil when the
// chunk's batch failed; output stays order-aligned 1:1 with input so storage
// can filter deterministically.
type EmbeddedChunk struct {
	Chunk     ChunkDescriptor
	Embedding []float32
}

// BatchEmbedder converts chunk text into vectors in batches, tolerating batch
// failures without aborting the job.
type BatchEmbedder struct {
	provider  core.EmbeddingProvider
	batchSize int
	delay     time.Duration
	logger    *slog.Logger
}

func NewBatchEmbedder(provider core.EmbeddingProvider, batchSize int, delay time.Duration) *BatchEmbedder {
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	if delay < 0 {
		delay = DefaultBatchDelay
	}
	return &BatchEmbedder{provider: provider, batchSize: batchSize, delay: delay, logger: slog.Default()}
}

// EmbedChunks embeds every chunk. A failed batch degrades its chunks to nil
// embeddings rather than aborting: partial success is preferred over total
// failure. The only returned error is context cancellation.
func (e *BatchEmbedder) EmbedChunks(ctx context.Context, chunks []ChunkDescriptor) ([]EmbeddedChunk, error) {
	out := make([]EmbeddedChunk, len(chunks))
	for i, ch := range chunks {
		out[i] = EmbeddedChunk{Chunk: ch}
	}

	for start := 0; start < len(chunks); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + e.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, 0, end-start)
		for _, ch := range chunks[start:end] {
			texts = append(texts, ch.Content)
		}

		vecs, err := e.provider.EmbedTexts(ctx, texts)
		switch {
		case err != nil:
			e.logger.Warn("embedding batch failed",
				"provider", e.provider.Type(), "batch_start", start, "batch_size", len(texts), "error", err)
		case len(vecs) != len(texts):
			e.logger.Warn("embedding batch size mismatch",
				"provider", e.provider.Type(), "got", len(vecs), "want", len(texts))
		default:
			for j, vec := range vecs {
				out[start+j].Embedding = vec
			}
		}

		if end < len(chunks) && e.delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.delay):
			}
		}
	}
	return out, nil
}
