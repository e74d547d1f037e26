package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/docqa/docqa/internal/core"
	"github.com/docqa/docqa/internal/models"
)

// DefaultInsertBatchSize bounds each insert's payload; independent from the
// embedding batch size.
const DefaultInsertBatchSize = 50

// StoreWriter persists embedded chunks in bounded-size batches. Chunks whose
// embedding failed (nil) are filtered out before storage: fewer stored chunks
// than computed is the accepted lossy-on-failure policy. A storage failure, by
// contrast, aborts the whole store operation and propagates.
type StoreWriter struct {
	db        core.DbClient
	batchSize int
}

func NewStoreWriter(db core.DbClient, batchSize int) *StoreWriter {
	if batchSize <= 0 {
		batchSize = DefaultInsertBatchSize
	}
	return &StoreWriter{db: db, batchSize: batchSize}
}

// Store writes the embeddable chunks for a document slug and returns the count
// actually stored.
func (w *StoreWriter) Store(ctx context.Context, slug string, embedded []EmbeddedChunk) (int, error) {
	rows := make([]models.Chunk, 0, len(embedded))
	for _, ec := range embedded {
		if ec.Embedding == nil {
			continue
		}
		rows = append(rows, models.Chunk{
			ID:           uuid.NewString(),
			DocumentSlug: slug,
			ChunkIndex:   ec.Chunk.Index,
			Content:      ec.Chunk.Content,
			Embedding:    ec.Embedding,
			Metadata: models.ChunkMetadata{
				CharStart:        ec.Chunk.CharStart,
				CharEnd:          ec.Chunk.CharEnd,
				ApproxTokens:     ApproxTokens(ec.Chunk.Content),
				PageNumber:       ec.Chunk.PageNumber,
				PageMarkersFound: ec.Chunk.PageMarkersFound,
			},
		})
	}

	for start := 0; start < len(rows); start += w.batchSize {
		end := start + w.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := w.db.InsertChunks(ctx, rows[start:end]); err != nil {
			return 0, fmt.Errorf("insert chunk batch %d-%d: %w", start, end, err)
		}
	}
	return len(rows), nil
}
