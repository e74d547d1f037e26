package ingest

import (
	"context"
	"strings"

	"github.com/docqa/docqa/internal/models"
)

// Summary is a short prose abstract plus a weighted keyword list. Either field
// may be empty when the strategy degraded.
type Summary struct {
	Abstract string
	Keywords []models.Keyword
}

// Summarizer produces an abstract and keywords from all chunks of a document.
// Implementations must degrade gracefully: summarization failure never aborts
// an ingestion job, so errors are reserved for context cancellation.
type Summarizer interface {
	Summarize(ctx context.Context, chunks []ChunkDescriptor) (*Summary, error)
}

// MaxKeywords caps the keyword list for both strategies.
const MaxKeywords = 30

// combineChunks concatenates chunk contents up to maxChars, respecting
// downstream context-window budgets.
func combineChunks(chunks []ChunkDescriptor, maxChars int) string {
	var b strings.Builder
	for _, ch := range chunks {
		if b.Len() >= maxChars {
			break
		}
		remaining := maxChars - b.Len()
		content := ch.Content
		if len(content) > remaining {
			content = content[:remaining]
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String()
}
