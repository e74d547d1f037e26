package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docqa/docqa/internal/core"
	"github.com/docqa/docqa/internal/models"
)

// maxSummaryInputChars bounds the text sent to the model so the prompt stays
// inside the context window.
const maxSummaryInputChars = 12000

// LLMSummarizer prompts a chat-completion model for the abstract and the
// keyword list. Malformed JSON, missing content, and API failures degrade to
// empty fields rather than erroring: summarization must never abort ingestion.
type LLMSummarizer struct {
	llm    core.LLMProvider
	model  string
	logger *slog.Logger
}

func NewLLMSummarizer(llm core.LLMProvider, model string) *LLMSummarizer {
	return &LLMSummarizer{llm: llm, model: model, logger: slog.Default()}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, chunks []ChunkDescriptor) (*Summary, error) {
	if len(chunks) == 0 {
		return &Summary{}, nil
	}
	text := combineChunks(chunks, maxSummaryInputChars)
	out := &Summary{}

	abstract, err := s.llm.Generate(ctx, s.model,
		"You summarize documents. Reply with only the summary text, no preamble.",
		fmt.Sprintf("Write a roughly 100-word abstract of the following document excerpt:\n\n%s", text),
		nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("abstract generation failed", "error", err)
	} else {
		out.Abstract = strings.TrimSpace(abstract)
	}

	raw, err := s.llm.Generate(ctx, s.model,
		"You extract keywords. Reply with only a JSON array, no prose and no code fences.",
		fmt.Sprintf("Extract up to %d keywords from the following document excerpt as a JSON array of objects "+
			`{"term": string, "weight": number}, weight in [0.1, 1.0] by importance:`+"\n\n%s", MaxKeywords, text),
		nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("keyword generation failed", "error", err)
		return out, nil
	}

	out.Keywords = parseKeywordJSON(raw)
	return out, nil
}

// parseKeywordJSON leniently parses a model reply that should contain a JSON
// array of {term, weight} objects. Anything unparseable yields nil.
func parseKeywordJSON(raw string) []models.Keyword {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil
	}

	var parsed []models.Keyword
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil
	}

	out := parsed[:0]
	for _, kw := range parsed {
		kw.Term = strings.TrimSpace(kw.Term)
		if kw.Term == "" {
			continue
		}
		if kw.Weight < 0.1 {
			kw.Weight = 0.1
		}
		if kw.Weight > 1.0 {
			kw.Weight = 1.0
		}
		out = append(out, kw)
	}
	if len(out) > MaxKeywords {
		out = out[:MaxKeywords]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var _ Summarizer = (*LLMSummarizer)(nil)
