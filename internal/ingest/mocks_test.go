package ingest

import (
	"context"
	"time"

	"github.com/docqa/docqa/internal/core"
	"github.com/docqa/docqa/internal/models"
)

type mockLLM struct {
	generateFn func(ctx context.Context, model, systemPrompt, userPrompt string, history []core.ChatTurn) (string, error)
}

func (m *mockLLM) Generate(ctx context.Context, model, systemPrompt, userPrompt string, history []core.ChatTurn) (string, error) {
	return m.generateFn(ctx, model, systemPrompt, userPrompt, history)
}

func (m *mockLLM) GenerateStream(ctx context.Context, model, systemPrompt, userPrompt string, history []core.ChatTurn, onDelta func(string) error) error {
	out, err := m.generateFn(ctx, model, systemPrompt, userPrompt, history)
	if err != nil {
		return err
	}
	return onDelta(out)
}

type mockEmbedder struct {
	embedFn func(ctx context.Context, texts []string) ([][]float32, error)
	typ     string
}

func (m *mockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return m.embedFn(ctx, texts)
}

func (m *mockEmbedder) Type() string {
	if m.typ == "" {
		return "openai"
	}
	return m.typ
}

func (m *mockEmbedder) Dimension() int { return 4 }

// mockDB overrides only the methods a test exercises; calling anything else
// panics on the embedded nil interface, which is the desired loud failure.
type mockDB struct {
	core.DbClient
	insertChunksFn        func(ctx context.Context, chunks []models.Chunk) error
	updateUploadStatusFn  func(ctx context.Context, id, status, errMsg string) error
	appendProcessingLogFn func(ctx context.Context, entry *models.ProcessingLogEntry) error
	stuckUploadsFn        func(ctx context.Context, olderThan time.Time) ([]models.UploadedDocument, error)
}

func (m *mockDB) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	return m.insertChunksFn(ctx, chunks)
}

func (m *mockDB) UpdateUploadStatus(ctx context.Context, id, status, errMsg string) error {
	return m.updateUploadStatusFn(ctx, id, status, errMsg)
}

func (m *mockDB) AppendProcessingLog(ctx context.Context, entry *models.ProcessingLogEntry) error {
	return m.appendProcessingLogFn(ctx, entry)
}

func (m *mockDB) StuckUploads(ctx context.Context, olderThan time.Time) ([]models.UploadedDocument, error) {
	return m.stuckUploadsFn(ctx, olderThan)
}
