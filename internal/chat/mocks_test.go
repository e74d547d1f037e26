package chat

import (
	"context"

	"github.com/docqa/docqa/internal/core"
	"github.com/docqa/docqa/internal/models"
)

type mockDB struct {
	core.DbClient
	getDocumentsBySlugsFn         func(ctx context.Context, slugs []string) ([]models.Document, error)
	getUserOwnerRoleFn            func(ctx context.Context, userID, ownerSlug string) (string, error)
	getOwnerFn                    func(ctx context.Context, slug string) (*models.Owner, error)
	searchChunksByVectorFn        func(ctx context.Context, slugs []string, vec []float32, limit int) ([]models.ScoredChunk, error)
	searchChunksByTextFn          func(ctx context.Context, slugs []string, query string, limit int) ([]models.ScoredChunk, error)
	insertConversationFn          func(ctx context.Context, conv *models.ChatConversation) error
	countConversationsBySessionFn func(ctx context.Context, sessionID string) (int, error)
}

func (m *mockDB) GetDocumentsBySlugs(ctx context.Context, slugs []string) ([]models.Document, error) {
	return m.getDocumentsBySlugsFn(ctx, slugs)
}

func (m *mockDB) GetUserOwnerRole(ctx context.Context, userID, ownerSlug string) (string, error) {
	return m.getUserOwnerRoleFn(ctx, userID, ownerSlug)
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

func (m *mockDB) InsertConversation(ctx context.Context, conv *models.ChatConversation) error {
	return m.insertConversationFn(ctx, conv)
}

func (m *mockDB) CountConversationsBySession(ctx context.Context, sessionID string) (int, error) {
	return m.countConversationsBySessionFn(ctx, sessionID)
}

type mockEmbedder struct{ typ string }

func (m *mockEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range vecs {
		vecs[i] = []float32{0.1, 0.2}
	}
	return vecs, nil
}

func (m *mockEmbedder) Type() string   { return m.typ }
func (m *mockEmbedder) Dimension() int { return 2 }

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
	// Split into two deltas to exercise accumulation.
	half := len(out) / 2
	if err := onDelta(out[:half]); err != nil {
		return err
	}
	return onDelta(out[half:])
}

type mockVerifier struct {
	verifyFn func(ctx context.Context, token string) (string, error)
}

func (m *mockVerifier) Verify(ctx context.Context, token string) (string, error) {
	return m.verifyFn(ctx, token)
}

type allowAllLimiter struct{}

func (allowAllLimiter) Check(string) Decision { return Decision{Allowed: true} }
func (allowAllLimiter) Cleanup()              {}

type denyLimiter struct{ d Decision }

func (l denyLimiter) Check(string) Decision { return l.d }
func (denyLimiter) Cleanup()                {}
