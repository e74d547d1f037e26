package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/docqa/docqa/internal/core"
)

type GeminiLLM struct {
	client       *genai.Client
	defaultModel string
}

func NewGeminiLLM(ctx context.Context, apiKey, defaultModel string) (*GeminiLLM, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if defaultModel == "" {
		defaultModel = "gemini-1.5-flash"
	}
	return &GeminiLLM{client: cl, defaultModel: defaultModel}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiLLM) model(name, systemPrompt string, history []core.ChatTurn) (*genai.GenerativeModel, *genai.ChatSession) {
	if name == "" {
		name = g.defaultModel
	}
	m := g.client.GenerativeModel(name)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}
	cs := m.StartChat()
	for _, turn := range history {
		role := "user"
		if turn.Role == "assistant" {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(turn.Content)},
		})
	}
	return m, cs
}

func (g *GeminiLLM) Generate(ctx context.Context, model, systemPrompt, userPrompt string, history []core.ChatTurn) (string, error) {
	_, cs := g.model(model, systemPrompt, history)

	resp, err := cs.SendMessage(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return collectText(resp), nil
}

// GenerateStream emits incremental fragments through onDelta as they arrive.
func (g *GeminiLLM) GenerateStream(ctx context.Context, model, systemPrompt, userPrompt string, history []core.ChatTurn, onDelta func(string) error) error {
	_, cs := g.model(model, systemPrompt, history)

	it := cs.SendMessageStream(ctx, genai.Text(userPrompt))
	for {
		resp, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		if text := collectText(resp); text != "" {
			if err := onDelta(text); err != nil {
				return err
			}
		}
	}
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

var _ core.LLMProvider = (*GeminiLLM)(nil)
