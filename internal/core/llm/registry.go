package llm

import (
	"fmt"
	"strings"

	"github.com/docqa/docqa/internal/core"
)

// Registry resolves embedding providers by type tag and generation providers
// by model name. Multi-document retrieval relies on the "openai" tag being the
// canonical cross-document embedding type.
type Registry struct {
	embedders map[string]core.EmbeddingProvider
	llms      map[string]core.LLMProvider
	fallback  core.LLMProvider
}

func NewRegistry() *Registry {
	return &Registry{
		embedders: make(map[string]core.EmbeddingProvider),
		llms:      make(map[string]core.LLMProvider),
	}
}

func (r *Registry) RegisterEmbedder(p core.EmbeddingProvider) {
	r.embedders[p.Type()] = p
}

// RegisterLLM associates a model-name prefix ("gpt", "gemini", ...) with a
// provider. The first registered provider is also the fallback for unknown
// model names.
func (r *Registry) RegisterLLM(prefix string, p core.LLMProvider) {
	r.llms[prefix] = p
	if r.fallback == nil {
		r.fallback = p
	}
}

func (r *Registry) Embedder(embeddingType string) (core.EmbeddingProvider, error) {
	p, ok := r.embedders[embeddingType]
	if !ok {
		return nil, fmt.Errorf("no embedding provider registered for type %q", embeddingType)
	}
	return p, nil
}

func (r *Registry) LLM(model string) core.LLMProvider {
	for prefix, p := range r.llms {
		if strings.HasPrefix(model, prefix) {
			return p
		}
	}
	return r.fallback
}
