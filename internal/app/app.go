package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docqa/docqa/internal/api/middlewares"
	"github.com/docqa/docqa/internal/chat"
	"github.com/docqa/docqa/internal/config"
	"github.com/docqa/docqa/internal/core"
	db "github.com/docqa/docqa/internal/core/database"
	"github.com/docqa/docqa/internal/core/llm"
	"github.com/docqa/docqa/internal/core/objectstore"
	"github.com/docqa/docqa/internal/ingest"
	"github.com/docqa/docqa/internal/retrieval"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	DBClient core.DbClient
	Ingest   *ingest.Pipeline
	Limiter  chat.Limiter
	Server   *Server

	workers int
	logger  *slog.Logger
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	logger := slog.Default()

	dbClient, err := db.NewDatabaseClient(initCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	logger.Info("database initialized and bootstrapped")

	objClient, err := objectstore.NewS3Client(initCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	logger.Info("object store client ready", "bucket", cfg.BucketName)

	registry, err := buildRegistry(initCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("llm registry: %w", err)
	}

	summarizer := buildSummarizer(cfg, registry)

	ingestPipeline := ingest.NewPipeline(dbClient, objClient, registry, summarizer, ingest.PipelineConfig{
		Bucket:          cfg.BucketName,
		ChunkTokens:     cfg.ChunkTokens,
		OverlapTokens:   cfg.OverlapTokens,
		EmbedBatchSize:  cfg.EmbedBatchSize,
		InsertBatchSize: cfg.InsertBatchSize,
	})

	retriever := retrieval.NewRetriever(dbClient, registry,
		retrieval.NewEmbeddingCache(time.Hour, 1024))

	limiter := buildLimiter(initCtx, cfg, logger)
	verifier := middlewares.NewJWTVerifier(cfg.JWTSecret)

	chatPipeline := chat.NewPipeline(
		dbClient,
		registry,
		retriever,
		chat.NewAccessService(dbClient),
		verifier,
		limiter,
		chat.NewGeoLookup(cfg.GeoLookupURL),
		chat.Config{
			MaxConversations:  cfg.MaxConversations,
			DefaultModel:      cfg.DefaultModel,
			DefaultChunkLimit: cfg.DefaultChunkLimit,
		},
	)

	server := NewServer(cfg, dbClient, objClient, ingestPipeline, chatPipeline, verifier)

	return &App{
		DBClient: dbClient,
		Ingest:   ingestPipeline,
		Limiter:  limiter,
		Server:   server,
		workers:  cfg.IngestWorkers,
		logger:   logger,
	}, nil
}

// Start launches the background workers and then the HTTP server. Blocks
// until the server stops.
func (a *App) Start(ctx context.Context) {
	a.Ingest.Start(ctx, a.workers)
	chat.StartSweeper(ctx, a.Limiter)
	a.Server.Start()
}

func (a *App) Close() {
	if a.DBClient != nil {
		if err := a.DBClient.Close(); err != nil {
			a.logger.Error("closing database", "error", err)
		}
	}
}

// buildRegistry wires every configured provider. OpenAI is required because
// it is the canonical embedding type for multi-document queries; Gemini is
// optional.
func buildRegistry(ctx context.Context, cfg *config.Config) (*llm.Registry, error) {
	registry := llm.NewRegistry()

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	openai := llm.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIEmbed, cfg.OpenAIModel, 1536)
	registry.RegisterEmbedder(openai)
	registry.RegisterLLM("gpt", openai)

	if cfg.GeminiAPIKey != "" {
		embedder, err := llm.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.GeminiEmbed, 384)
		if err != nil {
			return nil, fmt.Errorf("gemini embedder: %w", err)
		}
		registry.RegisterEmbedder(embedder)

		gen, err := llm.NewGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini llm: %w", err)
		}
		registry.RegisterLLM("gemini", gen)
	}

	return registry, nil
}

// buildSummarizer prefers LLM summaries and falls back to the local frequency
// summarizer when no generation provider fits.
func buildSummarizer(cfg *config.Config, registry *llm.Registry) ingest.Summarizer {
	if provider := registry.LLM(cfg.DefaultModel); provider != nil {
		return ingest.NewLLMSummarizer(provider, cfg.DefaultModel)
	}
	return ingest.NewFrequencySummarizer()
}

// buildLimiter uses Redis when configured so limits hold across replicas,
// otherwise the in-memory limiter.
func buildLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) chat.Limiter {
	if cfg.RedisURL != "" {
		limiter, err := chat.NewRedisLimiterFromURL(ctx, cfg.RedisURL)
		if err == nil {
			logger.Info("rate limiting backed by redis")
			return limiter
		}
		logger.Warn("redis unavailable, using in-memory rate limiting", "error", err)
	}
	return chat.NewMemoryLimiter()
}
