package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docqa/docqa/internal/core"
	"github.com/docqa/docqa/internal/core/llm"
	"github.com/docqa/docqa/internal/models"
)

// PipelineConfig tunes the ingestion pipeline.
type PipelineConfig struct {
	Bucket          string
	ChunkTokens     int
	OverlapTokens   int
	EmbedBatchSize  int
	InsertBatchSize int
	// EmbeddingType selects the provider used for document chunks; openai is
	// the canonical default.
	EmbeddingType string
}

// Stats summarizes one completed ingestion run.
type Stats struct {
	Pages            int   `json:"pages"`
	Chunks           int   `json:"chunks"`
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

// Result is the ProcessOne outcome.
type Result struct {
	Success      bool   `json:"success"`
	DocumentSlug string `json:"document_slug"`
	Stats        Stats  `json:"stats"`
}

// Pipeline orchestrates download -> extract -> chunk -> (summarize || embed)
// -> store for uploaded documents, updating the status tracker at each stage.
// Jobs arrive on a bounded in-memory queue served by worker goroutines.
type Pipeline struct {
	db         core.DbClient
	obj        core.ObjectClient
	registry   *llm.Registry
	summarizer Summarizer
	tracker    *StatusTracker
	cfg        PipelineConfig
	jobs       chan string
	logger     *slog.Logger
}

func NewPipeline(db core.DbClient, obj core.ObjectClient, registry *llm.Registry, summarizer Summarizer, cfg PipelineConfig) *Pipeline {
	if cfg.ChunkTokens <= 0 {
		cfg.ChunkTokens = DefaultChunkTokens
	}
	if cfg.OverlapTokens <= 0 {
		cfg.OverlapTokens = DefaultOverlapTokens
	}
	if cfg.EmbeddingType == "" {
		cfg.EmbeddingType = "openai"
	}
	return &Pipeline{
		db:         db,
		obj:        obj,
		registry:   registry,
		summarizer: summarizer,
		tracker:    NewStatusTracker(db),
		cfg:        cfg,
		jobs:       make(chan string, 64),
		logger:     slog.Default(),
	}
}

func (p *Pipeline) Tracker() *StatusTracker { return p.tracker }

// Start launches worker goroutines reading from the job queue.
func (p *Pipeline) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					p.logger.Info("ingestion worker shutting down", "worker", w)
					return
				case uploadID := <-p.jobs:
					if _, err := p.ProcessOne(ctx, uploadID); err != nil {
						p.logger.Error("ingestion failed", "worker", w, "upload_id", uploadID, "error", err)
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules an upload for ingestion. Blocks when the queue is full.
func (p *Pipeline) Enqueue(uploadID string) {
	p.jobs <- uploadID
}

// ProcessOne runs the full pipeline for one uploaded document. Re-invocation
// on an already-ready document reprocesses from scratch: existing chunks for
// the slug are replaced, never duplicated. On any known failure path the
// terminal error status and a failed log entry are written before returning,
// so status is never left at processing except on a hung process.
func (p *Pipeline) ProcessOne(ctx context.Context, uploadID string) (*Result, error) {
	started := time.Now()

	up, err := p.db.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("load upload %s: %w", uploadID, err)
	}
	if up == nil {
		return nil, fmt.Errorf("uploaded document not found: %s", uploadID)
	}

	if err := p.tracker.SetStatus(ctx, uploadID, models.StatusProcessing, ""); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	fail := func(stage string, err error) (*Result, error) {
		p.tracker.Log(ctx, uploadID, stage, models.LogFailed, err.Error(), nil)
		if statusErr := p.tracker.SetStatus(ctx, uploadID, models.StatusError, err.Error()); statusErr != nil {
			p.logger.Error("failed to record error status", "upload_id", uploadID, "error", statusErr)
		}
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	// Download (or inline text).
	p.tracker.Log(ctx, uploadID, models.StageDownload, models.LogStarted, "fetching source", nil)
	raw, textMode, err := p.fetchSource(ctx, up)
	if err != nil {
		return fail(models.StageDownload, err)
	}
	p.tracker.Log(ctx, uploadID, models.StageDownload, models.LogCompleted, "source fetched",
		map[string]any{"bytes": len(raw)})

	// Extract.
	p.tracker.Log(ctx, uploadID, models.StageExtract, models.LogStarted, "extracting text", nil)
	var extraction *Extraction
	if textMode {
		extraction = ExtractText(string(raw))
	} else {
		extraction, err = Extract(raw, up.ContentType)
		if err != nil {
			return fail(models.StageExtract, err)
		}
	}
	p.tracker.Log(ctx, uploadID, models.StageExtract, models.LogCompleted, "text extracted",
		map[string]any{"pages": extraction.Pages, "chars": len(extraction.Text)})

	// Chunk.
	chunks, err := ChunkText(extraction.Text, p.cfg.ChunkTokens, p.cfg.OverlapTokens, extraction.Pages)
	if err != nil {
		return fail(models.StageChunk, err)
	}
	p.tracker.Log(ctx, uploadID, models.StageChunk, models.LogCompleted, "text chunked",
		map[string]any{"chunks": len(chunks)})

	// Summarize and embed in parallel; summarization failure is independent of
	// chunk storage and never aborts the job.
	provider, err := p.registry.Embedder(p.cfg.EmbeddingType)
	if err != nil {
		return fail(models.StageEmbed, err)
	}

	var (
		summary  *Summary
		embedded []EmbeddedChunk
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := p.summarizer.Summarize(gctx, chunks)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			p.logger.Warn("summarization failed", "upload_id", uploadID, "error", err)
			return nil
		}
		summary = s
		return nil
	})
	g.Go(func() error {
		p.tracker.Log(gctx, uploadID, models.StageEmbed, models.LogStarted, "embedding chunks",
			map[string]any{"provider": provider.Type(), "chunks": len(chunks)})
		out, err := NewBatchEmbedder(provider, p.cfg.EmbedBatchSize, DefaultBatchDelay).EmbedChunks(gctx, chunks)
		if err != nil {
			return err
		}
		embedded = out
		return nil
	})
	if err := g.Wait(); err != nil {
		return fail(models.StageEmbed, err)
	}

	failedEmbeds := 0
	for _, ec := range embedded {
		if ec.Embedding == nil {
			failedEmbeds++
		}
	}
	p.tracker.Log(ctx, uploadID, models.StageEmbed, models.LogCompleted, "chunks embedded",
		map[string]any{"failed": failedEmbeds, "total": len(embedded)})

	// Store: upsert the document, then replace its chunks.
	slug := documentSlug(up)
	doc := p.buildDocument(up, slug, extraction, summary, provider.Type())
	if err := p.db.UpsertDocument(ctx, doc); err != nil {
		return fail(models.StageStore, err)
	}
	if _, err := p.db.DeleteChunksBySlug(ctx, slug); err != nil {
		return fail(models.StageStore, err)
	}

	p.tracker.Log(ctx, uploadID, models.StageStore, models.LogStarted, "storing chunks", nil)
	stored, err := NewStoreWriter(p.db, p.cfg.InsertBatchSize).Store(ctx, slug, embedded)
	if err != nil {
		return fail(models.StageStore, err)
	}
	p.tracker.Log(ctx, uploadID, models.StageStore, models.LogCompleted, "chunks stored",
		map[string]any{"stored": stored})

	if err := p.tracker.SetStatus(ctx, uploadID, models.StatusReady, ""); err != nil {
		return nil, fmt.Errorf("mark ready: %w", err)
	}

	elapsed := time.Since(started)
	p.tracker.Log(ctx, uploadID, models.StageComplete, models.LogCompleted, "document ready",
		map[string]any{"slug": slug, "elapsed_ms": elapsed.Milliseconds()})

	return &Result{
		Success:      true,
		DocumentSlug: slug,
		Stats: Stats{
			Pages:            extraction.Pages,
			Chunks:           stored,
			ProcessingTimeMs: elapsed.Milliseconds(),
		},
	}, nil
}

// fetchSource returns the raw bytes of the upload's source and whether it is
// a direct-text upload (no extraction needed).
func (p *Pipeline) fetchSource(ctx context.Context, up *models.UploadedDocument) ([]byte, bool, error) {
	key := up.FilePath
	textMode := false
	if strings.HasPrefix(key, models.TextUploadPrefix) {
		key = strings.TrimPrefix(key, models.TextUploadPrefix)
		textMode = true
	}
	raw, err := p.obj.GetFile(ctx, p.cfg.Bucket, key)
	if err != nil {
		return nil, false, err
	}
	return raw, textMode, nil
}

func (p *Pipeline) buildDocument(up *models.UploadedDocument, slug string, extraction *Extraction, summary *Summary, embeddingType string) *models.Document {
	doc := &models.Document{
		ID:            uuid.NewString(),
		Slug:          slug,
		Title:         up.Title,
		AccessLevel:   models.AccessPublic,
		Active:        true,
		EmbeddingType: embeddingType,
		Metadata: models.DocumentMetadata{
			UploadedDocID:    up.ID,
			CharacterCount:   len(extraction.Text),
			Pages:            extraction.Pages,
			ProcessingMethod: up.ProcessingMethod,
		},
	}
	if summary != nil {
		doc.WelcomeMessage = summary.Abstract
		doc.Metadata.Keywords = summary.Keywords
	}
	return doc
}

var slugCleanRe = regexp.MustCompile(`[^a-z0-9]+`)

// documentSlug derives a stable slug from the upload, so reprocessing the same
// upload always targets the same document.
func documentSlug(up *models.UploadedDocument) string {
	base := strings.Trim(slugCleanRe.ReplaceAllString(strings.ToLower(up.Title), "-"), "-")
	if base == "" {
		base = "document"
	}
	if len(base) > 48 {
		base = strings.Trim(base[:48], "-")
	}
	suffix := up.ID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return base + "-" + suffix
}
