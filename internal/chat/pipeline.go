package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docqa/docqa/internal/core"
	"github.com/docqa/docqa/internal/core/llm"
	"github.com/docqa/docqa/internal/models"
	"github.com/docqa/docqa/internal/retrieval"
)

// Request caps.
const (
	MaxMessageLen           = 1500
	MaxDocumentsPerQuery    = 5
	DefaultMaxConversations = 3
)

// Error types surfaced to clients alongside an HTTP-equivalent status.
const (
	ErrTypeValidation        = "validation_error"
	ErrTypeConversationLimit = "conversation_limit"
	ErrTypeServer            = "server_error"
)

// Error is a structured, client-facing chat failure.
type Error struct {
	Status     int
	Type       string
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Type, e.Message) }

func chatErr(status int, errType, format string, args ...any) *Error {
	return &Error{Status: status, Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Request is one incoming chat turn.
type Request struct {
	Message   string          `json:"message"`
	History   []core.ChatTurn `json:"history,omitempty"`
	Model     string          `json:"model,omitempty"`
	Docs      []string        `json:"doc"`
	Passcode  string          `json:"passcode,omitempty"`
	SessionID string          `json:"session_id,omitempty"`

	// Transport context, filled by the handler.
	BearerToken string `json:"-"`
	IPAddress   string `json:"-"`
}

// ResponseMetadata is returned with every successful answer.
type ResponseMetadata struct {
	ChunksUsed      int      `json:"chunks_used"`
	RetrievalTimeMs int64    `json:"retrieval_time_ms"`
	ResponseTimeMs  int64    `json:"response_time_ms"`
	DocumentSlugs   []string `json:"document_slugs"`
	EmbeddingType   string   `json:"embedding_type"`
	Model           string   `json:"model"`
}

// Response is the buffered-mode result.
type Response struct {
	Response   string           `json:"response"`
	Model      string           `json:"model"`
	SessionID  string           `json:"session_id"`
	ShareToken string           `json:"share_token,omitempty"`
	Metadata   ResponseMetadata `json:"metadata"`
}

// StreamEvent is one frame of the streamed variant.
type StreamEvent struct {
	Type       string            `json:"type"` // content | done | error
	Chunk      string            `json:"chunk,omitempty"`
	Metadata   *ResponseMetadata `json:"metadata,omitempty"`
	ShareToken string            `json:"share_token,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Config tunes the pipeline.
type Config struct {
	MaxConversations  int
	DefaultModel      string
	DefaultChunkLimit int // fallback retrieval limit when no owner governs
}

// Pipeline sequences the gated checks of a chat request: session validation,
// rate limiting, conversation capping, message validation, moderation,
// optional auth, document access, fan-out capping, embedding pinning,
// limit/model resolution, retrieval, generation, and conversation logging.
type Pipeline struct {
	db        core.DbClient
	registry  *llm.Registry
	retriever *retrieval.Retriever
	access    core.AccessDecider
	verifier  core.AuthVerifier
	limiter   Limiter
	moderator *Moderator
	geo       *GeoLookup
	cfg       Config
	logger    *slog.Logger
}

func NewPipeline(db core.DbClient, registry *llm.Registry, retriever *retrieval.Retriever,
	access core.AccessDecider, verifier core.AuthVerifier, limiter Limiter, geo *GeoLookup, cfg Config) *Pipeline {
	if cfg.MaxConversations <= 0 {
		cfg.MaxConversations = DefaultMaxConversations
	}
	return &Pipeline{
		db:        db,
		registry:  registry,
		retriever: retriever,
		access:    access,
		verifier:  verifier,
		limiter:   limiter,
		moderator: NewModerator(),
		geo:       geo,
		cfg:       cfg,
		logger:    slog.Default(),
	}
}

// ValidateSession returns the session id when it is UUID-shaped, otherwise
// mints a fresh one. Sessions are client-supplied opaque correlators, not
// authenticated identities.
func ValidateSession(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewString()
}

// gateResult is everything the generation step needs once all gates pass.
type gateResult struct {
	sessionID      string
	userID         string
	slugs          []string
	model          string
	requestedModel string
	overridden     bool
	embeddingType  string
	limits         *retrieval.LimitResolution
	banned         bool
	banReason      string
	retrieved      *retrieval.Result
	systemPrompt   string
	userPrompt     string
	timings        models.ConversationMetadata
}

// runGates executes checks 1-11 of the request sequence up to and including
// retrieval and prompt assembly. Each gate may short-circuit with an *Error;
// rejected requests leave no conversation side effects.
func (p *Pipeline) runGates(ctx context.Context, req *Request) (*gateResult, *Error) {
	res := &gateResult{sessionID: ValidateSession(req.SessionID)}

	// Rate limits.
	if d := p.limiter.Check(res.sessionID); !d.Allowed {
		e := chatErr(http.StatusTooManyRequests, d.Reason, "rate limit exceeded, retry in %s", d.RetryAfter.Round(time.Second))
		e.RetryAfter = d.RetryAfter
		return nil, e
	}

	// Conversation-length cap bounds abuse per session, not per user.
	count, err := p.db.CountConversationsBySession(ctx, res.sessionID)
	if err != nil {
		return nil, chatErr(http.StatusInternalServerError, ErrTypeServer, "conversation count failed")
	}
	if count >= p.cfg.MaxConversations {
		return nil, chatErr(http.StatusForbidden, ErrTypeConversationLimit,
			"session conversation limit (%d) reached", p.cfg.MaxConversations)
	}

	// Message validation.
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, chatErr(http.StatusBadRequest, ErrTypeValidation, "message is required")
	}
	if len(req.Message) > MaxMessageLen {
		return nil, chatErr(http.StatusBadRequest, ErrTypeValidation,
			"message exceeds %d characters", MaxMessageLen)
	}

	// Moderation: flagged requests still proceed but lose shareability.
	res.banned, res.banReason = p.moderator.Check(message)

	// Optional authentication.
	authStart := time.Now()
	if req.BearerToken != "" {
		userID, err := p.verifier.Verify(ctx, req.BearerToken)
		if err != nil {
			p.logger.Debug("bearer token rejected, continuing anonymous", "error", err)
		} else {
			res.userID = userID
		}
	}
	res.timings.AuthTimeMs = time.Since(authStart).Milliseconds()

	// Document fan-out cap.
	if len(req.Docs) == 0 {
		return nil, chatErr(http.StatusBadRequest, ErrTypeValidation, "at least one document is required")
	}
	if len(req.Docs) > MaxDocumentsPerQuery {
		return nil, chatErr(http.StatusBadRequest, ErrTypeValidation,
			"at most %d documents per query", MaxDocumentsPerQuery)
	}
	res.slugs = req.Docs

	// Access decision.
	decision, err := p.access.HasAccess(ctx, res.slugs, res.userID, req.Passcode)
	if err != nil {
		return nil, chatErr(http.StatusInternalServerError, ErrTypeServer, "access check failed")
	}
	if !decision.Allowed {
		switch decision.Reason {
		case core.ReasonNotFound:
			return nil, chatErr(http.StatusNotFound, core.ReasonNotFound, "document not found")
		case core.ReasonRequiresAuth:
			return nil, chatErr(http.StatusUnauthorized, core.ReasonRequiresAuth, "authentication required")
		case core.ReasonRequiresPasscode:
			return nil, chatErr(http.StatusUnauthorized, core.ReasonRequiresPasscode, "passcode required")
		default:
			return nil, chatErr(http.StatusForbidden, core.ReasonDenied, "access denied")
		}
	}

	// Registry: document load, embedding pinning, limit and model resolution.
	registryStart := time.Now()
	docs, err := p.db.GetDocumentsBySlugs(ctx, res.slugs)
	if err != nil || len(docs) != len(res.slugs) {
		return nil, chatErr(http.StatusNotFound, core.ReasonNotFound, "document not found")
	}

	res.embeddingType = docs[0].EmbeddingType
	if len(docs) > 1 {
		// Cross-document similarity scores are only comparable from a single
		// provider.
		res.embeddingType = retrieval.CanonicalEmbeddingType
	}

	res.limits, err = retrieval.ResolveChunkLimit(ctx, p.db, docs, p.cfg.DefaultChunkLimit)
	if err != nil {
		return nil, chatErr(http.StatusInternalServerError, ErrTypeServer, "chunk limit resolution failed")
	}

	res.requestedModel = req.Model
	if res.requestedModel == "" {
		res.requestedModel = p.cfg.DefaultModel
	}
	res.model = res.requestedModel
	if res.limits.ForcedModel != "" && res.limits.ForcedModel != res.model {
		res.model = res.limits.ForcedModel
		res.overridden = true
	}
	res.timings.RegistryTimeMs = time.Since(registryStart).Milliseconds()

	// Retrieval.
	retrieved, err := p.retriever.Retrieve(ctx, retrieval.Query{
		Text:          message,
		Slugs:         res.slugs,
		EmbeddingType: res.embeddingType,
		Limit:         res.limits.Limit,
	})
	if err != nil {
		p.logger.Error("retrieval failed", "session_id", res.sessionID, "error", err)
		return nil, chatErr(http.StatusInternalServerError, ErrTypeServer, "retrieval failed")
	}
	res.retrieved = retrieved
	res.embeddingType = retrieved.EmbeddingType
	res.timings.EmbeddingTimeMs = retrieved.EmbedTime.Milliseconds()
	res.timings.RetrievalTimeMs = retrieved.SearchTime.Milliseconds()
	res.timings.EmbeddingCacheHit = retrieved.CacheHit

	res.systemPrompt = systemPrompt()
	res.userPrompt = buildUserPrompt(message, retrieved.Chunks)
	return res, nil
}

// Ask runs the buffered chat path. Conversation logging is asynchronous,
// fire-and-forget: a logging failure is reported to server logs but never
// surfaces to the caller.
func (p *Pipeline) Ask(ctx context.Context, req *Request) (*Response, *Error) {
	start := time.Now()

	g, cerr := p.runGates(ctx, req)
	if cerr != nil {
		return nil, cerr
	}

	genStart := time.Now()
	answer, err := p.registry.LLM(g.model).Generate(ctx, g.model, g.systemPrompt, g.userPrompt, req.History)
	g.timings.GenerationTimeMs = time.Since(genStart).Milliseconds()
	if err != nil {
		p.logger.Error("generation failed",
			"session_id", g.sessionID, "model", g.model, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, chatErr(http.StatusInternalServerError, ErrTypeServer, "response generation failed")
	}

	elapsed := time.Since(start)
	shareToken := uuid.NewString()
	conv := p.buildConversation(g, req, answer, shareToken, elapsed, false)

	go p.logConversation(context.WithoutCancel(ctx), conv)

	resp := &Response{
		Response:  answer,
		Model:     g.model,
		SessionID: g.sessionID,
		Metadata: ResponseMetadata{
			ChunksUsed:      len(g.retrieved.Chunks),
			RetrievalTimeMs: g.timings.RetrievalTimeMs,
			ResponseTimeMs:  elapsed.Milliseconds(),
			DocumentSlugs:   g.slugs,
			EmbeddingType:   g.embeddingType,
			Model:           g.model,
		},
	}
	if !g.banned {
		resp.ShareToken = shareToken
	}
	return resp, nil
}

// AskStream runs the streamed chat path, emitting content events as fragments
// arrive. Conversation logging runs after the stream completes but before the
// terminal done event, so the share token can be returned on it. Emission
// stops on client disconnect (emit error), but logging still occurs.
func (p *Pipeline) AskStream(ctx context.Context, req *Request, emit func(StreamEvent) error) *Error {
	start := time.Now()

	g, cerr := p.runGates(ctx, req)
	if cerr != nil {
		return cerr
	}

	var full strings.Builder
	clientGone := false
	genStart := time.Now()
	// The request context is cancelled when the client disconnects; generation
	// keeps its own lifetime so the conversation can still be logged.
	err := p.registry.LLM(g.model).GenerateStream(context.WithoutCancel(ctx), g.model, g.systemPrompt, g.userPrompt, req.History,
		func(delta string) error {
			full.WriteString(delta)
			if clientGone {
				return nil
			}
			if err := emit(StreamEvent{Type: "content", Chunk: delta}); err != nil {
				// Stop emitting but let generation run to completion so the
				// conversation can still be logged.
				clientGone = true
			}
			return nil
		})
	g.timings.GenerationTimeMs = time.Since(genStart).Milliseconds()
	if err != nil {
		p.logger.Error("stream generation failed",
			"session_id", g.sessionID, "model", g.model, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return chatErr(http.StatusInternalServerError, ErrTypeServer, "response generation failed")
	}

	elapsed := time.Since(start)
	shareToken := uuid.NewString()
	conv := p.buildConversation(g, req, full.String(), shareToken, elapsed, true)
	p.logConversation(context.WithoutCancel(ctx), conv)

	if clientGone {
		return nil
	}

	done := StreamEvent{
		Type: "done",
		Metadata: &ResponseMetadata{
			ChunksUsed:      len(g.retrieved.Chunks),
			RetrievalTimeMs: g.timings.RetrievalTimeMs,
			ResponseTimeMs:  elapsed.Milliseconds(),
			DocumentSlugs:   g.slugs,
			EmbeddingType:   g.embeddingType,
			Model:           g.model,
		},
	}
	if !g.banned {
		done.ShareToken = conv.ShareToken
	}
	if err := emit(done); err != nil {
		p.logger.Debug("client gone before done event", "session_id", g.sessionID)
	}
	return nil
}

// buildConversation assembles the log row. A banned conversation persists an
// empty share token even though one was generated.
func (p *Pipeline) buildConversation(g *gateResult, req *Request, answer, shareToken string, elapsed time.Duration, streamed bool) *models.ChatConversation {
	simMin, simMax := similarityRange(g.retrieved.Chunks)
	meta := g.timings
	meta.OwnerSlug = g.limits.OwnerSlug
	meta.ChunkLimit = g.limits.Limit
	meta.ChunkLimitSource = g.limits.Source
	meta.EmbeddingType = g.embeddingType
	meta.RequestedModel = g.requestedModel
	meta.ModelOverridden = g.overridden
	meta.SimilarityMin = simMin
	meta.SimilarityMax = simMax
	meta.Streamed = streamed

	conv := &models.ChatConversation{
		ID:             uuid.NewString(),
		SessionID:      g.sessionID,
		Question:       req.Message,
		Response:       answer,
		Model:          g.model,
		ResponseTimeMs: elapsed.Milliseconds(),
		ChunksUsed:     len(g.retrieved.Chunks),
		DocumentSlugs:  g.slugs,
		UserID:         g.userID,
		IPAddress:      req.IPAddress,
		Banned:         g.banned,
		BanReason:      g.banReason,
		Metadata:       meta,
	}
	if !g.banned {
		conv.ShareToken = shareToken
	}
	return conv
}

// logConversation persists the turn. Failures are caught and reported to
// server logs only: logging is a side effect, not part of the contract with
// the caller.
func (p *Pipeline) logConversation(ctx context.Context, conv *models.ChatConversation) {
	logStart := time.Now()

	if p.geo != nil {
		conv.Country = p.geo.Country(ctx, conv.IPAddress)
	}
	conv.Metadata.LoggingTimeMs = time.Since(logStart).Milliseconds()

	insertCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.db.InsertConversation(insertCtx, conv); err != nil {
		p.logger.Error("conversation logging failed",
			"session_id", conv.SessionID, "conversation_id", conv.ID, "error", err)
	}
}

func similarityRange(chunks []models.ScoredChunk) (min, max float64) {
	for i, ch := range chunks {
		if i == 0 || ch.Similarity < min {
			min = ch.Similarity
		}
		if i == 0 || ch.Similarity > max {
			max = ch.Similarity
		}
	}
	return min, max
}

func systemPrompt() string {
	return "You are an assistant answering questions using only the supplied document excerpts. " +
		"Cite the page number of any excerpt you rely on. If the excerpts do not contain the " +
		"answer, say you cannot find it in the document."
}

// buildUserPrompt assembles the retrieval context ahead of the question, each
// excerpt tagged with its source document and page.
func buildUserPrompt(message string, chunks []models.ScoredChunk) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for _, ch := range chunks {
		fmt.Fprintf(&b, "[%s, page %d]\n%s\n---\n", ch.DocumentSlug, ch.Metadata.PageNumber, ch.Content)
	}
	fmt.Fprintf(&b, "\nQuestion: %s", message)
	return b.String()
}
