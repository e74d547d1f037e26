package models

import (
	"time"
)

// Processing status values for an UploadedDocument. Transitions are monotonic:
// pending -> processing -> ready|error. Ready and error are terminal; a retrain
// starts a fresh processing cycle rather than reopening the lifecycle.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// Access levels for a Document.
const (
	AccessPublic         = "public"
	AccessPasscode       = "passcode"
	AccessRegistered     = "registered"
	AccessOwnerOnly      = "owner_restricted"
	AccessOwnerAdminOnly = "owner_admin_only"
)

// TextUploadPrefix marks the file path of a direct-text upload; the rest of
// the path is the object-store key holding the raw text.
const TextUploadPrefix = "text://"

// UploadedDocument is one row per upload job. It is created before any
// processing happens and mutated exclusively by the ingestion pipeline.
type UploadedDocument struct {
	ID               string    `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"user_id"`
	FilePath         string    `db:"file_path" json:"file_path"`
	Title            string    `db:"title" json:"title"`
	FileSize         int64     `db:"file_size" json:"file_size"`
	ContentType      string    `db:"content_type" json:"content_type"`
	Status           string    `db:"status" json:"status"`
	ErrorMessage     string    `db:"error_message" json:"error_message,omitempty"`
	ProcessingMethod string    `db:"processing_method" json:"processing_method"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Keyword is a weighted keyword term produced by a summarizer. Weight is in
// [0.1, 1.0].
type Keyword struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// DocumentMetadata is the known shape of the document metadata bag. Ingestion
// and admin edits populate different subsets; unknown producers go through
// Extra.
type DocumentMetadata struct {
	Keywords         []Keyword      `json:"keywords,omitempty"`
	UploadedDocID    string         `json:"uploaded_doc_id,omitempty"`
	CharacterCount   int            `json:"character_count,omitempty"`
	Pages            int            `json:"pages,omitempty"`
	ProcessingMethod string         `json:"processing_method,omitempty"`
	Extra            map[string]any `json:"extra,omitempty"`
}

// Document is the queryable, chunked unit. Slug is globally unique and
// immutable once chunks reference it. Empty OwnerSlug means super-admin scope.
type Document struct {
	ID             string           `db:"id" json:"id"`
	Slug           string           `db:"slug" json:"slug"`
	Title          string           `db:"title" json:"title"`
	Subtitle       string           `db:"subtitle" json:"subtitle,omitempty"`
	WelcomeMessage string           `db:"welcome_message" json:"welcome_message,omitempty"`
	OwnerSlug      string           `db:"owner_slug" json:"owner_slug,omitempty"`
	AccessLevel    string           `db:"access_level" json:"access_level"`
	PasscodeHash   string           `db:"passcode_hash" json:"-"`
	Active         bool             `db:"active" json:"active"`
	EmbeddingType  string           `db:"embedding_type" json:"embedding_type"`
	Metadata       DocumentMetadata `db:"metadata" json:"metadata"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// ChunkMetadata carries the positional metadata assigned by the chunker.
type ChunkMetadata struct {
	CharStart        int `json:"char_start"`
	CharEnd          int `json:"char_end"`
	ApproxTokens     int `json:"approx_tokens"`
	PageNumber       int `json:"page_number"`
	PageMarkersFound int `json:"page_markers_found"`
}

// Chunk is one stored slice of a document's text. ChunkIndex is contiguous and
// zero-based per document; a chunk with a nil embedding is never persisted.
type Chunk struct {
	ID           string        `db:"id" json:"id"`
	DocumentSlug string        `db:"document_slug" json:"document_slug"`
	ChunkIndex   int           `db:"chunk_index" json:"chunk_index"`
	Content      string        `db:"content" json:"content"`
	Embedding    []float32     `db:"embedding" json:"-"`
	Metadata     ChunkMetadata `db:"metadata" json:"metadata"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// ScoredChunk is a retrieved chunk with its combined hybrid-search score.
type ScoredChunk struct {
	Chunk
	Similarity float64 `json:"similarity"`
}

// Owner is a tenant boundary. DefaultChunkLimit is bounded to (0, 200].
// ForcedModel, when set, pins every query against this owner's documents to a
// specific model.
type Owner struct {
	Slug              string    `db:"slug" json:"slug"`
	Name              string    `db:"name" json:"name"`
	DefaultChunkLimit int       `db:"default_chunk_limit" json:"default_chunk_limit"`
	ForcedModel       string    `db:"forced_model" json:"forced_model,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Processing log stages and statuses.
const (
	StageDownload = "download"
	StageExtract  = "extract"
	StageChunk    = "chunk"
	StageEmbed    = "embed"
	StageStore    = "store"
	StageComplete = "complete"
	StageErr      = "error"

	LogStarted   = "started"
	LogProgress  = "progress"
	LogCompleted = "completed"
	LogFailed    = "failed"
)

// ProcessingLogEntry is an append-only audit record for one pipeline stage
// transition of an UploadedDocument.
type ProcessingLogEntry struct {
	ID        string         `db:"id" json:"id"`
	UploadID  string         `db:"upload_id" json:"upload_id"`
	Stage     string         `db:"stage" json:"stage"`
	Status    string         `db:"status" json:"status"`
	Message   string         `db:"message" json:"message"`
	Metadata  map[string]any `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// ConversationMetadata is the audit bag logged with each chat turn, including
// the per-gate timing breakdown.
type ConversationMetadata struct {
	OwnerSlug         string  `json:"owner_slug,omitempty"`
	ChunkLimit        int     `json:"chunk_limit"`
	ChunkLimitSource  string  `json:"chunk_limit_source"`
	EmbeddingType     string  `json:"embedding_type"`
	RequestedModel    string  `json:"requested_model,omitempty"`
	ModelOverridden   bool    `json:"model_overridden,omitempty"`
	AuthTimeMs        int64   `json:"auth_time_ms"`
	RegistryTimeMs    int64   `json:"registry_time_ms"`
	EmbeddingTimeMs   int64   `json:"embedding_time_ms"`
	RetrievalTimeMs   int64   `json:"retrieval_time_ms"`
	GenerationTimeMs  int64   `json:"generation_time_ms"`
	LoggingTimeMs     int64   `json:"logging_time_ms"`
	EmbeddingCacheHit bool    `json:"embedding_cache_hit"`
	SimilarityMin     float64 `json:"similarity_min,omitempty"`
	SimilarityMax     float64 `json:"similarity_max,omitempty"`
	Streamed          bool    `json:"streamed,omitempty"`
}

// ChatConversation is one chat turn. ShareToken is withheld (empty) whenever
// Banned is true, regardless of whether a token was generated.
type ChatConversation struct {
	ID             string               `db:"id" json:"id"`
	SessionID      string               `db:"session_id" json:"session_id"`
	Question       string               `db:"question" json:"question"`
	Response       string               `db:"response" json:"response"`
	Model          string               `db:"model" json:"model"`
	ResponseTimeMs int64                `db:"response_time_ms" json:"response_time_ms"`
	ChunksUsed     int                  `db:"chunks_used" json:"chunks_used"`
	DocumentSlugs  []string             `db:"document_slugs" json:"document_slugs"`
	UserID         string               `db:"user_id" json:"user_id,omitempty"`
	IPAddress      string               `db:"ip_address" json:"ip_address,omitempty"`
	Country        string               `db:"country" json:"country,omitempty"`
	Banned         bool                 `db:"banned" json:"banned"`
	BanReason      string               `db:"ban_reason" json:"ban_reason,omitempty"`
	ShareToken     string               `db:"share_token" json:"share_token,omitempty"`
	Metadata       ConversationMetadata `db:"metadata" json:"metadata"`
	CreatedAt      time.Time            `db:"created_at" json:"created_at"`
}
