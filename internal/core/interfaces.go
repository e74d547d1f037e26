package core

import (
	"context"
	"io"
	"time"

	"github.com/docqa/docqa/internal/models"
)

// DbClient defines all persistence operations the services need. It abstracts
// Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateUpload(ctx context.Context, up *models.UploadedDocument) error
	GetUpload(ctx context.Context, id string) (*models.UploadedDocument, error)
	ListUploadsByUser(ctx context.Context, userID string) ([]models.UploadedDocument, error)
	// UpdateUploadStatus always touches updated_at; staleness of that column is
	// the sole stuck-job signal.
	UpdateUploadStatus(ctx context.Context, id, status, errMsg string) error
	StuckUploads(ctx context.Context, olderThan time.Time) ([]models.UploadedDocument, error)

	AppendProcessingLog(ctx context.Context, entry *models.ProcessingLogEntry) error
	ListProcessingLogs(ctx context.Context, uploadID string) ([]models.ProcessingLogEntry, error)

	UpsertDocument(ctx context.Context, doc *models.Document) error
	GetDocumentBySlug(ctx context.Context, slug string) (*models.Document, error)
	GetDocumentsBySlugs(ctx context.Context, slugs []string) ([]models.Document, error)
	ListDocumentsByOwner(ctx context.Context, ownerSlug string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, slug string) error

	GetOwner(ctx context.Context, slug string) (*models.Owner, error)
	GetUserOwnerRole(ctx context.Context, userID, ownerSlug string) (string, error)

	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	DeleteChunksBySlug(ctx context.Context, slug string) (int64, error)
	SearchChunksByVector(ctx context.Context, slugs []string, queryVec []float32, limit int) ([]models.ScoredChunk, error)
	SearchChunksByText(ctx context.Context, slugs []string, query string, limit int) ([]models.ScoredChunk, error)

	InsertConversation(ctx context.Context, conv *models.ChatConversation) error
	CountConversationsBySession(ctx context.Context, sessionID string) (int, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	DeleteFile(ctx context.Context, bucket, key string) error
}

// EmbeddingProvider converts texts to fixed-dimension vectors. Vectors from
// different providers are not comparable, so Type tags every vector's origin.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Type() string
	Dimension() int
}

// ChatTurn is one prior exchange passed as generation history.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMProvider is the black-box generator. GenerateStream invokes onDelta for
// each incremental text fragment as it arrives.
type LLMProvider interface {
	Generate(ctx context.Context, model, systemPrompt, userPrompt string, history []ChatTurn) (string, error)
	GenerateStream(ctx context.Context, model, systemPrompt, userPrompt string, history []ChatTurn, onDelta func(string) error) error
}

// Access decision reasons. An empty reason with Allowed=false is a plain
// denial ("you are logged in but not entitled").
const (
	ReasonRequiresAuth     = "requires_auth"
	ReasonRequiresPasscode = "requires_passcode"
	ReasonNotFound         = "not_found"
	ReasonDenied           = "access_denied"
)

// AccessDecision is the outcome of a document access check.
type AccessDecision struct {
	Allowed bool
	Reason  string
}

// AccessDecider resolves whether a (possibly anonymous) user may query the
// given documents.
type AccessDecider interface {
	HasAccess(ctx context.Context, slugs []string, userID, passcode string) (AccessDecision, error)
}

// AuthVerifier resolves an optional user id from a bearer token. An empty
// token or an invalid one yields an empty user id, not an error: anonymous
// querying is allowed subject to document access rules.
type AuthVerifier interface {
	Verify(ctx context.Context, bearerToken string) (userID string, err error)
}
