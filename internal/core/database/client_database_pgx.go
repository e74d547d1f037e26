package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/docqa/docqa/internal/config"
	"github.com/docqa/docqa/internal/core"
	"github.com/docqa/docqa/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// --- uploaded documents ---

func (c *DatabaseClient) CreateUpload(ctx context.Context, up *models.UploadedDocument) error {
	if up == nil {
		return errors.New("nil upload")
	}
	const q = `
		INSERT INTO uploaded_documents
			(id, user_id, file_path, title, file_size, content_type, status, processing_method, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q,
		up.ID, up.UserID, up.FilePath, up.Title, up.FileSize, up.ContentType, up.Status, up.ProcessingMethod)
	return err
}

func (c *DatabaseClient) GetUpload(ctx context.Context, id string) (*models.UploadedDocument, error) {
	const q = `
		SELECT id, user_id, file_path, title, file_size, content_type, status, error_message, processing_method, created_at, updated_at
		FROM uploaded_documents WHERE id = $1
	`
	var up models.UploadedDocument
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&up.ID, &up.UserID, &up.FilePath, &up.Title, &up.FileSize, &up.ContentType,
		&up.Status, &up.ErrorMessage, &up.ProcessingMethod, &up.CreatedAt, &up.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &up, nil
}

func (c *DatabaseClient) ListUploadsByUser(ctx context.Context, userID string) ([]models.UploadedDocument, error) {
	const q = `
		SELECT id, user_id, file_path, title, file_size, content_type, status, error_message, processing_method, created_at, updated_at
		FROM uploaded_documents
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UploadedDocument
	for rows.Next() {
		var up models.UploadedDocument
		if err := rows.Scan(
			&up.ID, &up.UserID, &up.FilePath, &up.Title, &up.FileSize, &up.ContentType,
			&up.Status, &up.ErrorMessage, &up.ProcessingMethod, &up.CreatedAt, &up.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, up)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateUploadStatus(ctx context.Context, id, status, errMsg string) error {
	const q = `
		UPDATE uploaded_documents
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status, errMsg)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("uploaded document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) StuckUploads(ctx context.Context, olderThan time.Time) ([]models.UploadedDocument, error) {
	const q = `
		SELECT id, user_id, file_path, title, file_size, content_type, status, error_message, processing_method, created_at, updated_at
		FROM uploaded_documents
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY updated_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UploadedDocument
	for rows.Next() {
		var up models.UploadedDocument
		if err := rows.Scan(
			&up.ID, &up.UserID, &up.FilePath, &up.Title, &up.FileSize, &up.ContentType,
			&up.Status, &up.ErrorMessage, &up.ProcessingMethod, &up.CreatedAt, &up.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, up)
	}
	return out, rows.Err()
}

// --- processing logs ---

func (c *DatabaseClient) AppendProcessingLog(ctx context.Context, entry *models.ProcessingLogEntry) error {
	if entry == nil {
		return errors.New("nil log entry")
	}
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal log metadata: %w", err)
	}
	const q = `
		INSERT INTO processing_logs (id, upload_id, stage, status, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`
	_, err = c.db.ExecContext(ctx, q, entry.ID, entry.UploadID, entry.Stage, entry.Status, entry.Message, meta)
	return err
}

func (c *DatabaseClient) ListProcessingLogs(ctx context.Context, uploadID string) ([]models.ProcessingLogEntry, error) {
	const q = `
		SELECT id, upload_id, stage, status, message, metadata, created_at
		FROM processing_logs
		WHERE upload_id = $1
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, uploadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ProcessingLogEntry
	for rows.Next() {
		var (
			e    models.ProcessingLogEntry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.UploadID, &e.Stage, &e.Status, &e.Message, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- documents ---

func (c *DatabaseClient) UpsertDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}
	const q = `
		INSERT INTO documents
			(id, slug, title, subtitle, welcome_message, owner_slug, access_level, passcode_hash, active, embedding_type, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, now(), now())
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			subtitle = EXCLUDED.subtitle,
			welcome_message = EXCLUDED.welcome_message,
			access_level = EXCLUDED.access_level,
			active = EXCLUDED.active,
			embedding_type = EXCLUDED.embedding_type,
			metadata = EXCLUDED.metadata,
			updated_at = now()
	`
	_, err = c.db.ExecContext(ctx, q,
		doc.ID, doc.Slug, doc.Title, doc.Subtitle, doc.WelcomeMessage, doc.OwnerSlug,
		doc.AccessLevel, doc.PasscodeHash, doc.Active, doc.EmbeddingType, meta)
	return err
}

func scanDocument(scan func(dest ...any) error) (*models.Document, error) {
	var (
		d     models.Document
		owner sql.NullString
		meta  []byte
	)
	if err := scan(
		&d.ID, &d.Slug, &d.Title, &d.Subtitle, &d.WelcomeMessage, &owner,
		&d.AccessLevel, &d.PasscodeHash, &d.Active, &d.EmbeddingType, &meta,
		&d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.OwnerSlug = owner.String
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &d.Metadata)
	}
	return &d, nil
}

const documentColumns = `id, slug, title, subtitle, welcome_message, owner_slug, access_level, passcode_hash, active, embedding_type, metadata, created_at, updated_at`

func (c *DatabaseClient) GetDocumentBySlug(ctx context.Context, slug string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE slug = $1`
	row := c.db.QueryRowContext(ctx, q, slug)
	doc, err := scanDocument(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *DatabaseClient) GetDocumentsBySlugs(ctx context.Context, slugs []string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE slug = ANY($1)`
	rows, err := c.db.QueryContext(ctx, q, slugs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) ListDocumentsByOwner(ctx context.Context, ownerSlug string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE owner_slug = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, ownerSlug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

// DeleteDocument removes the document row. Chunks must already be gone; the
// foreign key is RESTRICT so a violation here means the caller skipped the
// chunk delete.
func (c *DatabaseClient) DeleteDocument(ctx context.Context, slug string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE slug = $1`, slug)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", slug)
	}
	return nil
}

// --- owners ---

func (c *DatabaseClient) GetOwner(ctx context.Context, slug string) (*models.Owner, error) {
	const q = `
		SELECT slug, name, default_chunk_limit, forced_model, created_at
		FROM owners WHERE slug = $1
	`
	var o models.Owner
	err := c.db.QueryRowContext(ctx, q, slug).Scan(
		&o.Slug, &o.Name, &o.DefaultChunkLimit, &o.ForcedModel, &o.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *DatabaseClient) GetUserOwnerRole(ctx context.Context, userID, ownerSlug string) (string, error) {
	const q = `SELECT role FROM user_owners WHERE user_id = $1 AND owner_slug = $2`
	var role string
	err := c.db.QueryRowContext(ctx, q, userID, ownerSlug).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

// --- chunks ---

// InsertChunks inserts one batch of chunks in a single transaction. Callers
// batch at a higher level to respect payload-size constraints.
func (c *DatabaseClient) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO chunks (id, document_slug, chunk_index, content, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		meta, err := json.Marshal(ch.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		vec := pgvector.NewVector(ch.Embedding)
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.DocumentSlug, ch.ChunkIndex, ch.Content, vec, meta); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) DeleteChunksBySlug(ctx context.Context, slug string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_slug = $1`, slug)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanScoredChunk(scan func(dest ...any) error) (*models.ScoredChunk, error) {
	var (
		ch   models.ScoredChunk
		meta []byte
	)
	if err := scan(&ch.ID, &ch.DocumentSlug, &ch.ChunkIndex, &ch.Content, &meta, &ch.CreatedAt, &ch.Similarity); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &ch.Metadata)
	}
	return &ch, nil
}

// SearchChunksByVector returns the top-k chunks by cosine similarity across
// the given document slugs.
func (c *DatabaseClient) SearchChunksByVector(ctx context.Context, slugs []string, queryVec []float32, limit int) ([]models.ScoredChunk, error) {
	const q = `
		SELECT id, document_slug, chunk_index, content, metadata, created_at,
		       1 - (embedding <=> $2) AS similarity
		FROM chunks
		WHERE document_slug = ANY($1)
		ORDER BY embedding <=> $2
		LIMIT $3
	`
	vec := pgvector.NewVector(queryVec)
	rows, err := c.db.QueryContext(ctx, q, slugs, vec, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		ch, err := scanScoredChunk(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// SearchChunksByText runs Postgres full-text search over chunk content. The
// reported similarity is the ts_rank score, on a different scale from cosine
// similarity; the retriever normalizes before merging.
func (c *DatabaseClient) SearchChunksByText(ctx context.Context, slugs []string, query string, limit int) ([]models.ScoredChunk, error) {
	const q = `
		SELECT id, document_slug, chunk_index, content, metadata, created_at,
		       ts_rank(to_tsvector('english', content), plainto_tsquery('english', $2)) AS similarity
		FROM chunks
		WHERE document_slug = ANY($1)
		  AND to_tsvector('english', content) @@ plainto_tsquery('english', $2)
		ORDER BY similarity DESC
		LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, q, slugs, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		ch, err := scanScoredChunk(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// --- conversations ---

func (c *DatabaseClient) InsertConversation(ctx context.Context, conv *models.ChatConversation) error {
	if conv == nil {
		return errors.New("nil conversation")
	}
	meta, err := json.Marshal(conv.Metadata)
	if err != nil {
		return fmt.Errorf("marshal conversation metadata: %w", err)
	}
	const q = `
		INSERT INTO chat_conversations
			(id, session_id, question, response, model, response_time_ms, chunks_used, document_slugs,
			 user_id, ip_address, country, banned, ban_reason, share_token, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), $12, $13, NULLIF($14, ''), $15, now())
	`
	_, err = c.db.ExecContext(ctx, q,
		conv.ID, conv.SessionID, conv.Question, conv.Response, conv.Model, conv.ResponseTimeMs,
		conv.ChunksUsed, conv.DocumentSlugs, conv.UserID, conv.IPAddress, conv.Country,
		conv.Banned, conv.BanReason, conv.ShareToken, meta)
	return err
}

func (c *DatabaseClient) CountConversationsBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_conversations WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}
