package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docqa/docqa/internal/api/middlewares"
	"github.com/docqa/docqa/internal/core"
	"github.com/docqa/docqa/internal/ingest"
	"github.com/docqa/docqa/internal/models"
)

const (
	maxUploadBytes  = 50 << 20
	maxInlineChars  = 1 << 20
	uploadKeyPrefix = "uploads/"
)

// DocumentHandler serves upload, lifecycle, and listing endpoints.
type DocumentHandler struct {
	db       core.DbClient
	obj      core.ObjectClient
	pipeline *ingest.Pipeline
	bucket   string
	logger   *slog.Logger
}

func NewDocumentHandler(db core.DbClient, obj core.ObjectClient, pipeline *ingest.Pipeline, bucket string) *DocumentHandler {
	return &DocumentHandler{db: db, obj: obj, pipeline: pipeline, bucket: bucket, logger: slog.Default()}
}

type uploadResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Title  string `json:"title"`
}

type textUploadRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Upload handles POST /api/documents. Two modes share the endpoint: multipart
// form uploads carrying a file, and JSON bodies carrying inline text. Both
// create an upload row in pending and enqueue it; processing is asynchronous.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID := middlewares.UserID(r.Context())

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		h.uploadText(w, r, userID)
		return
	}
	h.uploadFile(w, r, userID)
}

func (h *DocumentHandler) uploadFile(w http.ResponseWriter, r *http.Request, userID string) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpError(w, http.StatusBadRequest, "validation_error", "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "validation_error", "file field is required")
		return
	}
	defer file.Close()

	if header.Size > maxUploadBytes {
		httpError(w, http.StatusRequestEntityTooLarge, "validation_error", "file too large")
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	uploadID := uuid.NewString()
	key := uploadKeyPrefix + uploadID + filepath.Ext(header.Filename)
	if _, err := h.obj.UploadFile(r.Context(), h.bucket, key, file, contentType); err != nil {
		h.logger.Error("upload to object store failed", "upload_id", uploadID, "error", err)
		httpError(w, http.StatusInternalServerError, "server_error", "storing file failed")
		return
	}

	up := &models.UploadedDocument{
		ID:               uploadID,
		UserID:           userID,
		FilePath:         key,
		Title:            title,
		FileSize:         header.Size,
		ContentType:      contentType,
		Status:           models.StatusPending,
		ProcessingMethod: "file",
	}
	h.finishUpload(w, r, up)
}

func (h *DocumentHandler) uploadText(w http.ResponseWriter, r *http.Request, userID string) {
	var req textUploadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxInlineChars+4096)).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Text) == "" {
		httpError(w, http.StatusBadRequest, "validation_error", "title and text are required")
		return
	}
	if len(req.Text) > maxInlineChars {
		httpError(w, http.StatusRequestEntityTooLarge, "validation_error", "text too large")
		return
	}

	// Inline text still lands in object storage so reprocessing never depends
	// on the original request surviving.
	uploadID := uuid.NewString()
	key := uploadKeyPrefix + uploadID + ".txt"
	if _, err := h.obj.UploadFile(r.Context(), h.bucket, key, strings.NewReader(req.Text), "text/plain"); err != nil {
		h.logger.Error("upload to object store failed", "upload_id", uploadID, "error", err)
		httpError(w, http.StatusInternalServerError, "server_error", "storing text failed")
		return
	}

	up := &models.UploadedDocument{
		ID:               uploadID,
		UserID:           userID,
		FilePath:         models.TextUploadPrefix + key,
		Title:            req.Title,
		FileSize:         int64(len(req.Text)),
		ContentType:      "text/plain",
		Status:           models.StatusPending,
		ProcessingMethod: "text",
	}
	h.finishUpload(w, r, up)
}

func (h *DocumentHandler) finishUpload(w http.ResponseWriter, r *http.Request, up *models.UploadedDocument) {
	if err := h.db.CreateUpload(r.Context(), up); err != nil {
		h.logger.Error("creating upload row failed", "upload_id", up.ID, "error", err)
		httpError(w, http.StatusInternalServerError, "server_error", "creating upload failed")
		return
	}
	h.pipeline.Enqueue(up.ID)
	writeJSON(w, http.StatusAccepted, uploadResponse{ID: up.ID, Status: up.Status, Title: up.Title})
}

// Status handles GET /api/documents/{id}/status.
func (h *DocumentHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	up, err := h.db.GetUpload(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "server_error", "loading upload failed")
		return
	}
	if up == nil {
		httpError(w, http.StatusNotFound, "not_found", "upload not found")
		return
	}
	writeJSON(w, http.StatusOK, up)
}

// Logs handles GET /api/documents/{id}/logs, the processing audit trail.
func (h *DocumentHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logs, err := h.db.ListProcessingLogs(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "server_error", "loading logs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"upload_id": id, "logs": logs})
}

// Retrain handles POST /api/documents/{id}/retrain: re-enqueue a terminal
// upload for a fresh ingestion cycle.
func (h *DocumentHandler) Retrain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	up, err := h.db.GetUpload(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "server_error", "loading upload failed")
		return
	}
	if up == nil {
		httpError(w, http.StatusNotFound, "not_found", "upload not found")
		return
	}
	if up.Status == models.StatusProcessing {
		httpError(w, http.StatusConflict, "validation_error", "upload is already processing")
		return
	}
	if err := h.db.UpdateUploadStatus(r.Context(), id, models.StatusPending, ""); err != nil {
		httpError(w, http.StatusInternalServerError, "server_error", "updating status failed")
		return
	}
	h.pipeline.Enqueue(id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": models.StatusPending})
}

// Delete handles DELETE /api/documents/{slug}. Chunks go first because of the
// foreign key, then the document row, then the stored source file.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	doc, err := h.db.GetDocumentBySlug(r.Context(), slug)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "server_error", "loading document failed")
		return
	}
	if doc == nil {
		httpError(w, http.StatusNotFound, "not_found", "document not found")
		return
	}

	deleted, err := h.db.DeleteChunksBySlug(r.Context(), slug)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "server_error", "deleting chunks failed")
		return
	}
	if err := h.db.DeleteDocument(r.Context(), slug); err != nil {
		httpError(w, http.StatusInternalServerError, "server_error", "deleting document failed")
		return
	}

	if doc.Metadata.UploadedDocID != "" {
		if up, err := h.db.GetUpload(r.Context(), doc.Metadata.UploadedDocID); err == nil && up != nil {
			key := strings.TrimPrefix(up.FilePath, models.TextUploadPrefix)
			if err := h.obj.DeleteFile(r.Context(), h.bucket, key); err != nil {
				// The queryable state is already gone; an orphaned object is a
				// cleanup problem, not a request failure.
				h.logger.Warn("deleting stored file failed", "slug", slug, "key", key, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"slug": slug, "chunks_deleted": deleted})
}

// Get handles GET /api/documents/{slug}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	doc, err := h.db.GetDocumentBySlug(r.Context(), slug)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "server_error", "loading document failed")
		return
	}
	if doc == nil || !doc.Active {
		httpError(w, http.StatusNotFound, "not_found", "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// List handles GET /api/documents?owner={slug}.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerSlug := r.URL.Query().Get("owner")
	docs, err := h.db.ListDocumentsByOwner(r.Context(), ownerSlug)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "server_error", "listing documents failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

// ListUploads handles GET /api/uploads for the authenticated user.
func (h *DocumentHandler) ListUploads(w http.ResponseWriter, r *http.Request) {
	userID := middlewares.UserID(r.Context())
	ups, err := h.db.ListUploadsByUser(r.Context(), userID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "server_error", "listing uploads failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": ups, "count": len(ups)})
}

// Stuck handles GET /api/admin/stuck: uploads sitting in processing past the
// staleness threshold, for operator intervention.
func (h *DocumentHandler) Stuck(w http.ResponseWriter, r *http.Request) {
	threshold := ingest.DefaultStuckThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			httpError(w, http.StatusBadRequest, "validation_error", fmt.Sprintf("invalid threshold %q", raw))
			return
		}
		threshold = d
	}
	stuck, err := h.pipeline.Tracker().Stuck(r.Context(), threshold, time.Now())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "server_error", "loading stuck uploads failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"threshold": threshold.String(),
		"stuck":     stuck,
		"count":     len(stuck),
	})
}
