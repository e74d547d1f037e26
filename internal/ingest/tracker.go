package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docqa/docqa/internal/core"
	"github.com/docqa/docqa/internal/models"
)

// DefaultStuckThreshold classifies a processing upload as possibly stuck when
// its last update is older than this.
const DefaultStuckThreshold = 5 * time.Minute

// StatusTracker maintains the per-upload state machine
// (pending -> processing -> ready|error) and the append-only, stage-tagged
// log trail. Every status write touches updated_at, since staleness is the
// sole stuck-detection signal.
type StatusTracker struct {
	db     core.DbClient
	logger *slog.Logger
}

func NewStatusTracker(db core.DbClient) *StatusTracker {
	return &StatusTracker{db: db, logger: slog.Default()}
}

// SetStatus writes a coarse status transition. Idempotent under retry: the
// same status can be written again, only updated_at moves.
func (t *StatusTracker) SetStatus(ctx context.Context, uploadID, status, errMsg string) error {
	return t.db.UpdateUploadStatus(ctx, uploadID, status, errMsg)
}

// Log appends a ProcessingLogEntry. The log trail is observability, not
// control flow: a failed append is reported to server logs and otherwise
// ignored so it cannot take down a pipeline run.
func (t *StatusTracker) Log(ctx context.Context, uploadID, stage, status, message string, meta map[string]any) {
	entry := &models.ProcessingLogEntry{
		ID:       uuid.NewString(),
		UploadID: uploadID,
		Stage:    stage,
		Status:   status,
		Message:  message,
		Metadata: meta,
	}
	if err := t.db.AppendProcessingLog(ctx, entry); err != nil {
		t.logger.Error("processing log append failed",
			"upload_id", uploadID, "stage", stage, "status", status, "error", err)
		return
	}
	t.logger.Info("ingestion stage", "upload_id", uploadID, "stage", stage, "status", status, "message", message)
}

// Stuck returns uploads still marked processing whose last update is older
// than the threshold. Read-only: classification is exposed to operators, no
// corrective action is taken.
func (t *StatusTracker) Stuck(ctx context.Context, threshold time.Duration, now time.Time) ([]models.UploadedDocument, error) {
	if threshold <= 0 {
		threshold = DefaultStuckThreshold
	}
	return t.db.StuckUploads(ctx, now.Add(-threshold))
}
