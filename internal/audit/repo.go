package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Repository persists consumed audit events for later inspection.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertEvent writes one audit row. Empty session/student ids are stored
// as NULLs so the uuid columns stay clean.
func (r *Repository) InsertEvent(ctx context.Context, evt Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_id, kind, session_id, student_id, detail, occurred_at)
		VALUES ($1, $2, NULLIF($3, '')::uuid, NULLIF($4, '')::uuid, $5, $6)
	`, uuid.NewString(), evt.Kind, evt.SessionID, evt.StudentID, evt.Detail, evt.OccurredAt)
	return err
}
