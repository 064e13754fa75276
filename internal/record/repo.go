package record

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

const recordColumns = `record_id, session_id, student_id, status, attended_at, created_at, updated_at`

// Repository persists attendance records in Postgres. The unique
// (session_id, student_id) constraint is the race backstop for
// concurrent first writes.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Status,
		&rec.AttendedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get returns the record for a (session, student) pair, or nil.
func (r *Repository) Get(ctx context.Context, sessionID, studentID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// InsertIfAbsent writes the first value for a pair, or loses cleanly to
// a concurrent writer. Insert-and-on-conflict, never check-then-insert:
// when the insert conflicts the existing row is returned with
// inserted=false.
func (r *Repository) InsertIfAbsent(ctx context.Context, sessionID, studentID string, status Status, attendedAt time.Time) (*Record, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (record_id, session_id, student_id, status, attended_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, student_id) DO NOTHING
		RETURNING `+recordColumns+`
	`, uuid.NewString(), sessionID, studentID, status, attendedAt)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		existing, err := r.Get(ctx, sessionID, studentID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Upsert creates or replaces the record for a pair. Faculty marking and
// overrides are the only sanctioned overwrite paths.
func (r *Repository) Upsert(ctx context.Context, sessionID, studentID string, status Status, attendedAt time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (record_id, session_id, student_id, status, attended_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, student_id) DO UPDATE SET
			status = EXCLUDED.status,
			attended_at = EXCLUDED.attended_at,
			updated_at = NOW()
		RETURNING `+recordColumns+`
	`, uuid.NewString(), sessionID, studentID, status, attendedAt)
	return scanRecord(row)
}

// ListBySession returns all records of a session.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = $1
		ORDER BY attended_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
