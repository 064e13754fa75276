package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const sessionColumns = `session_id, subject_id, faculty_id, subject_code, session_date,
	start_time, end_time, status, attendance_weight, code, code_sequence, code_expires_at,
	created_at, updated_at`

// Repository persists attendance sessions in Postgres. All state-changing
// statements are scoped by the expected current status so racing requests
// cannot resurrect a closed or submitted session.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var (
		s       Session
		endTime sql.NullTime
		weight  sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.SubjectID, &s.FacultyID, &s.SubjectCode, &s.Date,
		&s.StartTime, &endTime, &s.Status, &weight, &s.Code, &s.CodeSequence,
		&s.CodeExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		t := endTime.Time
		s.EndTime = &t
	}
	if weight.Valid {
		w := int(weight.Int64)
		s.Weight = &w
	}
	return &s, nil
}

// Create inserts a new open session with its seeded code.
func (r *Repository) Create(ctx context.Context, s *Session) error {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_sessions
			(session_id, subject_id, faculty_id, subject_code, session_date,
			 start_time, status, code, code_sequence, code_expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,'open',$7,0,$8)
		RETURNING created_at, updated_at
	`, s.ID, s.SubjectID, s.FacultyID, s.SubjectCode, s.Date, s.StartTime, s.Code, s.CodeExpiresAt)
	return row.Scan(&s.CreatedAt, &s.UpdatedAt)
}

// Get returns a session by id, or nil when absent.
func (r *Repository) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM attendance_sessions WHERE session_id = $1
	`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// SwapCode installs a new current code via compare-and-swap on the stored
// sequence. Returns nil when the session is not open anymore or another
// rotation won the race.
func (r *Repository) SwapCode(ctx context.Context, id string, expectSeq int, code string, expiresAt time.Time) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_sessions
		SET code = $3, code_sequence = $4, code_expires_at = $5, updated_at = NOW()
		WHERE session_id = $1 AND status = 'open' AND code_sequence = $2
		RETURNING `+sessionColumns+`
	`, id, expectSeq, code, expectSeq+1, expiresAt)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// Close marks an open session closed and records the end time. Returns
// nil when the session is absent or not open.
func (r *Repository) Close(ctx context.Context, id string, endTime time.Time) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_sessions
		SET status = 'closed', end_time = $2, updated_at = NOW()
		WHERE session_id = $1 AND status = 'open'
		RETURNING `+sessionColumns+`
	`, id, endTime)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// Submit finalizes an open session with its attendance weight. Returns
// nil when the session is absent or not open.
func (r *Repository) Submit(ctx context.Context, id string, weight int) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_sessions
		SET status = 'submitted', attendance_weight = $2, updated_at = NOW()
		WHERE session_id = $1 AND status = 'open'
		RETURNING `+sessionColumns+`
	`, id, weight)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// FindByCurrentCode resolves a scanned code to its session. Openness and
// code expiry are part of the query so validity is decided in one
// consistent read, never check-then-check.
func (r *Repository) FindByCurrentCode(ctx context.Context, code string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE code = $1 AND status = 'open' AND code_expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`, code)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// FindLatestBySubjectDate returns the most recent session for a
// (subject, date) pair, or nil. Used by the override path.
func (r *Repository) FindLatestBySubjectDate(ctx context.Context, subjectID string, date time.Time) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE subject_id = $1 AND session_date = $2
		ORDER BY start_time DESC
		LIMIT 1
	`, subjectID, date)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ListByFaculty returns a faculty member's sessions, newest first, with
// per-status record counts.
func (r *Repository) ListByFaculty(ctx context.Context, facultyID string) ([]Overview, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.session_id, s.subject_id, s.faculty_id, s.subject_code, s.session_date,
			s.start_time, s.end_time, s.status, s.attendance_weight, s.code, s.code_sequence,
			s.code_expires_at, s.created_at, s.updated_at,
			COUNT(CASE WHEN ar.status = 'present' THEN 1 END),
			COUNT(CASE WHEN ar.status = 'late' THEN 1 END),
			COUNT(CASE WHEN ar.status = 'absent' THEN 1 END)
		FROM attendance_sessions s
		LEFT JOIN attendance_records ar ON ar.session_id = s.session_id
		WHERE s.faculty_id = $1
		GROUP BY s.session_id
		ORDER BY s.session_date DESC, s.start_time DESC
	`, facultyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Overview
	for rows.Next() {
		var (
			o       Overview
			endTime sql.NullTime
			weight  sql.NullInt64
		)
		if err := rows.Scan(&o.ID, &o.SubjectID, &o.FacultyID, &o.SubjectCode, &o.Date,
			&o.StartTime, &endTime, &o.Status, &weight, &o.Code, &o.CodeSequence,
			&o.CodeExpiresAt, &o.CreatedAt, &o.UpdatedAt,
			&o.PresentCount, &o.LateCount, &o.AbsentCount); err != nil {
			return nil, err
		}
		if endTime.Valid {
			t := endTime.Time
			o.EndTime = &t
		}
		if weight.Valid {
			w := int(weight.Int64)
			o.Weight = &w
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
