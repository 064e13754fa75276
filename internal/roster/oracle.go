package roster

import (
	"context"
	"database/sql"
	"errors"
)

// Oracle answers enrollment and assignment questions for the protocol.
// Department/subject/enrollment administration is an external concern;
// the core only ever asks these three questions.
type Oracle interface {
	IsEnrolled(ctx context.Context, studentID, subjectID string) (bool, error)
	IsAssigned(ctx context.Context, facultyID, subjectID string) (bool, error)
	SubjectCode(ctx context.Context, subjectID string) (string, error)
}

var (
	ErrNotEnrolled = errors.New("student not enrolled in this subject")
	ErrNotAssigned = errors.New("faculty not assigned to this subject")
)

// PG answers oracle queries from the shared Postgres schema.
type PG struct {
	db *sql.DB
}

// NewPG creates a Postgres-backed oracle.
func NewPG(db *sql.DB) *PG {
	return &PG{db: db}
}

func (o *PG) IsEnrolled(ctx context.Context, studentID, subjectID string) (bool, error) {
	var exists bool
	err := o.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM enrollments WHERE student_id = $1 AND subject_id = $2
		)
	`, studentID, subjectID).Scan(&exists)
	return exists, err
}

func (o *PG) IsAssigned(ctx context.Context, facultyID, subjectID string) (bool, error) {
	var exists bool
	err := o.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM subject_assignments WHERE faculty_id = $1 AND subject_id = $2
		)
	`, facultyID, subjectID).Scan(&exists)
	return exists, err
}

// SubjectCode returns the short code used in rotating codes, or "" when
// the subject does not exist.
func (o *PG) SubjectCode(ctx context.Context, subjectID string) (string, error) {
	var code string
	err := o.db.QueryRowContext(ctx, `
		SELECT subject_code FROM subjects WHERE subject_id = $1
	`, subjectID).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return code, err
}
