package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"presence/internal/record"
	"presence/internal/roster"
)

const dateLayout = "2006-01-02"

// Entry is one attendance outcome joined with its session date.
type Entry struct {
	Date       time.Time
	Status     record.Status
	AttendedAt time.Time
}

// Summary is the student-facing calendar view over a date range.
type Summary struct {
	AttendedDays     []string `json:"attended_days"`
	MissedDays       []string `json:"missed_days"`
	LateDays         []string `json:"late_days"`
	TotalSessions    int      `json:"total_sessions"`
	AttendedSessions int      `json:"attended_sessions"`
	MissedSessions   int      `json:"missed_sessions"`
	LateSessions     int      `json:"late_sessions"`
	Percentage       int      `json:"attendance_percentage"`
}

// Summarize folds range entries into the calendar summary. Present and
// late both count toward the attendance percentage.
func Summarize(entries []Entry) Summary {
	s := Summary{
		AttendedDays: []string{},
		MissedDays:   []string{},
		LateDays:     []string{},
	}
	for _, e := range entries {
		day := e.Date.Format(dateLayout)
		switch e.Status {
		case record.StatusPresent:
			s.AttendedDays = append(s.AttendedDays, day)
			s.AttendedSessions++
		case record.StatusAbsent:
			s.MissedDays = append(s.MissedDays, day)
			s.MissedSessions++
		case record.StatusLate:
			s.LateDays = append(s.LateDays, day)
			s.LateSessions++
		}
		s.TotalSessions++
	}
	if s.TotalSessions > 0 {
		attended := float64(s.AttendedSessions + s.LateSessions)
		s.Percentage = int(attended/float64(s.TotalSessions)*100 + 0.5)
	}
	return s
}

// CalendarMap renders entries as a date→status map for faculty views.
func CalendarMap(entries []Entry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Date.Format(dateLayout)] = string(e.Status)
	}
	return out
}

// RangeReader reads a student's records over a date range.
type RangeReader interface {
	StudentRange(ctx context.Context, studentID, subjectID string, from, to time.Time) ([]Entry, error)
}

// Repository reads report data from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// StudentRange returns a student's attendance entries for a subject
// between from and to inclusive, oldest first.
func (r *Repository) StudentRange(ctx context.Context, studentID, subjectID string, from, to time.Time) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.session_date, ar.status, ar.attended_at
		FROM attendance_records ar
		JOIN attendance_sessions s ON s.session_id = ar.session_id
		WHERE ar.student_id = $1 AND s.subject_id = $2
		  AND s.session_date BETWEEN $3 AND $4
		ORDER BY s.session_date, s.start_time
	`, studentID, subjectID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Date, &e.Status, &e.AttendedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Service authorizes and serves the report views.
type Service struct {
	reader RangeReader
	oracle roster.Oracle
}

// NewService creates the report service.
func NewService(reader RangeReader, oracle roster.Oracle) *Service {
	return &Service{reader: reader, oracle: oracle}
}

// StudentSummary returns the calling student's own calendar summary.
func (s *Service) StudentSummary(ctx context.Context, studentID, subjectID string, from, to time.Time) (Summary, error) {
	enrolled, err := s.oracle.IsEnrolled(ctx, studentID, subjectID)
	if err != nil {
		return Summary{}, fmt.Errorf("enrollment check: %w", err)
	}
	if !enrolled {
		return Summary{}, roster.ErrNotEnrolled
	}
	entries, err := s.reader.StudentRange(ctx, studentID, subjectID, from, to)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(entries), nil
}

// FacultyCalendar returns a date→status map for a student in a subject
// the faculty is assigned to.
func (s *Service) FacultyCalendar(ctx context.Context, facultyID, studentID, subjectID string, from, to time.Time) (map[string]string, error) {
	assigned, err := s.oracle.IsAssigned(ctx, facultyID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("assignment check: %w", err)
	}
	if !assigned {
		return nil, roster.ErrNotAssigned
	}
	enrolled, err := s.oracle.IsEnrolled(ctx, studentID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("enrollment check: %w", err)
	}
	if !enrolled {
		return nil, roster.ErrNotEnrolled
	}
	entries, err := s.reader.StudentRange(ctx, studentID, subjectID, from, to)
	if err != nil {
		return nil, err
	}
	return CalendarMap(entries), nil
}
