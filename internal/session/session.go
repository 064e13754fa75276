package session

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an attendance session. open accepts
// rotations and scans; closed and submitted are both terminal for the
// code protocol.
type Status string

const (
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
	StatusSubmitted Status = "submitted"
)

// Session is one attendance-taking event for a (subject, faculty, date).
// While open, exactly one (code, sequence, expiry) triple is current.
type Session struct {
	ID            string     `json:"session_id"`
	SubjectID     string     `json:"subject_id"`
	FacultyID     string     `json:"faculty_id"`
	SubjectCode   string     `json:"subject_code"`
	Date          time.Time  `json:"session_date"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Status        Status     `json:"status"`
	Weight        *int       `json:"attendance_weight,omitempty"`
	Code          string     `json:"code"`
	CodeSequence  int        `json:"code_sequence"`
	CodeExpiresAt time.Time  `json:"code_expires_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Overview is a session row augmented with per-status record counts for
// faculty listings.
type Overview struct {
	Session
	PresentCount int `json:"present_count"`
	LateCount    int `json:"late_count"`
	AbsentCount  int `json:"absent_count"`
}

var (
	ErrNotFound         = errors.New("session not found")
	ErrNotOpen          = errors.New("session is not open")
	ErrNotOwner         = errors.New("not the owning faculty of this session")
	ErrWeightOutOfRange = errors.New("attendance weight must be between 1 and 4")
	ErrRotationConflict = errors.New("concurrent code rotation, retry")
	ErrSubjectUnknown   = errors.New("subject code not found")
)
