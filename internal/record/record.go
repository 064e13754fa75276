package record

import (
	"errors"
	"time"
)

// Status of one attendance record.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
)

// ValidStatus reports whether s is one of the three marking statuses.
func ValidStatus(s Status) bool {
	return s == StatusPresent || s == StatusAbsent || s == StatusLate
}

// Record is one attendance outcome per (session, student). The pair is
// unique; the redemption path never overwrites an existing row.
type Record struct {
	ID         string    `json:"record_id"`
	SessionID  string    `json:"session_id"`
	StudentID  string    `json:"student_id"`
	Status     Status    `json:"status"`
	AttendedAt time.Time `json:"attended_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

var (
	ErrPresenceFailed = errors.New("presence verification failed")
	ErrInvalidStatus  = errors.New("status must be present, absent or late")
)
