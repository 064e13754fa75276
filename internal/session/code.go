package session

import (
	"fmt"
	"time"
)

// Codes look like DE101-0512-00. The initial code carries only the
// subject code, month-day and zero-padded sequence; rotated codes append
// the issuance epoch in milliseconds so a code can never repeat across
// sessions or days even if sequences collide.

// InitialCode formats the sequence-0 code seeded at session start.
func InitialCode(subjectCode string, date time.Time) string {
	return fmt.Sprintf("%s-%s-%02d", subjectCode, date.Format("0102"), 0)
}

// RotatedCode formats the code for a rotation to the given sequence.
func RotatedCode(subjectCode string, date time.Time, sequence int, issuedAt time.Time) string {
	return fmt.Sprintf("%s-%s-%02d-%d", subjectCode, date.Format("0102"), sequence, issuedAt.UnixMilli())
}

// CodeValid reports whether the session's current code may validate a
// scan at the given instant: the session must be open and the code
// unexpired. Callers must also compare the scanned string against
// s.Code; the SQL lookup path checks all three in a single query.
func (s *Session) CodeValid(now time.Time) bool {
	return s.Status == StatusOpen && now.Before(s.CodeExpiresAt)
}
