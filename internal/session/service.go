package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"presence/internal/audit"
	"presence/internal/metrics"
	"presence/internal/roster"
)

// Repo is the persistence surface the service needs. *Repository
// implements it; tests substitute an in-memory fake.
type Repo interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	SwapCode(ctx context.Context, id string, expectSeq int, code string, expiresAt time.Time) (*Session, error)
	Close(ctx context.Context, id string, endTime time.Time) (*Session, error)
	Submit(ctx context.Context, id string, weight int) (*Session, error)
	FindByCurrentCode(ctx context.Context, code string) (*Session, error)
	FindLatestBySubjectDate(ctx context.Context, subjectID string, date time.Time) (*Session, error)
	ListByFaculty(ctx context.Context, facultyID string) ([]Overview, error)
}

// Service owns the session state machine: create, rotate, close, submit.
// Every state change is authorized against the session's stored faculty id.
type Service struct {
	repo    Repo
	oracle  roster.Oracle
	queue   audit.Queue
	codeTTL time.Duration
	now     func() time.Time
}

// NewService creates a service. codeTTL is the rotating-code validity
// window; it must stay short enough that forwarding a screenshot is
// impractical.
func NewService(repo Repo, oracle roster.Oracle, queue audit.Queue, codeTTL time.Duration) *Service {
	if codeTTL <= 0 {
		codeTTL = 5 * time.Second
	}
	return &Service{
		repo:    repo,
		oracle:  oracle,
		queue:   queue,
		codeTTL: codeTTL,
		now:     time.Now,
	}
}

func (s *Service) publish(ctx context.Context, evt audit.Event) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Publish(ctx, evt); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}

// Start opens a new session for a subject the faculty is assigned to and
// seeds code #0 with a short expiry.
func (s *Service) Start(ctx context.Context, facultyID, subjectID string) (*Session, error) {
	assigned, err := s.oracle.IsAssigned(ctx, facultyID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("assignment check: %w", err)
	}
	if !assigned {
		return nil, roster.ErrNotAssigned
	}

	subjectCode, err := s.oracle.SubjectCode(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("subject code lookup: %w", err)
	}
	if subjectCode == "" {
		return nil, ErrSubjectUnknown
	}

	now := s.now().UTC()
	date := now.Truncate(24 * time.Hour)
	sess := &Session{
		ID:            uuid.NewString(),
		SubjectID:     subjectID,
		FacultyID:     facultyID,
		SubjectCode:   subjectCode,
		Date:          date,
		StartTime:     now,
		Status:        StatusOpen,
		Code:          InitialCode(subjectCode, date),
		CodeSequence:  0,
		CodeExpiresAt: now.Add(s.codeTTL),
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionsStarted.Inc()
	s.publish(ctx, audit.Event{
		Kind:       audit.KindSessionStarted,
		SessionID:  sess.ID,
		Detail:     sess.Code,
		OccurredAt: now,
	})
	return sess, nil
}

// Rotate advances the session to its next code. Only the owning faculty
// may rotate and only while the session is open. The swap is a
// compare-and-swap on the stored sequence, so two concurrent rotations
// produce exactly one new current triple.
func (s *Service) Rotate(ctx context.Context, facultyID, sessionID string) (*Session, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	if sess.FacultyID != facultyID {
		return nil, ErrNotOwner
	}
	if sess.Status != StatusOpen {
		return nil, ErrNotOpen
	}

	now := s.now().UTC()
	code := RotatedCode(sess.SubjectCode, sess.Date, sess.CodeSequence+1, now)
	updated, err := s.repo.SwapCode(ctx, sessionID, sess.CodeSequence, code, now.Add(s.codeTTL))
	if err != nil {
		return nil, fmt.Errorf("swap code: %w", err)
	}
	if updated == nil {
		// Lost the conditional update: either a concurrent close/submit
		// or a concurrent rotation bumped the sequence first.
		current, err := s.repo.Get(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if current == nil {
			return nil, ErrNotFound
		}
		if current.Status != StatusOpen {
			return nil, ErrNotOpen
		}
		return nil, ErrRotationConflict
	}

	metrics.CodeRotations.Inc()
	s.publish(ctx, audit.Event{
		Kind:       audit.KindCodeRotated,
		SessionID:  sessionID,
		Detail:     fmt.Sprintf("seq=%d", updated.CodeSequence),
		OccurredAt: now,
	})
	return updated, nil
}

// Close ends an open session. Further rotations and scans are rejected.
func (s *Service) Close(ctx context.Context, facultyID, sessionID string) (*Session, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	if sess.FacultyID != facultyID {
		return nil, ErrNotOwner
	}

	updated, err := s.repo.Close(ctx, sessionID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}
	if updated == nil {
		return nil, ErrNotOpen
	}
	return updated, nil
}

// Submit finalizes an open session with an attendance weight in [1,4].
// submitted is terminal exactly like closed: lookups by code require an
// open status, so a submitted session accepts no further scans.
func (s *Service) Submit(ctx context.Context, facultyID, sessionID string, weight int) (*Session, error) {
	if weight < 1 || weight > 4 {
		return nil, ErrWeightOutOfRange
	}

	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	if sess.FacultyID != facultyID {
		return nil, ErrNotOwner
	}

	updated, err := s.repo.Submit(ctx, sessionID, weight)
	if err != nil {
		return nil, fmt.Errorf("submit session: %w", err)
	}
	if updated == nil {
		return nil, ErrNotOpen
	}
	return updated, nil
}

// ListForFaculty returns the faculty member's sessions with counts.
func (s *Service) ListForFaculty(ctx context.Context, facultyID string) ([]Overview, error) {
	return s.repo.ListByFaculty(ctx, facultyID)
}
