package record

import (
	"context"
	"fmt"
	"log"
	"time"

	"presence/internal/audit"
	"presence/internal/metrics"
	"presence/internal/roster"
	"presence/internal/session"
	"presence/internal/token"
)

// Repo is the persistence surface the service needs.
type Repo interface {
	Get(ctx context.Context, sessionID, studentID string) (*Record, error)
	InsertIfAbsent(ctx context.Context, sessionID, studentID string, status Status, attendedAt time.Time) (*Record, bool, error)
	Upsert(ctx context.Context, sessionID, studentID string, status Status, attendedAt time.Time) (*Record, error)
	ListBySession(ctx context.Context, sessionID string) ([]Record, error)
}

// SessionStore is the slice of the session repository the recorder uses.
type SessionStore interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	FindLatestBySubjectDate(ctx context.Context, subjectID string, date time.Time) (*session.Session, error)
}

// Verifier checks a verification token. *token.Issuer implements it.
type Verifier interface {
	Verify(raw string) (token.Claims, error)
}

// RedeemResult is the outcome of a redemption: the persisted record,
// and whether it predates this attempt.
type RedeemResult struct {
	Record        *Record
	AlreadyMarked bool
}

// Service records attendance outcomes: single-use token redemption,
// faculty manual marking, and overrides.
type Service struct {
	repo     Repo
	sessions SessionStore
	verifier Verifier
	ledger   token.Ledger
	oracle   roster.Oracle
	queue    audit.Queue
	now      func() time.Time
}

// NewService creates the recorder service.
func NewService(repo Repo, sessions SessionStore, verifier Verifier, ledger token.Ledger, oracle roster.Oracle, queue audit.Queue) *Service {
	return &Service{
		repo:     repo,
		sessions: sessions,
		verifier: verifier,
		ledger:   ledger,
		oracle:   oracle,
		queue:    queue,
		now:      time.Now,
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

// Redeem converts a verification token plus a presence assertion into at
// most one attendance record. The ledger transition happens before the
// presence check on purpose: a failed assertion still burns the token,
// closing the retry window. Retries after the transition always land in
// the already-used or already-marked branches.
func (s *Service) Redeem(ctx context.Context, studentID, rawToken string, presenceVerified bool) (RedeemResult, error) {
	claims, err := s.verifier.Verify(rawToken)
	if err != nil {
		metrics.Redemptions.WithLabelValues("invalid_token").Inc()
		return RedeemResult{}, err
	}
	if claims.StudentID != studentID {
		metrics.Redemptions.WithLabelValues("student_mismatch").Inc()
		return RedeemResult{}, token.ErrMismatch
	}

	outcome, err := s.ledger.Consume(ctx, claims.ID)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("consume token: %w", err)
	}
	switch outcome {
	case token.Missing:
		metrics.Redemptions.WithLabelValues("expired").Inc()
		return RedeemResult{}, token.ErrExpired
	case token.AlreadyUsed:
		metrics.Redemptions.WithLabelValues("already_used").Inc()
		return RedeemResult{}, token.ErrUsed
	}

	if !presenceVerified {
		metrics.Redemptions.WithLabelValues("presence_failed").Inc()
		return RedeemResult{}, ErrPresenceFailed
	}

	if existing, err := s.repo.Get(ctx, claims.SessionID, studentID); err != nil {
		return RedeemResult{}, fmt.Errorf("load record: %w", err)
	} else if existing != nil {
		metrics.Redemptions.WithLabelValues("already_marked").Inc()
		return RedeemResult{Record: existing, AlreadyMarked: true}, nil
	}

	now := s.now().UTC()
	rec, inserted, err := s.repo.InsertIfAbsent(ctx, claims.SessionID, studentID, StatusPresent, now)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("insert record: %w", err)
	}
	if !inserted {
		// Lost the insert race; the first value stands.
		metrics.Redemptions.WithLabelValues("already_marked").Inc()
		return RedeemResult{Record: rec, AlreadyMarked: true}, nil
	}

	metrics.Redemptions.WithLabelValues("marked").Inc()
	s.publish(ctx, audit.Event{
		Kind:       audit.KindAttendance,
		SessionID:  claims.SessionID,
		StudentID:  studentID,
		Detail:     "jti=" + claims.ID,
		OccurredAt: now,
	})
	return RedeemResult{Record: rec}, nil
}

// ManualMark lets faculty set any status for an enrolled student in a
// session of a subject they are assigned to. Upsert semantics; bypasses
// the token protocol entirely.
func (s *Service) ManualMark(ctx context.Context, facultyID, sessionID, studentID string, status Status) (*Record, error) {
	if !ValidStatus(status) {
		return nil, ErrInvalidStatus
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, session.ErrNotFound
	}

	assigned, err := s.oracle.IsAssigned(ctx, facultyID, sess.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("assignment check: %w", err)
	}
	if !assigned {
		return nil, roster.ErrNotAssigned
	}
	enrolled, err := s.oracle.IsEnrolled(ctx, studentID, sess.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("enrollment check: %w", err)
	}
	if !enrolled {
		return nil, roster.ErrNotEnrolled
	}

	now := s.now().UTC()
	rec, err := s.repo.Upsert(ctx, sessionID, studentID, status, now)
	if err != nil {
		return nil, fmt.Errorf("upsert record: %w", err)
	}
	s.publish(ctx, audit.Event{
		Kind:       audit.KindManualMark,
		SessionID:  sessionID,
		StudentID:  studentID,
		Detail:     string(status),
		OccurredAt: now,
	})
	return rec, nil
}

// Override upserts a record located by (subject, date), resolving the
// most recent session for the pair. Admins may override any subject;
// faculty only subjects they are assigned to. Session state is
// irrelevant to permission here, only existence.
func (s *Service) Override(ctx context.Context, actorID string, isAdmin bool, studentID, subjectID string, date time.Time, status Status) (*Record, error) {
	if !ValidStatus(status) {
		return nil, ErrInvalidStatus
	}

	sess, err := s.sessions.FindLatestBySubjectDate(ctx, subjectID, date)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if sess == nil {
		return nil, session.ErrNotFound
	}

	if !isAdmin {
		assigned, err := s.oracle.IsAssigned(ctx, actorID, subjectID)
		if err != nil {
			return nil, fmt.Errorf("assignment check: %w", err)
		}
		if !assigned {
			return nil, roster.ErrNotAssigned
		}
	}
	enrolled, err := s.oracle.IsEnrolled(ctx, studentID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("enrollment check: %w", err)
	}
	if !enrolled {
		return nil, roster.ErrNotEnrolled
	}

	now := s.now().UTC()
	rec, err := s.repo.Upsert(ctx, sess.ID, studentID, status, now)
	if err != nil {
		return nil, fmt.Errorf("upsert record: %w", err)
	}
	s.publish(ctx, audit.Event{
		Kind:       audit.KindOverride,
		SessionID:  sess.ID,
		StudentID:  studentID,
		Detail:     string(status),
		OccurredAt: now,
	})
	return rec, nil
}

// ListBySession returns a session's roll for its owner or any faculty
// assigned to the subject.
func (s *Service) ListBySession(ctx context.Context, facultyID, sessionID string) ([]Record, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, session.ErrNotFound
	}
	if sess.FacultyID != facultyID {
		assigned, err := s.oracle.IsAssigned(ctx, facultyID, sess.SubjectID)
		if err != nil {
			return nil, fmt.Errorf("assignment check: %w", err)
		}
		if !assigned {
			return nil, roster.ErrNotAssigned
		}
	}
	return s.repo.ListBySession(ctx, sessionID)
}
