package token

import (
	"context"
	"fmt"
	"log"
	"time"

	"presence/internal/audit"
	"presence/internal/metrics"
	"presence/internal/roster"
	"presence/internal/session"
)

// SessionLookup resolves a scanned code to its open, unexpired session.
// *session.Repository implements it.
type SessionLookup interface {
	FindByCurrentCode(ctx context.Context, code string) (*session.Session, error)
}

// Grant is the result of a successful scan: a capability to attempt one
// redemption before the TTL elapses.
type Grant struct {
	Token     string
	SessionID string
	ExpiresIn time.Duration
}

// Service converts a valid scan into a registered single-use token.
type Service struct {
	sessions SessionLookup
	oracle   roster.Oracle
	issuer   *Issuer
	ledger   Ledger
	queue    audit.Queue
}

// NewService creates the issuance service.
func NewService(sessions SessionLookup, oracle roster.Oracle, issuer *Issuer, ledger Ledger, queue audit.Queue) *Service {
	return &Service{sessions: sessions, oracle: oracle, issuer: issuer, ledger: ledger, queue: queue}
}

// Scan validates a scanned code for the authenticated student and mints
// a verification token. No session or record state changes here; the
// token is purely a capability.
func (s *Service) Scan(ctx context.Context, studentID, code string) (Grant, error) {
	sess, err := s.sessions.FindByCurrentCode(ctx, code)
	if err != nil {
		return Grant{}, fmt.Errorf("code lookup: %w", err)
	}
	if sess == nil {
		metrics.ScanRejections.WithLabelValues("invalid_code").Inc()
		return Grant{}, ErrCodeInvalid
	}

	enrolled, err := s.oracle.IsEnrolled(ctx, studentID, sess.SubjectID)
	if err != nil {
		return Grant{}, fmt.Errorf("enrollment check: %w", err)
	}
	if !enrolled {
		metrics.ScanRejections.WithLabelValues("not_enrolled").Inc()
		return Grant{}, roster.ErrNotEnrolled
	}

	raw, claims, err := s.issuer.Mint(studentID, sess.ID)
	if err != nil {
		return Grant{}, fmt.Errorf("mint token: %w", err)
	}
	if err := s.ledger.Register(ctx, claims.ID, s.issuer.TTL()); err != nil {
		return Grant{}, fmt.Errorf("register token: %w", err)
	}

	metrics.TokensIssued.Inc()
	if s.queue != nil {
		evt := audit.Event{
			Kind:       audit.KindTokenIssued,
			SessionID:  sess.ID,
			StudentID:  studentID,
			Detail:     "jti=" + claims.ID,
			OccurredAt: time.Now().UTC(),
		}
		if err := s.queue.Publish(ctx, evt); err != nil {
			log.Printf("audit publish failed: %v", err)
		}
	}
	return Grant{Token: raw, SessionID: sess.ID, ExpiresIn: s.issuer.TTL()}, nil
}
