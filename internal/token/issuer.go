package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrCodeInvalid rejects a scan whose code matches no open,
	// unexpired session.
	ErrCodeInvalid = errors.New("invalid or expired code")
	// ErrInvalid rejects a redemption token that fails signature or
	// expiry checks.
	ErrInvalid = errors.New("invalid or expired session token")
	// ErrPayload rejects a structurally incomplete token payload.
	ErrPayload = errors.New("invalid session token payload")
	// ErrMismatch rejects a token bound to a different student than the
	// authenticated caller. Forgery/replay defense, not ownership.
	ErrMismatch = errors.New("session token does not match student")
	// ErrExpired rejects a token whose ledger entry is gone.
	ErrExpired = errors.New("session token expired or already used")
	// ErrUsed rejects a token that was already consumed.
	ErrUsed = errors.New("session token already used")
)

// Claims is the verification-token payload binding a student to a
// session. The jti lives in RegisteredClaims.ID and keys the ledger.
type Claims struct {
	StudentID string `json:"studentId"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies the short-lived single-use tokens. A token
// is never proof of attendance, only a capability to attempt redemption
// once.
type Issuer struct {
	key    string
	issuer string
	ttl    time.Duration
}

// NewIssuer creates an issuer. ttl is the fixed token lifetime.
func NewIssuer(key, issuer string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Issuer{key: key, issuer: issuer, ttl: ttl}
}

// TTL returns the fixed token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Mint signs a token bound to (student, session) with a fresh jti.
func (i *Issuer) Mint(studentID, sessionID string) (string, Claims, error) {
	now := time.Now()
	claims := Claims{
		StudentID: studentID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   studentID,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.key))
	if err != nil {
		return "", Claims{}, err
	}
	return raw, claims, nil
}

// Verify checks signature and expiry and returns the claims. All
// failures collapse to ErrInvalid; payload completeness is a separate
// check so the caller can distinguish the two classes.
func (i *Issuer) Verify(raw string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(i.key), nil
	})
	if err != nil {
		return Claims{}, ErrInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalid
	}
	if claims.ID == "" || claims.StudentID == "" || claims.SessionID == "" {
		return Claims{}, ErrPayload
	}
	return *claims, nil
}
