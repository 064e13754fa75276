package token

import (
	"errors"
	"testing"
	"time"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	issuer := NewIssuer("test-key", "presence-core", 10*time.Second)

	raw, minted, err := issuer.Mint("student-1", "session-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if minted.ID == "" {
		t.Fatal("minted token needs a jti")
	}

	claims, err := issuer.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.StudentID != "student-1" || claims.SessionID != "session-1" {
		t.Fatalf("claims = %+v, want bound student and session", claims)
	}
	if claims.ID != minted.ID {
		t.Fatalf("jti = %q, want %q", claims.ID, minted.ID)
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	issuer := NewIssuer("key-a", "presence-core", 10*time.Second)
	other := NewIssuer("key-b", "presence-core", 10*time.Second)

	raw, _, err := other.Mint("student-1", "session-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := issuer.Verify(raw); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer := NewIssuer("test-key", "presence-core", time.Nanosecond)
	raw, _, err := issuer.Mint("student-1", "session-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := issuer.Verify(raw); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := NewIssuer("test-key", "presence-core", 10*time.Second)
	if _, err := issuer.Verify("not-a-jwt"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestVerifyRejectsIncompletePayload(t *testing.T) {
	issuer := NewIssuer("test-key", "presence-core", 10*time.Second)

	// A token missing the session binding is structurally incomplete
	// even when the signature checks out.
	raw, _, err := issuer.Mint("student-1", "")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := issuer.Verify(raw); !errors.Is(err, ErrPayload) {
		t.Fatalf("err = %v, want ErrPayload", err)
	}
}
