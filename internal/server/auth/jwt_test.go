package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/clusterapi/internal/common"
	"github.com/dmitrijs2005/clusterapi/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerify_Success(t *testing.T) {
	t.Parallel()

	s := NewTokenService("super-secret", time.Hour)

	tok, err := s.Issue("user-123", "alice@example.com", models.RoleAdmin)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	cred, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if cred.SubjectID != "user-123" || cred.Email != "alice@example.com" || cred.Role != models.RoleAdmin {
		t.Fatalf("claims mismatch: %+v", cred)
	}
	if !cred.ExpiresAt.After(cred.IssuedAt) {
		t.Fatalf("expires_at must be after issued_at: %+v", cred)
	}
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	s := NewTokenService("secret", time.Hour)
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }

	tok, err := s.Issue("u1", "u1@example.com", models.RoleUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	s.now = func() time.Time { return issued.Add(2 * time.Hour) }

	_, err = s.Verify(tok)
	if !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := NewTokenService("right-secret", time.Hour).Issue("u2", "u2@example.com", models.RoleUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	_, err = NewTokenService("wrong-secret", time.Hour).Verify(tok)
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	t.Parallel()

	s := NewTokenService("secret", time.Hour)
	tok, err := s.Issue("u3", "u3@example.com", models.RoleUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	// re-sign the same claims with role=admin under another key
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u3",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: models.RoleAdmin,
	}).SignedString([]byte("attacker"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	parts := strings.Split(tok, ".")
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"u3","role":"admin","iat":1,"exp":9999999999}`))
	tampered := strings.Join(parts, ".")

	for _, in := range []string{tampered, forged} {
		if _, err := s.Verify(in); !errors.Is(err, common.ErrInvalidToken) {
			t.Fatalf("expected common.ErrInvalidToken for %q, got %v", in, err)
		}
	}
}

func TestVerify_MalformedAndMissing(t *testing.T) {
	t.Parallel()

	s := NewTokenService("k", time.Hour)

	if _, err := s.Verify("not.a.jwt"); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
	if _, err := s.Verify(""); !errors.Is(err, common.ErrTokenMissing) {
		t.Fatalf("expected common.ErrTokenMissing, got %v", err)
	}
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	s := NewTokenService("k", time.Hour)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: models.RoleAdmin,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := s.Verify(none); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestIssue_RejectsBadInput(t *testing.T) {
	t.Parallel()

	s := NewTokenService("k", time.Hour)
	if _, err := s.Issue("", "e", models.RoleUser); err == nil {
		t.Fatal("expected error for empty subject")
	}
	if _, err := s.Issue("u", "e", models.Role("root")); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	s := NewTokenService("k", time.Hour)
	issued := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }

	tok, err := s.Issue("u9", "u9@example.com", models.RoleUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	s.now = func() time.Time { return issued.Add(30 * time.Minute) }
	refreshed, err := s.Refresh(tok)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	cred, err := s.Verify(refreshed)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if cred.SubjectID != "u9" || cred.Role != models.RoleUser || cred.Email != "u9@example.com" {
		t.Fatalf("claims not preserved: %+v", cred)
	}
	if !cred.ExpiresAt.Equal(issued.Add(90 * time.Minute)) {
		t.Fatalf("expiry not renewed: %v", cred.ExpiresAt)
	}

	s.now = func() time.Time { return issued.Add(3 * time.Hour) }
	if _, err := s.Refresh(tok); !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("expected expired error on refresh, got %v", err)
	}
}
