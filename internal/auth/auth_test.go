package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestVerifyExtractsIdentity(t *testing.T) {
	v := NewVerifier("test-secret")
	tok := mintToken(t, "test-secret", jwt.MapClaims{
		"sub":  "r1",
		"name": "Asha",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	id, err := v.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if id.RiderID != "r1" || id.Name != "Asha" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := NewVerifier("right")
	tok := mintToken(t, "wrong", jwt.MapClaims{"sub": "r1"})
	if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewVerifier("s")
	tok := mintToken(t, "s", jwt.MapClaims{
		"sub": "r1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRequiresSubject(t *testing.T) {
	v := NewVerifier("s")
	tok := mintToken(t, "s", jwt.MapClaims{"name": "no subject"})
	if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
