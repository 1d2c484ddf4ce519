package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rl1809/crop-market/internal/core/domain"
	"github.com/rl1809/crop-market/internal/port"
)

func TestVerify_RoundTrip(t *testing.T) {
	v := NewJWTVerifier("secret")
	want := domain.Identity{UID: "u-1", Email: "u1@example.com", Name: "Farmer One"}

	tok, err := v.Issue(want, time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	got, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestVerify_Expired(t *testing.T) {
	v := NewJWTVerifier("secret")
	tok, _ := v.Issue(domain.Identity{UID: "u-1"}, time.Minute)

	v.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := v.Verify(context.Background(), tok); !errors.Is(err, port.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerify_Invalid(t *testing.T) {
	v := NewJWTVerifier("secret")
	other := NewJWTVerifier("other-secret")
	forged, _ := other.Issue(domain.Identity{UID: "u-1"}, time.Hour)

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("secret"))

	for name, tok := range map[string]string{
		"garbage":    "not.a.token",
		"wrong key":  forged,
		"no subject": noSubject,
	} {
		if _, err := v.Verify(context.Background(), tok); !errors.Is(err, port.ErrTokenInvalid) {
			t.Errorf("%s: expected ErrTokenInvalid, got %v", name, err)
		}
	}
}
