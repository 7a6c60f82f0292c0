package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	t.Parallel()

	h := NewBcryptHasher(bcrypt.MinCost)
	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct horse" || !strings.HasPrefix(hash, "$2") {
		t.Fatalf("unexpected hash %q", hash)
	}
	if !h.Compare(hash, "correct horse") {
		t.Fatalf("matching secret rejected")
	}
	if h.Compare(hash, "wrong horse") {
		t.Fatalf("wrong secret accepted")
	}
	if h.Compare("", "correct horse") || h.Compare("garbage", "correct horse") {
		t.Fatalf("malformed hash accepted")
	}
}

func TestBcryptCostClamp(t *testing.T) {
	t.Parallel()

	cases := map[int]int{
		0:   bcrypt.DefaultCost,
		1:   bcrypt.MinCost,
		12:  12,
		100: bcrypt.MaxCost,
	}
	for in, want := range cases {
		if got := NewBcryptHasher(in).Cost(); got != want {
			t.Fatalf("cost(%d)=%d want %d", in, got, want)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour)
	token, expires, err := issuer.Issue("person-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expiry in the past: %v", expires)
	}

	sub, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sub != "person-1" {
		t.Fatalf("subject=%q", sub)
	}
}

func TestTokenRejections(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour)
	token, _, err := issuer.Issue("person-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := NewTokenIssuer([]byte("other-secret"), time.Hour)
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign signature accepted: %v", err)
	}

	if _, err := issuer.Parse("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage accepted: %v", err)
	}

	late := NewTokenIssuer([]byte("test-secret"), time.Hour)
	late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := late.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}
}
