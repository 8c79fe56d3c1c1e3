package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestValidateToken(t *testing.T) {
	good := sign(t, "s3cr3t", jwt.MapClaims{"role": "graphql_server"})

	claims, ok := ValidateToken(good, []byte("s3cr3t"))
	if !ok {
		t.Fatalf("expected valid token")
	}
	if claims["role"] != "graphql_server" {
		t.Fatalf("role claim: got %q", claims["role"])
	}

	if _, ok := ValidateToken(good, []byte("other")); ok {
		t.Fatalf("expected wrong secret to fail")
	}
	if _, ok := ValidateToken("not-a-jwt", []byte("s3cr3t")); ok {
		t.Fatalf("expected malformed token to fail")
	}
	expired := sign(t, "s3cr3t", jwt.MapClaims{"role": "x", "exp": time.Now().Add(-time.Hour).Unix()})
	if _, ok := ValidateToken(expired, []byte("s3cr3t")); ok {
		t.Fatalf("expected expired token to fail")
	}
}

func TestStateClaims(t *testing.T) {
	src := Claims{"role": "admin", "team": "core"}
	st := Authorised(src)
	src["role"] = "mutated"

	if got := st.Claims()["role"]; got != "admin" {
		t.Fatalf("state must not alias caller map, got %q", got)
	}
	c := st.Claims()
	c["role"] = "mutated"
	if got := st.Claims()["role"]; got != "admin" {
		t.Fatalf("Claims must return a copy, got %q", got)
	}

	if InvalidToken().Claims() != nil || NoToken().Claims() != nil {
		t.Fatalf("non-authorised states carry no claims")
	}
	var zero State
	if zero.Status() != StatusNoToken {
		t.Fatalf("zero State should be NoToken, got %v", zero.Status())
	}
}

func TestHasClaims(t *testing.T) {
	st := Authorised(Claims{"role": "admin", "team": "core"})
	tests := []struct {
		name     string
		state    State
		required Claims
		want     bool
	}{
		{"empty required", st, Claims{}, true},
		{"single match", st, Claims{"role": "admin"}, true},
		{"all match", st, Claims{"role": "admin", "team": "core"}, true},
		{"value mismatch", st, Claims{"role": "user"}, false},
		{"missing key", st, Claims{"org": "acme"}, false},
		{"one of two mismatched", st, Claims{"role": "admin", "team": "ops"}, false},
		{"invalid token", InvalidToken(), Claims{}, false},
		{"no token", NoToken(), Claims{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.state, tt.required); got != tt.want {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

type stubVerifier struct {
	claims Claims
	ok     bool
	err    error
	calls  int
}

func (s *stubVerifier) Verify(context.Context, string) (Claims, bool, error) {
	s.calls++
	return s.claims, s.ok, s.err
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	withAuth := func(v string) http.Header {
		h := http.Header{}
		h.Set("Authorization", v)
		return h
	}

	t.Run("no header skips verifier", func(t *testing.T) {
		v := &stubVerifier{err: ErrSecretUnavailable}
		st, err := NewClassifier(v).Classify(ctx, http.Header{})
		if err != nil || st.Status() != StatusNoToken {
			t.Fatalf("got (%v, %v)", st, err)
		}
		if v.calls != 0 {
			t.Fatalf("verifier should not be called")
		}
	})

	t.Run("rejected token", func(t *testing.T) {
		st, err := NewClassifier(&stubVerifier{}).Classify(ctx, withAuth("Bearer x"))
		if err != nil || st.Status() != StatusInvalidToken {
			t.Fatalf("got (%v, %v)", st, err)
		}
	})

	t.Run("accepted token", func(t *testing.T) {
		v := &stubVerifier{ok: true, claims: Claims{"sub": "u1"}}
		st, err := NewClassifier(v).Classify(ctx, withAuth("Bearer x"))
		if err != nil || !st.HasClaims(Claims{"sub": "u1"}) {
			t.Fatalf("got (%v, %v)", st, err)
		}
	})

	t.Run("verifier error propagates", func(t *testing.T) {
		_, err := NewClassifier(&stubVerifier{err: ErrSecretUnavailable}).Classify(ctx, withAuth("Bearer x"))
		if !errors.Is(err, ErrSecretUnavailable) {
			t.Fatalf("expected ErrSecretUnavailable, got %v", err)
		}
	})

	t.Run("secret verifier", func(t *testing.T) {
		c := NewClassifier(NewSecretVerifier(StaticSecret("s3cr3t")))
		tok := sign(t, "s3cr3t", jwt.MapClaims{"role": "graphql_server"})
		st, err := c.Classify(ctx, withAuth("Bearer "+tok))
		if err != nil || !st.HasClaims(Claims{"role": "graphql_server"}) {
			t.Fatalf("got (%v, %v)", st, err)
		}
		st, err = c.Classify(ctx, withAuth("garbage"))
		if err != nil || st.Status() != StatusNoToken {
			t.Fatalf("garbage header: got (%v, %v)", st, err)
		}
		st, err = c.Classify(ctx, withAuth("Bearer "))
		if err != nil || st.Status() != StatusInvalidToken {
			t.Fatalf("empty bearer: got (%v, %v)", st, err)
		}
	})
}

func TestContextState(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("expected no state on empty context")
	}
	ctx := WithState(context.Background(), Authorised(Claims{"a": "b"}))
	st, ok := FromContext(ctx)
	if !ok || !st.HasClaims(Claims{"a": "b"}) {
		t.Fatalf("got (%v, %v)", st, ok)
	}
}
