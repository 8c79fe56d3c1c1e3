package auth

import (
	"context"
	"errors"
	"maps"
)

// ErrSecretUnavailable indicates the verification secret could not be
// retrieved. It signals server misconfiguration, never a client problem.
var ErrSecretUnavailable = errors.New("jwt secret unavailable")

// Claims are the key-value assertions carried by a verified token.
type Claims map[string]string

// Status identifies which case of State is active.
type Status int

const (
	// StatusNoToken means no bearer token was presented.
	StatusNoToken Status = iota
	// StatusInvalidToken means a bearer token was presented but failed verification.
	StatusInvalidToken
	// StatusAuthorised means a bearer token was presented and verified.
	StatusAuthorised
)

func (s Status) String() string {
	switch s {
	case StatusAuthorised:
		return "authorised"
	case StatusInvalidToken:
		return "invalid_token"
	case StatusNoToken:
		return "no_token"
	default:
		return "unknown"
	}
}

// State is the credential classification of a single request. The zero
// value is NoToken. A State is immutable: Claims returns a copy.
type State struct {
	status Status
	claims Claims
}

// Authorised returns the state of a request carrying a verified token.
func Authorised(claims Claims) State {
	c := maps.Clone(claims)
	if c == nil {
		c = Claims{}
	}
	return State{status: StatusAuthorised, claims: c}
}

// InvalidToken returns the state of a request whose token failed verification.
func InvalidToken() State { return State{status: StatusInvalidToken} }

// NoToken returns the state of a request without a bearer token.
func NoToken() State { return State{status: StatusNoToken} }

// Status reports which case is active.
func (s State) Status() Status { return s.status }

// Claims returns a copy of the verified claims, or nil unless Authorised.
func (s State) Claims() Claims {
	if s.status != StatusAuthorised {
		return nil
	}
	return maps.Clone(s.claims)
}

// IsAuthorised is shorthand for Status() == StatusAuthorised.
func (s State) IsAuthorised() bool { return s.status == StatusAuthorised }

// HasClaims reports whether s is Authorised and every required key is
// present with an exactly equal value.
func (s State) HasClaims(required Claims) bool {
	if s.status != StatusAuthorised {
		return false
	}
	for k, want := range required {
		got, ok := s.claims[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (s State) String() string { return s.status.String() }

// Matches is the function form of State.HasClaims.
func Matches(s State, required Claims) bool { return s.HasClaims(required) }

// Verifier checks a bearer token and returns its claims. ok is false when
// the token is not acceptable. err is reserved for failures to obtain key
// material (for example ErrSecretUnavailable) and must not be used for bad
// tokens.
type Verifier interface {
	Verify(ctx context.Context, tok string) (claims Claims, ok bool, err error)
}
