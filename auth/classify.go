package auth

import (
	"context"
	"net/http"
)

// Classifier turns a request's headers into a State.
type Classifier struct {
	verifier Verifier
}

// NewClassifier returns a Classifier that checks extracted tokens with v.
func NewClassifier(v Verifier) *Classifier {
	return &Classifier{verifier: v}
}

// Classify extracts the bearer token from h and verifies it. A missing
// token is NoToken, a token that fails verification is InvalidToken. The
// only error is the verifier's inability to obtain key material.
func (c *Classifier) Classify(ctx context.Context, h http.Header) (State, error) {
	tok, ok := ExtractBearerToken(h)
	if !ok {
		return NoToken(), nil
	}
	if c.verifier == nil {
		return State{}, ErrSecretUnavailable
	}
	claims, valid, err := c.verifier.Verify(ctx, tok)
	if err != nil {
		return State{}, err
	}
	if !valid {
		return InvalidToken(), nil
	}
	return Authorised(claims), nil
}

var stateCtxKey = &contextKey{"auth_state"}

type contextKey struct {
	name string
}

// WithState attaches s to ctx.
func WithState(ctx context.Context, s State) context.Context {
	return context.WithValue(ctx, stateCtxKey, s)
}

// FromContext returns the State attached by an Interceptor.
func FromContext(ctx context.Context) (State, bool) {
	s, ok := ctx.Value(stateCtxKey).(State)
	return s, ok
}
