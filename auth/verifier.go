package auth

import (
	"context"
	"time"

	"github.com/ggoodman/graphql-server-go/internal/jwtauth"
)

// ValidateToken verifies an HMAC-signed (HS256/384/512) token against
// secret. It returns the token's claims, or false on any verification
// failure including malformed structure, bad signature and expiry.
func ValidateToken(tok string, secret []byte) (Claims, bool) {
	claims, err := jwtauth.DecodeHMAC(tok, secret, nil)
	if err != nil {
		return nil, false
	}
	return Claims(claims), true
}

// VerifierOption configures the verifiers built by this package.
type VerifierOption func(*jwtauth.Config)

// WithLeeway sets clock skew tolerance for exp and nbf.
func WithLeeway(d time.Duration) VerifierOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// WithAllowedAlgs restricts the accepted JWS algorithms.
func WithAllowedAlgs(algs ...string) VerifierOption {
	return func(c *jwtauth.Config) { c.AllowedAlgs = append([]string(nil), algs...) }
}

type secretVerifier struct {
	src SecretSource
	cfg *jwtauth.Config
}

// NewSecretVerifier verifies HMAC tokens against the secret served by src.
// The secret is fetched on every call so rotating sources take effect
// immediately.
func NewSecretVerifier(src SecretSource, opts ...VerifierOption) Verifier {
	cfg := jwtauth.DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &secretVerifier{src: src, cfg: cfg}
}

func (v *secretVerifier) Verify(ctx context.Context, tok string) (Claims, bool, error) {
	if v.src == nil {
		return nil, false, ErrSecretUnavailable
	}
	secret, err := v.src.Secret(ctx)
	if err != nil {
		return nil, false, err
	}
	claims, err := jwtauth.DecodeHMAC(tok, secret, v.cfg)
	if err != nil {
		return nil, false, nil
	}
	return Claims(claims), true, nil
}

type keySetVerifier struct {
	ks *jwtauth.KeySetVerifier
}

func (v keySetVerifier) Verify(ctx context.Context, tok string) (Claims, bool, error) {
	claims, err := v.ks.Decode(ctx, tok)
	if err != nil {
		return nil, false, nil
	}
	return Claims(claims), true, nil
}

// NewJWKSVerifier verifies asymmetrically signed tokens against the keys
// published at jwksURL. Keys are refreshed in the background until ctx is
// cancelled.
func NewJWKSVerifier(ctx context.Context, jwksURL string, opts ...VerifierOption) (Verifier, error) {
	cfg := &jwtauth.Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	ks, err := jwtauth.NewJWKS(ctx, jwksURL, cfg)
	if err != nil {
		return nil, err
	}
	return keySetVerifier{ks: ks}, nil
}

// NewDiscoveryVerifier is NewJWKSVerifier with the JWKS location learned
// through OpenID Connect discovery on issuer.
func NewDiscoveryVerifier(ctx context.Context, issuer string, opts ...VerifierOption) (Verifier, error) {
	cfg := &jwtauth.Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	ks, err := jwtauth.NewFromDiscovery(ctx, issuer, cfg)
	if err != nil {
		return nil, err
	}
	return keySetVerifier{ks: ks}, nil
}
