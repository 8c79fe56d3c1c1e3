package jwtauth

import (
	"context"
	"errors"
	"fmt"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
)

// DefaultKeySetAlgs are accepted by key-set verifiers unless overridden.
var DefaultKeySetAlgs = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "EdDSA"}

// NewJWKS constructs a KeySetVerifier backed by an auto-refreshing JWKS.
// Refreshing stops when ctx is cancelled.
func NewJWKS(ctx context.Context, jwksURI string, cfg *Config) (*KeySetVerifier, error) {
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = append([]string(nil), DefaultKeySetAlgs...)
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &KeySetVerifier{cfg: cfg, keyfunc: allowAlgs(cfg.AllowedAlgs, kf.Keyfunc)}, nil
}

// NewFromDiscovery performs OIDC discovery against issuer to find its
// jwks_uri and then behaves like NewJWKS.
func NewFromDiscovery(ctx context.Context, issuer string, cfg *Config) (*KeySetVerifier, error) {
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}

	return NewJWKS(ctx, meta.JwksURI, cfg)
}
