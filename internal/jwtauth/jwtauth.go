package jwtauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken indicates that a token failed decoding or verification
// (malformed structure, bad signature, disallowed algorithm, exp/nbf).
var ErrInvalidToken = errors.New("jwtauth: invalid token")

// HMACAlgs are the symmetric algorithms accepted for shared-secret tokens.
var HMACAlgs = []string{"HS256", "HS384", "HS512"}

// Config controls validation behavior for tokens. It is shared by the
// shared-secret decoder and the key-set backed verifiers.
type Config struct {
	AllowedAlgs []string
	// Leeway is the clock skew tolerance applied to exp and nbf.
	Leeway time.Duration
}

// DefaultConfig returns a Config accepting the HMAC family with no leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: append([]string(nil), HMACAlgs...),
	}
}

// DecodeHMAC verifies tok against secret and returns its claims flattened to
// strings. Time based claims are enforced only when present; no claim is
// required.
func DecodeHMAC(tok string, secret []byte, cfg *Config) (map[string]string, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidToken)
	}
	return decode(tok, cfg, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return secret, nil
	})
}

func decode(tok string, cfg *Config, keyfunc jwt.Keyfunc) (map[string]string, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(cfg.AllowedAlgs),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithJSONNumber(),
	)
	parsed, err := parser.Parse(tok, keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrInvalidToken)
	}
	return Flatten(claims)
}

// Flatten converts decoded JSON claims into a string-to-string mapping.
// Strings are kept verbatim, numbers keep their JSON text, booleans become
// "true"/"false", null becomes "" and objects/arrays are re-encoded as
// compact JSON.
func Flatten(claims map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(claims))
	for k, v := range claims {
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		case nil:
			out[k] = ""
		default:
			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			enc.SetEscapeHTML(false)
			if err := enc.Encode(val); err != nil {
				return nil, fmt.Errorf("%w: claim %q: %v", ErrInvalidToken, k, err)
			}
			out[k] = string(bytes.TrimRight(buf.Bytes(), "\n"))
		}
	}
	return out, nil
}

// KeySetVerifier validates asymmetrically signed tokens against keys
// resolved by a jwt.Keyfunc (typically backed by a remote JWKS).
type KeySetVerifier struct {
	cfg     *Config
	keyfunc jwt.Keyfunc
}

// Decode verifies tok and returns its flattened claims.
func (v *KeySetVerifier) Decode(ctx context.Context, tok string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decode(tok, v.cfg, v.keyfunc)
}

func allowAlgs(allowed []string, kf jwt.Keyfunc) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		for _, a := range allowed {
			if alg == a {
				return kf(t)
			}
		}
		return nil, fmt.Errorf("disallowed alg: %s", alg)
	}
}
