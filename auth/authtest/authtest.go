// Package authtest mints HMAC bearer tokens for tests and local
// development. It is not a token issuance service.
package authtest

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sign returns an HS256 token carrying claims, signed with secret.
func Sign(t testing.TB, secret string, claims map[string]any) string {
	t.Helper()
	tok, err := SignHMAC(secret, claims)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

// SignHMAC is Sign without a testing.TB, for use from tools.
func SignHMAC(secret string, claims map[string]any) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims)).SignedString([]byte(secret))
}

// Expired returns an HS256 token whose exp lies an hour in the past.
func Expired(t testing.TB, secret string, claims map[string]any) string {
	t.Helper()
	c := make(map[string]any, len(claims)+1)
	for k, v := range claims {
		c[k] = v
	}
	c["exp"] = time.Now().Add(-time.Hour).Unix()
	return Sign(t, secret, c)
}

// Bearer sets the Authorization header of r to "Bearer <tok>".
func Bearer(r *http.Request, tok string) *http.Request {
	r.Header.Set("Authorization", "Bearer "+tok)
	return r
}
