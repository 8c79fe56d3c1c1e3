package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

type mockOIDC struct {
	srv       *httptest.Server
	issuer    string
	jwksPath  string
	metaExtra map[string]any
}

func newMockOIDC(t *testing.T, keysJSON []byte, metaExtra map[string]any) *mockOIDC {
	t.Helper()
	m := &mockOIDC{jwksPath: "/keys", metaExtra: metaExtra}
	handler := http.NewServeMux()
	handler.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		meta := map[string]any{
			"issuer":                   m.issuer,
			"jwks_uri":                 m.issuer + m.jwksPath,
			"response_types_supported": []string{"code"},
		}
		for k, v := range m.metaExtra {
			meta[k] = v
		}
		_ = json.NewEncoder(w).Encode(meta)
	})
	handler.HandleFunc(m.jwksPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(handler)
	m.issuer = m.srv.URL
	return m
}

func (m *mockOIDC) Close() { m.srv.Close() }

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-key"
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, kid, b
}

func signRSA(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func signHMAC(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestDecodeHMAC(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		tok     func(t *testing.T) string
		secret  string
		want    map[string]string
		wantErr bool
	}{
		{
			name: "valid HS256 without exp",
			tok: func(t *testing.T) string {
				return signHMAC(t, jwt.SigningMethodHS256, "s3cr3t", jwt.MapClaims{"role": "graphql_server"})
			},
			secret: "s3cr3t",
			want:   map[string]string{"role": "graphql_server"},
		},
		{
			name: "valid HS512",
			tok: func(t *testing.T) string {
				return signHMAC(t, jwt.SigningMethodHS512, "s3cr3t", jwt.MapClaims{"sub": "u1"})
			},
			secret: "s3cr3t",
			want:   map[string]string{"sub": "u1"},
		},
		{
			name: "wrong secret",
			tok: func(t *testing.T) string {
				return signHMAC(t, jwt.SigningMethodHS256, "other", jwt.MapClaims{"role": "x"})
			},
			secret:  "s3cr3t",
			wantErr: true,
		},
		{
			name: "expired",
			tok: func(t *testing.T) string {
				return signHMAC(t, jwt.SigningMethodHS256, "s3cr3t", jwt.MapClaims{"exp": now.Add(-time.Hour).Unix()})
			},
			secret:  "s3cr3t",
			wantErr: true,
		},
		{
			name: "not yet valid",
			tok: func(t *testing.T) string {
				return signHMAC(t, jwt.SigningMethodHS256, "s3cr3t", jwt.MapClaims{"nbf": now.Add(time.Hour).Unix()})
			},
			secret:  "s3cr3t",
			wantErr: true,
		},
		{
			name:    "malformed",
			tok:     func(t *testing.T) string { return "not.a.jwt" },
			secret:  "s3cr3t",
			wantErr: true,
		},
		{
			name:    "empty token",
			tok:     func(t *testing.T) string { return "" },
			secret:  "s3cr3t",
			wantErr: true,
		},
		{
			name: "empty secret",
			tok: func(t *testing.T) string {
				return signHMAC(t, jwt.SigningMethodHS256, "s3cr3t", jwt.MapClaims{"role": "x"})
			},
			secret:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeHMAC(tt.tok(t), []byte(tt.secret), nil)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidToken) {
					t.Fatalf("want ErrInvalidToken, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("claims = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeHMAC_RejectsAsymmetricToken(t *testing.T) {
	pk, kid, _ := genRSA(t)
	tok := signRSA(t, pk, kid, jwt.MapClaims{"sub": "u1"})
	if _, err := DecodeHMAC(tok, []byte("s3cr3t"), nil); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

func TestFlatten(t *testing.T) {
	raw := `{"s":"v","n":42,"f":1.5,"b":true,"z":null,"a":[1,"x"],"o":{"k":"<v>"}}`
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var claims map[string]any
	if err := dec.Decode(&claims); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	got, err := Flatten(claims)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	want := map[string]string{
		"s": "v",
		"n": "42",
		"f": "1.5",
		"b": "true",
		"z": "",
		"a": `[1,"x"]`,
		"o": `{"k":"<v>"}`,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Flatten() = %v, want %v", got, want)
	}
}

func TestJWKS_HappyPath(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newMockOIDC(t, jwks, nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := NewJWKS(ctx, srv.issuer+srv.jwksPath, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tok := signRSA(t, pk, kid, jwt.MapClaims{"sub": "user-123", "exp": time.Now().Add(time.Hour).Unix()})
	claims, err := v.Decode(ctx, tok)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if claims["sub"] != "user-123" {
		t.Fatalf("want sub user-123, got %q", claims["sub"])
	}
}

func TestJWKS_DisallowedAlg(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newMockOIDC(t, jwks, nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := NewJWKS(ctx, srv.issuer+srv.jwksPath, &Config{AllowedAlgs: []string{"ES256"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tok := signRSA(t, pk, kid, jwt.MapClaims{"sub": "user-123"})
	if _, err := v.Decode(ctx, tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

func TestJWKS_HMACTokenRejected(t *testing.T) {
	_, _, jwks := genRSA(t)
	srv := newMockOIDC(t, jwks, nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := NewJWKS(ctx, srv.issuer+srv.jwksPath, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tok := signHMAC(t, jwt.SigningMethodHS256, "s3cr3t", jwt.MapClaims{"sub": "u"})
	if _, err := v.Decode(ctx, tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

func TestDiscovery_HappyPath(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newMockOIDC(t, jwks, nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v, err := NewFromDiscovery(ctx, srv.issuer, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tok := signRSA(t, pk, kid, jwt.MapClaims{"role": "admin"})
	claims, err := v.Decode(ctx, tok)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if claims["role"] != "admin" {
		t.Fatalf("want role admin, got %q", claims["role"])
	}
}

func TestDiscovery_MissingJWKSURI(t *testing.T) {
	_, _, jwks := genRSA(t)
	srv := newMockOIDC(t, jwks, map[string]any{"jwks_uri": ""})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := NewFromDiscovery(ctx, srv.issuer, nil); err == nil {
		t.Fatalf("expected error due to missing jwks_uri")
	}
}
