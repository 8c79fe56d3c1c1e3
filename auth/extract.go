package auth

import (
	"net/http"
	"strings"
)

const (
	authorizationHeader = "Authorization"
	bearerMarker        = "Bearer"
)

// ExtractBearerToken returns the candidate token from the Authorization
// header. Everything after the first "Bearer" marker, trimmed, is the
// candidate; a header without the marker, or one that is not plain text,
// yields no token. An empty candidate is still reported as present.
func ExtractBearerToken(h http.Header) (string, bool) {
	vals := headerValues(h, authorizationHeader)
	if len(vals) == 0 {
		return "", false
	}
	v := vals[0]
	if !isVisibleText(v) {
		return "", false
	}
	_, after, found := strings.Cut(v, bearerMarker)
	if !found {
		return "", false
	}
	return strings.TrimSpace(after), true
}

// headerValues looks name up case-insensitively. Maps filled by
// net/http are canonical; hand-built ones may not be.
func headerValues(h http.Header, name string) []string {
	if vals := h.Values(name); len(vals) > 0 {
		return vals
	}
	for k, vals := range h {
		if strings.EqualFold(k, name) && len(vals) > 0 {
			return vals
		}
	}
	return nil
}

// isVisibleText mirrors the header-value-as-string rule: tab and
// printable ASCII only.
func isVisibleText(v string) bool {
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\t' {
			continue
		}
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
