// Package auth checks the optional shared token presented on upgrade.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// QueryParam is the query parameter accepted in place of the header, for
// browser peers that cannot set Authorization on a WebSocket request.
const QueryParam = "token"

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Token validates a shared bearer token. The zero value accepts everything.
type Token struct {
	secret []byte
}

// NewToken returns a Token for secret. An empty secret disables the check.
func NewToken(secret string) *Token {
	return &Token{secret: []byte(secret)}
}

// Enabled reports whether requests must present a token.
func (t *Token) Enabled() bool {
	return t != nil && len(t.secret) > 0
}

// Verify checks r for the token, first in the Authorization header and then
// in the query string.
func (t *Token) Verify(r *http.Request) error {
	if !t.Enabled() {
		return nil
	}

	presented := FromRequest(r)
	if presented == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(presented), t.secret) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Middleware rejects requests without a valid token with 401 before next
// runs.
func (t *Token) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := t.Verify(r); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="agent-hub"`)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FromRequest extracts a presented token, or "" if there is none.
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get(QueryParam)
}

// Headers returns the request headers a client sends to present token.
func Headers(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
