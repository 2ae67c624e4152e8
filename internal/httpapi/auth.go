// Package httpapi holds the pieces shared by parity's two HTTP surfaces: the
// local API and the broker daemon.
package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Tokens is a set of accepted bearer tokens. Empty tokens are never accepted.
type Tokens struct {
	set [][]byte
}

func NewTokens(tokens ...string) Tokens {
	var t Tokens
	for _, tok := range tokens {
		if tok != "" {
			t.set = append(t.set, []byte(tok))
		}
	}
	return t
}

// Allows compares presented against every token in constant time.
func (t Tokens) Allows(presented string) bool {
	p := []byte(presented)
	ok := 0
	for _, tok := range t.set {
		ok |= subtle.ConstantTimeCompare(p, tok)
	}
	return ok == 1
}

// BearerAuth rejects requests without an accepted bearer token. The API
// rejects with 401; the broker uses 403 so clients can tell "not permitted"
// apart from "not running".
func BearerAuth(tokens Tokens, reject int) func(http.Handler) http.Handler {
	errType, msg := "authentication_error", "invalid or missing bearer token"
	if reject == http.StatusForbidden {
		errType, msg = "permission_error", "client permission not granted"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || !tokens.Allows(auth[len(prefix):]) {
				Error(w, reject, errType, "%s", msg)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
