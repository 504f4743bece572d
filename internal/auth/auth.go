// Package auth verifies the bearer token the Traffic Controller's HTTP
// surface requires (spec §6: "all endpoints require a bearer token that
// the controller verifies but does not issue"). Each request's token is
// checked by a Verifier: in production the SECURITY_URL collaborator is
// asked per request; StaticVerifier instead compares against one shared
// secret with a constant-time comparison rather than an adaptive hash.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/agenttraffic/core/internal/apierrors"
)

type contextKey int

const tokenKey contextKey = iota

// Verifier checks whether a bearer token is currently valid. In
// production it is backed by the SECURITY_URL collaborator; tests use a
// static verifier.
type Verifier interface {
	Verify(ctx context.Context, token string) bool
}

// StaticVerifier accepts any token equal to Token, using a constant-time
// comparison to avoid timing side channels.
type StaticVerifier struct {
	Token string
}

func (v StaticVerifier) Verify(_ context.Context, token string) bool {
	if v.Token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(v.Token), []byte(token)) == 1
}

// Middleware returns an http.Handler that rejects requests lacking a
// valid bearer token with a 401 ValidationError-shaped body. On success
// the verified token is attached to the request context.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromHeader(r.Header.Get("Authorization"))
			if token == "" || !v.Verify(r.Context(), token) {
				writeUnauthenticated(w)
				return
			}
			ctx := context.WithValue(r.Context(), tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"kind":"` + string(apierrors.Validation) + `","message":"missing or invalid bearer token"}}`))
}

// TokenFromHeader extracts a Bearer token from an Authorization header value.
func TokenFromHeader(authHeader string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(authHeader, prefix) {
		return strings.TrimPrefix(authHeader, prefix)
	}
	return ""
}

// TokenFromContext retrieves the verified bearer token from a request
// context that passed through Middleware.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey).(string)
	return token, ok
}
