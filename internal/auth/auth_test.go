package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttraffic/core/internal/auth"
)

func TestTokenFromHeader(t *testing.T) {
	assert.Equal(t, "abc123", auth.TokenFromHeader("Bearer abc123"))
	assert.Equal(t, "", auth.TokenFromHeader("abc123"))
	assert.Equal(t, "", auth.TokenFromHeader(""))
	assert.Equal(t, "", auth.TokenFromHeader("Basic abc123"))
}

func TestStaticVerifier(t *testing.T) {
	v := auth.StaticVerifier{Token: "secret"}
	assert.True(t, v.Verify(t.Context(), "secret"))
	assert.False(t, v.Verify(t.Context(), "wrong"))
	assert.False(t, v.Verify(t.Context(), ""))

	empty := auth.StaticVerifier{}
	assert.False(t, empty.Verify(t.Context(), ""))
}

func TestMiddleware_RejectsMissingOrInvalidToken(t *testing.T) {
	v := auth.StaticVerifier{Token: "secret"}
	called := false
	handler := auth.Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/statistics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
	assert.Contains(t, rec.Body.String(), "ValidationError")
}

func TestMiddleware_AcceptsValidToken(t *testing.T) {
	v := auth.StaticVerifier{Token: "secret"}
	var gotToken string
	handler := auth.Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := auth.TokenFromContext(r.Context())
		require.True(t, ok)
		gotToken = tok
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/statistics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "secret", gotToken)
}
