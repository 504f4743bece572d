package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttraffic/core/internal/auth"
	"github.com/agenttraffic/core/internal/timeoutcfg"
)

func TestTimeoutMiddleware_InjectsDeadlineWhenAbsent(t *testing.T) {
	cfg := timeoutcfg.New()
	var sawDeadline bool
	handler := auth.TimeoutMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawDeadline = r.Context().Deadline()
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/statistics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, sawDeadline)
}

func TestTimeoutMiddleware_PreservesExistingDeadline(t *testing.T) {
	cfg := timeoutcfg.New()
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(time.Minute))
	defer cancel()

	var gotDeadline time.Time
	handler := auth.TimeoutMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, ok := r.Context().Deadline()
		require.True(t, ok)
		gotDeadline = d
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/statistics", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	wantDeadline, _ := ctx.Deadline()
	assert.Equal(t, wantDeadline, gotDeadline)
}
