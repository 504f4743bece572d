package auth

import (
	"context"
	"net/http"

	"github.com/agenttraffic/core/internal/timeoutcfg"
)

// TimeoutMiddleware applies the unary request deadline from cfg to any
// incoming request context that does not already carry one, per spec
// §5's 10s-unary-deadline default. Fan-out operations set their own,
// longer deadline explicitly and are unaffected once their handler
// derives a fresh context.
func TimeoutMiddleware(cfg *timeoutcfg.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Deadline(); ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), cfg.UnaryTimeout())
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
