package auth

import (
	"net/http"
	"sync/atomic"
)

// ShutdownGuard tracks whether the server is draining. Once Begin is
// called, ShutdownMiddleware rejects all new requests so that
// http.Server.Shutdown can drain in-flight work without racing new
// arrivals.
type ShutdownGuard struct {
	draining atomic.Bool
}

// Begin marks the guard as draining. Idempotent.
func (g *ShutdownGuard) Begin() {
	g.draining.Store(true)
}

// Draining reports whether Begin has been called.
func (g *ShutdownGuard) Draining() bool {
	return g.draining.Load()
}

// ShutdownMiddleware rejects new requests with 503 once the guard is
// draining, letting already-admitted requests finish normally.
func ShutdownMiddleware(g *ShutdownGuard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.Draining() {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Connection", "close")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":{"kind":"Unreachable","message":"server is shutting down"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
