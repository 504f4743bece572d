// Package server wires the Traffic Controller's HTTP surface together:
// the controller's endpoint handlers, the Prometheus metrics endpoint,
// and the middleware chain (shutdown guard, metrics, logging, auth,
// timeout), then drives graceful shutdown the way the teacher's hub
// server does.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agenttraffic/core/internal/auth"
	"github.com/agenttraffic/core/internal/controller"
	"github.com/agenttraffic/core/internal/logging"
	"github.com/agenttraffic/core/internal/metrics"
	"github.com/agenttraffic/core/internal/timeoutcfg"
)

// Config holds the listen address and collaborators needed to build a
// Server.
type Config struct {
	Addr     string
	Verifier auth.Verifier
	Timeouts *timeoutcfg.Config
}

// Server is the Traffic Controller's HTTP listener.
type Server struct {
	addr   string
	guard  *auth.ShutdownGuard
	server *http.Server
}

// New builds a Server around a Controller, applying the middleware
// chain outermost-first: shutdown rejection, then metrics, then
// request logging, then bearer-token auth, then the per-request
// deadline. Aggregate endpoints (statistics, roster) benefit from
// gzhttp's response compression; control endpoints pay its overhead
// too, but spec §9 does not distinguish large from small responses at
// the transport level.
func New(cfg Config, ctrl *controller.Controller) (*Server, error) {
	guard := &auth.ShutdownGuard{}

	mux := http.NewServeMux()
	mux.Handle("/", ctrl.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(1024))
	if err != nil {
		return nil, fmt.Errorf("build compression wrapper: %w", err)
	}
	compressed := wrap(mux)

	chain := auth.TimeoutMiddleware(cfg.Timeouts)(compressed)
	chain = auth.Middleware(cfg.Verifier)(chain)
	chain = logging.HTTPMiddleware(chain)
	chain = metrics.HTTPMiddleware(chain)
	chain = auth.ShutdownMiddleware(guard)(chain)

	return &Server{
		addr:  cfg.Addr,
		guard: guard,
		server: &http.Server{
			Handler:           chain,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Serve listens on the configured address and blocks until ctx is
// cancelled, at which point it stops accepting new requests and drains
// in-flight ones with a bounded grace period.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		slog.Info("traffic controller shutting down...")
		s.guard.Begin()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)

		close(shutdownDone)
	}()

	slog.Info("traffic controller listening", "addr", s.addr)
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	<-shutdownDone
	return nil
}
