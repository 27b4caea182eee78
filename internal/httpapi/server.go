// Package httpapi exposes ingestion, outbound, and inbox operations over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/edgard/liveinbox/internal/database"
	"github.com/edgard/liveinbox/internal/inbox"
	"github.com/edgard/liveinbox/internal/ingest"
	"github.com/edgard/liveinbox/internal/logger"
	"github.com/edgard/liveinbox/internal/outbound"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Deps are the services behind the HTTP routes. Outbound may be nil when
// LiveConnect credentials are not configured; its routes then answer 503.
type Deps struct {
	Logger   *slog.Logger
	Store    database.Store
	Ingest   *ingest.Service
	Outbound *outbound.Service
	Inbox    *inbox.Inbox
}

// Server is the HTTP front of the application.
type Server struct {
	deps   Deps
	logger *slog.Logger
	srv    *http.Server
}

// Options control the listener.
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// NewServer builds the server and its routes.
func NewServer(deps Deps, opts Options) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		deps:   deps,
		logger: log.With("component", "http"),
	}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}
	return s
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)
	return logger.Middleware(s.logger)(mux)
}

// Run serves until ctx is cancelled, then shuts down within shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server stopped unexpectedly: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutdown signal received, stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Error during HTTP server shutdown", "error", err)
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped gracefully.")
	return nil
}
