// Package server runs one HTTP listener per service role. Ingress, admin and
// worker share the middleware chain and differ only in their route tables.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
)

// Server manages one HTTP listener.
type Server struct {
	name   string
	server *http.Server
	logger arbor.ILogger
}

// New creates a named HTTP server around the given route table.
func New(name, host string, port int, routes http.Handler, logger arbor.ILogger) *Server {
	s := &Server{
		name:   name,
		logger: logger,
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.withMiddleware(routes),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info().
		Str("service", s.name).
		Str("address", s.server.Addr).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("%s server failed: %w", s.name, err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Str("service", s.name).Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s server shutdown failed: %w", s.name, err)
	}

	s.logger.Info().Str("service", s.name).Msg("HTTP server stopped")
	return nil
}
