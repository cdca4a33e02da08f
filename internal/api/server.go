package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pulseboard/adinsights/internal/config"
	"github.com/pulseboard/adinsights/internal/pkg/logger"
)

// Server wraps the operator API's HTTP server.
type Server struct {
	server *http.Server
}

// NewServer builds the HTTP server around the configured handlers.
func NewServer(cfg config.ServerConfig, h *Handlers) *Server {
	router := SetupRoutes(h, cfg.AllowedOrigins)
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logger.Info("operator api listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
