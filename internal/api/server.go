package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/funnel-studio/internal/config"
	"github.com/ignite/funnel-studio/internal/pkg/logger"
	"go.uber.org/zap"
)

// Server is the editor HTTP server.
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer builds the router for h.
func NewServer(cfg config.ServerConfig, h *Handlers) *Server {
	return &Server{
		config:  cfg,
		handler: SetupRoutes(h, cfg.AllowedOrigins),
	}
}

// ListenAndServe blocks until the server stops. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	writeTimeout := s.config.WriteTimeout()
	if writeTimeout <= 0 {
		writeTimeout = 60 * time.Second
	}
	errorLog, err := zap.NewStdLogAt(logger.Zap().Named("http"), zap.WarnLevel)
	if err != nil {
		return err
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          errorLog,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains open requests. Open editor sessions are not touched.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}
