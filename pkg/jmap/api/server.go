// Package api is the HTTP transport for the JMAP engine: it decodes a
// posted call list, hands it to the dispatcher, and writes the response
// triples back, mirroring the request's shape.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/jmapd/internal/logger"
	"github.com/marmos91/jmapd/pkg/jmap"
)

// Server provides the JMAP-over-HTTP server.
//
// The server supports graceful shutdown with a fixed timeout.
type Server struct {
	server       *http.Server
	config       APIConfig
	metrics      *Metrics
	shutdownOnce sync.Once
}

// NewServer creates a new JMAP HTTP server.
//
// The server is created in a stopped state. Call Start() to begin
// serving requests. configure may be nil; without it every request runs
// unauthenticated with no default account.
func NewServer(config APIConfig, engine *jmap.Engine, configure ContextConfigurer) *Server {
	config.applyDefaults()

	var metrics *Metrics
	if config.MetricsEnabled {
		metrics = NewMetrics()
	}
	router := NewRouter(engine, config, metrics, configure)

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      router,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		config:  config,
		metrics: metrics,
	}
}

// Start starts the HTTP server and blocks until the context is
// cancelled or an error occurs. Cancellation triggers graceful
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("JMAP server listening", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("JMAP server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("JMAP server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. It is safe to call multiple times
// and concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("JMAP server shutdown error: %w", err)
			logger.Error("JMAP server shutdown error", "error", err)
		} else {
			logger.Info("JMAP server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is configured to listen on.
func (s *Server) Port() int {
	return s.config.Port
}
