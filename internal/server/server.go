// Package server exposes the estimation engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantfold/tradecost/internal/domain"
	"github.com/quantfold/tradecost/internal/server/handler"
	"github.com/quantfold/tradecost/internal/server/middleware"
	"github.com/quantfold/tradecost/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per window per client IP, 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Estimates *handler.EstimateHandler
	Books     *handler.BookHandler
	Status    *handler.StatusHandler
}

// Server is the headless HTTP + WebSocket API for the cost estimation
// engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. limiter
// and wsHub may be nil; rate limiting and the /ws endpoint are then skipped.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Estimation.
	mux.HandleFunc("POST /api/estimates", handlers.Estimates.CreateEstimate)
	mux.HandleFunc("GET /api/estimates", handlers.Estimates.ListEstimates)
	mux.HandleFunc("GET /api/estimates/{id}", handlers.Estimates.GetEstimate)

	// Order book views.
	mux.HandleFunc("GET /api/books", handlers.Books.ListBooks)
	mux.HandleFunc("GET /api/books/{symbol}", handlers.Books.GetBook)

	// Runtime and model status.
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
