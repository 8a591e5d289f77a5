package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/melo-gateway/internal/config"
	"golang.org/x/time/rate"
)

// Server is the HTTP front of the gateway.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// New assembles the router, middleware chain, and http.Server from the
// configuration.
func New(cfg *config.Config, handler *Handler, log *logger.Logger) *Server {
	limiter := newLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port),
		Handler:           NewRouter(handler, limiter, log),
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		log:        log,
	}
}

// NewRouter registers the endpoints and wraps them in the middleware chain.
// A nil limiter disables rate limiting.
func NewRouter(handler *Handler, limiter *rate.Limiter, log *logger.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handler.handleHealthz)
	mux.HandleFunc("GET /voices", handler.handleVoices)
	mux.HandleFunc("POST /synthesize", handler.handleSynthesize)

	var root http.Handler = mux
	root = recoveryMiddleware(log, root)
	root = loggingMiddleware(log, root)
	root = rateLimitMiddleware(limiter, root)
	root = requestIDMiddleware(root)

	return root
}

// ListenAndServe blocks serving requests until Shutdown is called or the
// listener fails.
func (s *Server) ListenAndServe() error {
	s.log.System("melo-gateway listening on %s", s.httpServer.Addr)

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}

	return nil
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}

	return rate.NewLimiter(rate.Limit(rps), burst)
}
