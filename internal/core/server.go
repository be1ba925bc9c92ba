// Package core provides the API chassis for ExpenseTerminal: a chi router
// with the cross-cutting middleware (recovery, request ids, logging, CORS,
// compression, metrics, bearer auth, per-user rate limits) applied before
// requests reach the domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"expenseterminal/internal/config"
	"expenseterminal/internal/metrics"
)

// RouteRegistrar mounts a handler group onto a router.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies shared by every request.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       metrics.Recorder
	Authenticator Authenticator
	Limiter       *UserRateLimiter
	HealthProbes  []HealthProbe

	// V1RouteRegistrars are mounted under /v1 behind auth and rate limiting.
	V1RouteRegistrars []RouteRegistrar
	// PublicRouteRegistrars are mounted at the root without auth. The Stripe
	// webhook lives here; it authenticates by signature instead.
	PublicRouteRegistrars []RouteRegistrar

	router *chi.Mux

	mu         sync.Mutex
	onShutdown []func()
}

// NewServer validates the required dependencies and prepares an empty
// router. Callers populate the registrars, then call MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		Metrics:   metrics.NoopRecorder{},
		Limiter:   NewUserRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the underlying mux for tests that mount ad-hoc routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// RegisterOnShutdown adds fn to the functions run by Shutdown, in reverse
// registration order.
func (s *Server) RegisterOnShutdown(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onShutdown = append(s.onShutdown, fn)
}

// Shutdown releases server-owned resources such as the database pool. It
// does not stop the HTTP listener; the caller owns that.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	s.mu.Lock()
	fns := s.onShutdown
	s.onShutdown = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}()

	select {
	case <-done:
		s.Logger.InfoContext(ctx, "server shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown hooks did not finish: %w", ctx.Err())
	}
}
