package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout is the soft deadline placed on request contexts.
// It sits under the HTTP write timeout so handlers see cancellation before
// the connection is cut.
const defaultRequestTimeout = 25 * time.Second

// MountRoutes installs the middleware chain and every route group.
//
// Order:
//  1. Recoverer        outermost, catches everything below
//  2. ContextTimeout
//  3. RequestID
//  4. SecurityHeaders
//  5. RequestLogger
//  6. CORS             answers preflight before auth
//  7. Compress
//  8. Metrics
//
// /v1 additionally runs AuthMiddleware then RateLimit.
func (s *Server) MountRoutes() error {
	compress, err := Compress()
	if err != nil {
		return fmt.Errorf("building gzip middleware: %w", err)
	}

	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(compress)
	s.router.Use(s.MetricsMiddleware)

	s.router.Get("/health", s.HandleHealth)
	for _, register := range s.PublicRouteRegistrars {
		register(s.router)
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(s.AuthMiddleware)
		r.Use(s.RateLimit)
		for _, register := range s.V1RouteRegistrars {
			register(r)
		}
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, r, http.StatusNotFound, APIErrorResponse{Error: ErrorDetail{
			Code:    "not_found_route",
			Message: "no route for " + r.Method + " " + r.URL.Path,
		}})
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, r, http.StatusMethodNotAllowed, APIErrorResponse{Error: ErrorDetail{
			Code:    "method_not_allowed",
			Message: r.Method + " is not supported for " + r.URL.Path,
		}})
	})
	return nil
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.WriteTimeout > time.Second {
		return s.Config.Server.WriteTimeout - time.Second
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware places a deadline on the request context.
func ContextTimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
