package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"expenseterminal/internal/config"
	"expenseterminal/internal/core"
)

func TestEndpointOverride(t *testing.T) {
	type opts struct{ endpoint *string }
	set := func(o *opts, u *string) { o.endpoint = u }

	var o opts
	endpointOverride(config.AWSConfig{}, set)(&o)
	if o.endpoint != nil {
		t.Errorf("endpoint = %v, want unset", *o.endpoint)
	}

	endpointOverride(config.AWSConfig{EndpointURL: "http://localhost:4566"}, set)(&o)
	if o.endpoint == nil || *o.endpoint != "http://localhost:4566" {
		t.Errorf("endpoint = %v", o.endpoint)
	}
}

func TestLimiterSweepIntervalBelowIdleTTL(t *testing.T) {
	if limiterSweepInterval >= 10*time.Minute {
		t.Errorf("sweep interval %s would let idle buckets pile up", limiterSweepInterval)
	}
}

// TestServeStopsOnCancel checks that serve returns cleanly once its context
// is canceled.
func TestServeStopsOnCancel(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("PORT", "0")
	t.Setenv("DASHBOARD_URL", "http://localhost:3000")
	t.Setenv("DATABASE_URL", "postgres://app:pw@localhost:5432/expenses?sslmode=disable")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_dummy")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_dummy")
	t.Setenv("AUTH_JWT_SECRET", "local-dev-secret-minimum-32-characters")

	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(httptest.NewRecorder(), nil))

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.MountRoutes(); err != nil {
		t.Fatalf("MountRoutes: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv, cfg, logger) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d", rec.Code)
	}
}
