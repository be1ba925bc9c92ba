package core

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"expenseterminal/internal/types"
)

func mountedServer(t *testing.T) (*Server, *recordingMetrics) {
	t.Helper()
	srv := newTestServer(t)
	m := &recordingMetrics{}
	srv.Metrics = m
	srv.Authenticator = &MockAuthenticator{Identity: &types.Identity{UserID: "user_1"}}
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := types.GetUserID(r.Context())
			JSON(w, r, http.StatusOK, APIResponse{Data: userID})
		})
	})
	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars, func(r chi.Router) {
		r.Post("/webhooks/test", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	if err := srv.MountRoutes(); err != nil {
		t.Fatalf("MountRoutes: %v", err)
	}
	return srv, m
}

func TestMountRoutes_HealthIsPublic(t *testing.T) {
	srv, _ := mountedServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("global middleware should assign a request id")
	}
}

func TestMountRoutes_PublicRegistrarSkipsAuth(t *testing.T) {
	srv, _ := mountedServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/test", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMountRoutes_V1RequiresAuth(t *testing.T) {
	srv, m := mountedServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/whoami", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer t")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != `{"data":"user_1"}` {
		t.Fatalf("authenticated status = %d, body = %s", rec.Code, rec.Body.String())
	}

	last := m.requests[len(m.requests)-1]
	if last.endpoint != "/v1/whoami" || last.status != http.StatusOK {
		t.Errorf("metrics = %+v", last)
	}
}

func TestMountRoutes_NotFoundAndMethod(t *testing.T) {
	srv, _ := mountedServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if d := decodeErrorBody(t, rec); d.Code != "not_found_route" {
		t.Errorf("code = %q", d.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestMountRoutes_PreflightBeforeAuth(t *testing.T) {
	srv, _ := mountedServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/whoami", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Errorf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRequestTimeout(t *testing.T) {
	srv := newTestServer(t)
	if got := srv.requestTimeout(); got != defaultRequestTimeout {
		t.Errorf("default = %v", got)
	}
	srv.Config.Server.WriteTimeout = 30 * time.Second
	if got := srv.requestTimeout(); got != 29*time.Second {
		t.Errorf("derived = %v, want 29s", got)
	}
}
