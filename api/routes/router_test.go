package routes

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/littleweaver/brambling/pkg/config"
	"github.com/littleweaver/brambling/pkg/logger"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.Issuer = "brambling"
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})
	return NewRouter(cfg, logg, Deps{})
}

func TestHealthLive(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env := rec.Header().Get("X-Brambling-Env"); env != "test" {
		t.Fatalf("expected env header, got %q", env)
	}
}

func TestAdminRoutesRequireCredentials(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/spring-fling/admin/transactions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous admin request, got %d", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
