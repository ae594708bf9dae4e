package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/ledger/internal/auth"
	"github.com/CedrosPay/ledger/internal/cache"
	"github.com/CedrosPay/ledger/internal/config"
	"github.com/CedrosPay/ledger/internal/ledger"
	"github.com/CedrosPay/ledger/internal/storage"
)

// TestRoutePrefix verifies every route moves under the configured prefix and
// that each route is guarded the way it should be.
func TestRoutePrefix(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{RoutePrefix: "/api", AdminAPIKey: testAdminKey},
		Auth:   config.AuthConfig{CreateRoles: []string{"USER"}, AdminRole: "ADMIN"},
	}
	store := storage.NewMemoryStore()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	safe := cache.NewSafe(mc, cache.DefaultTTLs, time.Second, zerolog.Nop(), nil)
	svc := ledger.NewService(ledger.Config{}, ledger.Deps{
		Store:   store,
		Gateway: &stubGateway{},
		Cache:   safe,
		Logger:  zerolog.Nop(),
	})

	router := chi.NewRouter()
	ConfigureRouter(router, cfg, Deps{
		Ledger:   svc,
		Verifier: auth.NewVerifier(testJWTSecret, ""),
		Cache:    safe,
		Store:    store,
		Logger:   zerolog.Nop(),
	})

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"health_under_prefix", "GET", "/api/healthz", http.StatusOK},
		{"health_without_prefix", "GET", "/healthz", http.StatusNotFound},
		{"create_requires_token", "POST", "/api/payments/create", http.StatusUnauthorized},
		{"status_requires_token", "GET", "/api/payments/status/PAY_1", http.StatusUnauthorized},
		{"history_requires_token", "GET", "/api/payments/paymenthistory/U1", http.StatusUnauthorized},
		{"verify_is_public", "POST", "/api/payments/verify", http.StatusBadRequest},
		{"webhook_is_signature_scoped", "POST", "/api/payments/webhook/razorpay", http.StatusBadRequest},
		{"admin_requires_key", "DELETE", "/api/admin/cache/user", http.StatusUnauthorized},
		{"metrics_requires_key", "GET", "/api/metrics", http.StatusUnauthorized},
		{"wrong_method", "GET", "/api/payments/create", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s: expected %d, got %d (%s)", tt.method, tt.path, tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}
