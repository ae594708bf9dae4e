package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/ledger/internal/auth"
	"github.com/CedrosPay/ledger/internal/config"
	"github.com/CedrosPay/ledger/internal/gateway"
)

type stubGateway struct{}

func (stubGateway) Provider() string { return gateway.ProviderRazorpay }
func (stubGateway) KeyID() string    { return "rzp_test_key" }

func (stubGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (gateway.Order, error) {
	return gateway.Order{ID: "order_app_1", Receipt: req.Receipt, AmountMinor: req.AmountMinor, Currency: req.Currency}, nil
}

func (stubGateway) FetchPayment(_ context.Context, id string) (gateway.Payment, error) {
	return gateway.Payment{ID: id, Method: "upi", Status: gateway.PaymentCaptured}, nil
}

func (stubGateway) FindOrderByReceipt(context.Context, string) (*gateway.Order, error) {
	return nil, nil
}

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("LEDGER_STORAGE_BACKEND", "memory")
	t.Setenv("LEDGER_CACHE_BACKEND", "memory")
	t.Setenv("LEDGER_GATEWAY_KEY_ID", "rzp_test_key")
	t.Setenv("LEDGER_GATEWAY_KEY_SECRET", "secret")
	t.Setenv("LEDGER_GATEWAY_WEBHOOK_SECRET", "whsec")
	t.Setenv("LEDGER_JWT_SECRET", "jwt")
	t.Setenv("LEDGER_RECONCILE_ENABLED", "false")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithGateway(stubGateway{}), WithLogger(zerolog.Nop())}, opts...)
	a, err := New(loadConfig(t), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestAppServesPaymentFlow(t *testing.T) {
	a := newTestApp(t)
	a.Start()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}

	token, err := auth.NewVerifier("jwt", "").Issue(auth.Principal{ID: "U1", Role: "USER"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	body := `{"amount": 500, "currency": "INR", "providerId": "P1", "serviceType": "CONSULTATION", "idempotencyKey": "K1"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/create", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}

	var out struct {
		Data struct {
			ReferenceID string `json:"referenceId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := a.Store.GetByReferenceID(context.Background(), out.Data.ReferenceID); err != nil {
		t.Fatalf("order not stored: %v", err)
	}
}

func TestAppMetricsIncludeRuntimeCollectors(t *testing.T) {
	a := newTestApp(t)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatal("go collector not registered")
	}
}

func TestWithRouterMountsRoutes(t *testing.T) {
	router := chi.NewRouter()
	a := newTestApp(t, WithRouter(router))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz on external router = %d", rec.Code)
	}
	if err := a.ListenAndServe(); err == nil {
		t.Fatal("ListenAndServe should refuse an external router")
	}
}

func TestTracingInstallsProvider(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Tracing.Enabled = true
	cfg.Tracing.SampleRatio = 1
	a, err := New(cfg, WithGateway(stubGateway{}), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
