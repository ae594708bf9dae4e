package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/CedrosPay/ledger/internal/auth"
	"github.com/CedrosPay/ledger/internal/metrics"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.GlobalEnabled {
		t.Error("Expected global rate limiting to be enabled by default")
	}
	if cfg.GlobalLimit != 1000 {
		t.Errorf("Expected global limit 1000, got %d", cfg.GlobalLimit)
	}
	if !cfg.PerUserEnabled {
		t.Error("Expected per-user rate limiting to be enabled by default")
	}
	if cfg.PerUserLimit != 60 {
		t.Errorf("Expected per-user limit 60, got %d", cfg.PerUserLimit)
	}
	if !cfg.PerIPEnabled {
		t.Error("Expected per-IP rate limiting to be enabled by default")
	}
}

func TestGlobalLimiter_Disabled(t *testing.T) {
	handler := GlobalLimiter(Config{GlobalEnabled: false})(okHandler)

	// Should allow unlimited requests when disabled
	for i := 0; i < 100; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestGlobalLimiter_EnforcesLimit(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	handler := GlobalLimiter(Config{
		GlobalEnabled: true,
		GlobalLimit:   5,
		GlobalWindow:  time.Minute,
		Metrics:       m,
	})(okHandler)

	// First 5 requests should succeed, from any IP
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "10.0.0." + string(rune('1'+i)) + ":1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i, w.Code)
		}
	}

	// 6th request should be rate limited
	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 after limit exceeded, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Expected Retry-After 60, got %q", w.Header().Get("Retry-After"))
	}

	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code      string `json:"code"`
			Retryable bool   `json:"retryable"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Error.Code != "rate_limit_exceeded" || !body.Error.Retryable {
		t.Errorf("Unexpected body: %+v", body)
	}
	if got := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues(LimitGlobal)); got != 1 {
		t.Errorf("Expected 1 rate limit hit, got %v", got)
	}
}

func TestUserLimiter_PerUserLimit(t *testing.T) {
	handler := UserLimiter(Config{
		PerUserEnabled: true,
		PerUserLimit:   3,
		PerUserWindow:  time.Minute,
	})(okHandler)

	send := func(user, ip string) int {
		req := httptest.NewRequest("GET", "/payments/status/PAY_1", nil)
		req.RemoteAddr = ip
		if user != "" {
			req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{ID: user, Role: "USER"}))
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	// The same user from different IPs shares one bucket
	for i := 0; i < 3; i++ {
		if code := send("U1", "10.0.0."+string(rune('1'+i))+":1"); code != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i, code)
		}
	}
	if code := send("U1", "10.0.0.9:1"); code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 for U1, got %d", code)
	}

	// Another user is unaffected
	if code := send("U2", "10.0.0.1:1"); code != http.StatusOK {
		t.Errorf("Expected 200 for U2, got %d", code)
	}

	// No principal: keyed by IP
	for i := 0; i < 3; i++ {
		send("", "192.168.1.5:1")
	}
	if code := send("", "192.168.1.5:1"); code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 for anonymous IP, got %d", code)
	}
}

func TestIPLimiter_EnforcesLimit(t *testing.T) {
	handler := IPLimiter(Config{
		PerIPEnabled: true,
		PerIPLimit:   3,
		PerIPWindow:  time.Minute,
	})(okHandler)

	ip := "192.168.1.100:54321"

	// First 3 requests should succeed
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/payments/verify", nil)
		req.RemoteAddr = ip
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i, w.Code)
		}
	}

	// 4th request should be rate limited
	req := httptest.NewRequest("POST", "/payments/verify", nil)
	req.RemoteAddr = ip
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after IP limit, got %d", w.Code)
	}

	// Different IP should not be affected
	req = httptest.NewRequest("POST", "/payments/verify", nil)
	req.RemoteAddr = "192.168.1.101:54321"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Different IP: Expected 200, got %d", w.Code)
	}
}

func TestAdminRequestsAreExempt(t *testing.T) {
	handler := auth.TagAdmin("admin_secret")(IPLimiter(Config{
		PerIPEnabled: true,
		PerIPLimit:   1,
		PerIPWindow:  time.Minute,
	})(okHandler))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("DELETE", "/admin/cache/user", nil)
		req.RemoteAddr = "10.1.1.1:1"
		req.Header.Set(auth.AdminKeyHeader, "admin_secret")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Admin request %d: expected 200, got %d", i, w.Code)
		}
	}
}
