package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdminMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		header   string
		expected int
	}{
		{"open when unset", "", "", http.StatusOK},
		{"valid key", "admin_secret", "admin_secret", http.StatusOK},
		{"valid key with spaces", "admin_secret", "  admin_secret ", http.StatusOK},
		{"missing key", "admin_secret", "", http.StatusUnauthorized},
		{"wrong key", "admin_secret", "admin_secreT", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("DELETE", "/admin/cache/user", nil)
			if tt.header != "" {
				req.Header.Set(AdminKeyHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			AdminMiddleware(tt.key)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})).ServeHTTP(rec, req)

			if rec.Code != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, rec.Code)
			}
		})
	}
}

func TestTagAdmin(t *testing.T) {
	var tagged bool
	handler := TagAdmin("admin_secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tagged = IsAdminRequest(r)
	}))

	req := httptest.NewRequest("GET", "/payments/status/PAY_1", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if tagged {
		t.Error("request without key should not be tagged")
	}

	req.Header.Set(AdminKeyHeader, "admin_secret")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !tagged {
		t.Error("request with key should be tagged")
	}

	// An unset key never tags.
	var taggedOpen bool
	TagAdmin("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		taggedOpen = IsAdminRequest(r)
	})).ServeHTTP(httptest.NewRecorder(), req)
	if taggedOpen {
		t.Error("empty admin key must not tag requests")
	}
}
