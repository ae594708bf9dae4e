package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareSetsRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Service: "ledger", Output: &buf})

	var seen string
	h := Middleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		reqLog := FromContext(r.Context())
		reqLog.Info().Msg("inside")
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodGet, "/payments/status/abc", nil)
	req.Header.Set("X-Request-ID", "req_fixed")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "req_fixed" {
		t.Fatalf("request id in context = %q, want req_fixed", seen)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req_fixed" {
		t.Fatalf("response header = %q", got)
	}

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	var completed map[string]any
	if err := json.Unmarshal(lines[1], &completed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if completed["message"] != "request.completed" || completed["status"] != float64(http.StatusCreated) {
		t.Fatalf("unexpected completion line: %v", completed)
	}
	if completed["request_id"] != "req_fixed" {
		t.Fatalf("completion line missing request id: %v", completed)
	}
}

func TestFromContextWithoutLogger(t *testing.T) {
	log := FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	// Nop logger must not panic.
	log.Info().Msg("dropped")
}

func TestMaskID(t *testing.T) {
	tests := map[string]string{
		"pay_123":                "pay_123",
		"pay_29QQoUBi66xm2f":     "pay_29...xm2f",
		"order_DBJOWzybf0sJbb00": "order_...bb00",
	}
	for in, want := range tests {
		if got := MaskID(in); got != want {
			t.Errorf("MaskID(%q) = %q, want %q", in, got, want)
		}
	}
}
