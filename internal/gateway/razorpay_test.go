package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CedrosPay/ledger/internal/config"
)

func newTestRazorpay(t *testing.T, handler http.HandlerFunc) *RazorpayClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRazorpayClientWithHTTP(config.GatewayConfig{
		Provider:  ProviderRazorpay,
		KeyID:     "rzp_test_key",
		KeySecret: "rzp_test_secret",
		BaseURL:   srv.URL + "/",
	}, srv.Client())
}

func TestRazorpayCreateOrder(t *testing.T) {
	client := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test_key" || pass != "rzp_test_secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		var body struct {
			Amount   int64             `json:"amount"`
			Currency string            `json:"currency"`
			Receipt  string            `json:"receipt"`
			Notes    map[string]string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Amount != 50000 || body.Currency != "INR" || body.Receipt != "PAY_abc" || body.Notes["userId"] != "u1" {
			t.Errorf("body = %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "order_123", "entity": "order", "amount": 50000, "currency": "INR",
			"receipt": "PAY_abc", "status": "created",
		})
	})

	order, err := client.CreateOrder(context.Background(), OrderRequest{
		AmountMinor: 50000, Currency: "INR", Receipt: "PAY_abc", Notes: map[string]string{"userId": "u1"},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ID != "order_123" || order.AmountMinor != 50000 || order.Receipt != "PAY_abc" {
		t.Fatalf("order = %+v", order)
	}
	if client.KeyID() != "rzp_test_key" || client.Provider() != "razorpay" {
		t.Fatal("unexpected key id or provider")
	}
}

func TestRazorpayErrorResponse(t *testing.T) {
	client := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount exceeds maximum"}}`))
	})

	_, err := client.CreateOrder(context.Background(), OrderRequest{AmountMinor: 1, Currency: "INR", Receipt: "r"})
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if gwErr.StatusCode != 400 || gwErr.Code != "BAD_REQUEST_ERROR" || gwErr.Retryable() {
		t.Fatalf("gwErr = %+v", gwErr)
	}
}

func TestRazorpayFetchPayment(t *testing.T) {
	client := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/pay_1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":"pay_1","order_id":"order_1","method":"upi","status":"captured"}`))
	})

	p, err := client.FetchPayment(context.Background(), "pay_1")
	if err != nil {
		t.Fatalf("FetchPayment: %v", err)
	}
	if p.Method != "upi" || p.Status != PaymentCaptured || p.OrderID != "order_1" {
		t.Fatalf("payment = %+v", p)
	}
}

func TestRazorpayFindOrderByReceipt(t *testing.T) {
	client := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("receipt") {
		case "PAY_found":
			_, _ = w.Write([]byte(`{"entity":"collection","count":1,"items":[{"id":"order_9","receipt":"PAY_found","amount":100,"currency":"INR"}]}`))
		default:
			_, _ = w.Write([]byte(`{"entity":"collection","count":0,"items":[]}`))
		}
	})

	order, err := client.FindOrderByReceipt(context.Background(), "PAY_found")
	if err != nil || order == nil || order.ID != "order_9" {
		t.Fatalf("found = %+v, %v", order, err)
	}

	order, err = client.FindOrderByReceipt(context.Background(), "PAY_missing")
	if err != nil || order != nil {
		t.Fatalf("missing = %+v, %v", order, err)
	}
}
