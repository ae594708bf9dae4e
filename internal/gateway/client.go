// Package gateway talks to the external payment gateway: it creates orders,
// fetches payments, and verifies the HMAC signatures the gateway attaches to
// checkout callbacks and webhooks.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/CedrosPay/ledger/internal/config"
)

// Provider names.
const (
	ProviderRazorpay = "razorpay"
	ProviderStripe   = "stripe"
)

// Gateway payment statuses as reported by FetchPayment and webhooks.
const (
	PaymentCreated    = "created"
	PaymentAuthorized = "authorized"
	PaymentCaptured   = "captured"
	PaymentFailed     = "failed"
	PaymentRefunded   = "refunded"
)

// OrderRequest creates a gateway order. Receipt is our reference id and lets
// an order be found again if we never learned its id.
type OrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// Order is a gateway order.
type Order struct {
	ID          string
	Receipt     string
	Status      string
	AmountMinor int64
	Currency    string
}

// Payment is a payment attempt against a gateway order.
type Payment struct {
	ID      string
	OrderID string
	Method  string // card, netbanking, upi, wallet, emandate, ...
	Status  string
}

// Client is the gateway surface the ledger depends on.
type Client interface {
	// Provider is the value stored as the order's payment gateway.
	Provider() string
	// KeyID is the public key handed to checkout clients. Never the secret.
	KeyID() string
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	FetchPayment(ctx context.Context, paymentID string) (Payment, error)
	// FindOrderByReceipt returns nil, nil when no order carries the receipt.
	FindOrderByReceipt(ctx context.Context, receipt string) (*Order, error)
}

// Error is a non-2xx answer from the gateway.
type Error struct {
	Provider    string
	StatusCode  int
	Code        string
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s: http %d %s", e.Provider, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s: http %d %s: %s", e.Provider, e.StatusCode, e.Code, e.Description)
}

// Retryable reports whether the same request may succeed later.
func (e *Error) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// New builds the configured provider client. The result is not wrapped in
// Resilient; callers do that with their breaker manager.
func New(cfg config.GatewayConfig) (Client, error) {
	switch cfg.Provider {
	case "", ProviderRazorpay:
		return NewRazorpayClient(cfg), nil
	case ProviderStripe:
		return NewStripeClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown gateway provider: %s", cfg.Provider)
	}
}
