package gateway

import (
	"context"
	"time"

	"github.com/CedrosPay/ledger/internal/circuitbreaker"
	"github.com/CedrosPay/ledger/internal/metrics"
)

// Resilient decorates a Client with a circuit breaker, a per-call timeout,
// retries for reads and call metrics. CreateOrder is never retried here: a
// lost response is recovered by the reconciliation sweep looking the order up
// by receipt.
type Resilient struct {
	inner    Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	timeout  time.Duration
	retry    retryPolicy
}

// ResilientConfig tunes Resilient.
type ResilientConfig struct {
	Timeout    time.Duration // per attempt
	MaxRetries int           // reads only
	BaseDelay  time.Duration
}

// NewResilient wraps inner.
func NewResilient(inner Client, breakers *circuitbreaker.Manager, m *metrics.Metrics, cfg ResilientConfig) *Resilient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	return &Resilient{
		inner:    inner,
		breakers: breakers,
		metrics:  m,
		timeout:  cfg.Timeout,
		retry:    retryPolicy{maxRetries: cfg.MaxRetries, baseDelay: cfg.BaseDelay},
	}
}

// Provider delegates to the wrapped client.
func (r *Resilient) Provider() string { return r.inner.Provider() }

// KeyID delegates to the wrapped client.
func (r *Resilient) KeyID() string { return r.inner.KeyID() }

// CreateOrder makes a single guarded attempt.
func (r *Resilient) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	return guarded(ctx, r, "create_order", func(ctx context.Context) (Order, error) {
		return r.inner.CreateOrder(ctx, req)
	})
}

// FetchPayment retries transient failures.
func (r *Resilient) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	return withRetry(ctx, r.retry, func(ctx context.Context) (Payment, error) {
		return guarded(ctx, r, "fetch_payment", func(ctx context.Context) (Payment, error) {
			return r.inner.FetchPayment(ctx, paymentID)
		})
	})
}

// FindOrderByReceipt retries transient failures.
func (r *Resilient) FindOrderByReceipt(ctx context.Context, receipt string) (*Order, error) {
	return withRetry(ctx, r.retry, func(ctx context.Context) (*Order, error) {
		return guarded(ctx, r, "find_order", func(ctx context.Context) (*Order, error) {
			return r.inner.FindOrderByReceipt(ctx, receipt)
		})
	})
}

// guarded runs one attempt behind the breaker with the per-call timeout.
func guarded[T any](ctx context.Context, r *Resilient, operation string, call func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	out, err := circuitbreaker.Do(r.breakers, circuitbreaker.ServiceGateway, func() (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return call(callCtx)
	})
	r.metrics.ObserveGatewayCall(r.inner.Provider(), operation, time.Since(start), err)
	return out, err
}
