package storage

import (
	"context"
	"time"

	"github.com/CedrosPay/ledger/internal/metrics"
)

// Instrumented records the latency of every store call under the backend label.
type Instrumented struct {
	Store
	metrics *metrics.Metrics
	backend string
}

// NewInstrumented wraps store. A nil collector returns store unchanged.
func NewInstrumented(store Store, m *metrics.Metrics, backend string) Store {
	if m == nil {
		return store
	}
	return &Instrumented{Store: store, metrics: m, backend: backend}
}

func (s *Instrumented) measure(operation string) func() {
	return metrics.MeasureDBQuery(s.metrics, operation, s.backend)
}

func (s *Instrumented) ReserveOrder(ctx context.Context, order PaymentOrder) error {
	defer s.measure("reserve_order")()
	return s.Store.ReserveOrder(ctx, order)
}

func (s *Instrumented) AttachGatewayOrder(ctx context.Context, referenceID, orderID string) (PaymentOrder, error) {
	defer s.measure("attach_gateway_order")()
	return s.Store.AttachGatewayOrder(ctx, referenceID, orderID)
}

func (s *Instrumented) ReleaseReservation(ctx context.Context, referenceID string) error {
	defer s.measure("release_reservation")()
	return s.Store.ReleaseReservation(ctx, referenceID)
}

func (s *Instrumented) GetByReferenceID(ctx context.Context, referenceID string) (PaymentOrder, error) {
	defer s.measure("get_by_reference")()
	return s.Store.GetByReferenceID(ctx, referenceID)
}

func (s *Instrumented) GetByOrderID(ctx context.Context, orderID string) (PaymentOrder, error) {
	defer s.measure("get_by_order")()
	return s.Store.GetByOrderID(ctx, orderID)
}

func (s *Instrumented) GetByIdempotencyKey(ctx context.Context, userID, key string) (PaymentOrder, error) {
	defer s.measure("get_by_idempotency_key")()
	return s.Store.GetByIdempotencyKey(ctx, userID, key)
}

func (s *Instrumented) ListByUser(ctx context.Context, userID string, skip, limit int) ([]PaymentOrder, error) {
	defer s.measure("list_by_user")()
	return s.Store.ListByUser(ctx, userID, skip, limit)
}

func (s *Instrumented) UpdateOrder(ctx context.Context, order PaymentOrder) (PaymentOrder, error) {
	defer s.measure("update_order")()
	return s.Store.UpdateOrder(ctx, order)
}

func (s *Instrumented) ListStaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]PaymentOrder, error) {
	defer s.measure("list_stale_reservations")()
	return s.Store.ListStaleReservations(ctx, olderThan, limit)
}
