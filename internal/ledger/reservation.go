package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CedrosPay/ledger/internal/cacheutil"
	"github.com/CedrosPay/ledger/internal/events"
	"github.com/CedrosPay/ledger/internal/storage"
)

// Reservation resolutions.
const (
	ReservationAttached = "attached"
	ReservationReleased = "released"
	ReservationSkipped  = "skipped"
)

// StaleReservations lists reservations created before olderThan that never
// got a gateway order id.
func (s *Service) StaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]storage.PaymentOrder, error) {
	orders, err := s.store.ListStaleReservations(ctx, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list stale reservations: %w", ErrPersistence, err)
	}
	return orders, nil
}

// ResolveReservation settles one reservation against the gateway: if the
// gateway created an order for its receipt the order is attached, otherwise
// the reservation is released so the idempotency key can be used again.
func (s *Service) ResolveReservation(ctx context.Context, order storage.PaymentOrder) (action string, err error) {
	ctx, span := s.startSpan(ctx, "ResolveReservation")
	defer func() { endSpan(span, err) }()

	if !order.Reserved() {
		return ReservationSkipped, nil
	}

	found, err := s.gateway.FindOrderByReceipt(ctx, order.ReferenceID)
	if err != nil {
		return "", fmt.Errorf("%w: find order by receipt: %w", ErrGateway, err)
	}

	log := s.logger.With().Str("reference_id", order.ReferenceID).Logger()

	if found == nil {
		if err := s.store.ReleaseReservation(ctx, order.ReferenceID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ReservationSkipped, nil
			}
			return "", fmt.Errorf("%w: release reservation: %w", ErrPersistence, err)
		}
		s.invalidateHistory(ctx, order.UserID)
		log.Info().Msg("reconcile.reservation_released")
		return ReservationReleased, nil
	}

	attached, err := cacheutil.WriteThrough(ctx,
		func(ctx context.Context) (storage.PaymentOrder, error) {
			return s.store.AttachGatewayOrder(ctx, order.ReferenceID, found.ID)
		},
		s.invalidateOrderHistory,
	)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrVersionConflict) {
			return ReservationSkipped, nil
		}
		return "", fmt.Errorf("%w: attach gateway order: %w", ErrPersistence, err)
	}
	s.publish(ctx, events.TypePaymentCreated, attached, "", SourceReconcile)
	log.Info().Str("order_id", found.ID).Msg("reconcile.reservation_attached")
	return ReservationAttached, nil
}
