package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CedrosPay/ledger/internal/cacheutil"
	apierrors "github.com/CedrosPay/ledger/internal/errors"
	"github.com/CedrosPay/ledger/internal/events"
	"github.com/CedrosPay/ledger/internal/logger"
	"github.com/CedrosPay/ledger/internal/money"
	"github.com/CedrosPay/ledger/internal/storage"
)

// Update sources recorded on events and metrics.
const (
	SourceAPI       = "api"
	SourceVerify    = "verify"
	SourceWebhook   = "webhook"
	SourceReconcile = "reconcile"
)

// transitions lists the statuses reachable from each status.
var transitions = map[storage.PaymentStatus][]storage.PaymentStatus{
	storage.StatusPending: {storage.StatusSuccess, storage.StatusFailed, storage.StatusRefunded},
	storage.StatusFailed:  {storage.StatusSuccess},
	storage.StatusSuccess: {storage.StatusRefunded},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to storage.PaymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusUpdate carries a new status and the optional fields that come with it.
type StatusUpdate struct {
	Status       storage.PaymentStatus
	Method       storage.PaymentMethod
	PaymentID    string
	Signature    string
	RefundStatus storage.RefundStatus
	Source       string
}

// StatusView is the public projection of one order.
type StatusView struct {
	ReferenceID    string                `json:"referenceId"`
	UserID         string                `json:"userId"`
	ProviderID     string                `json:"providerId"`
	ServiceType    storage.ServiceType   `json:"serviceType"`
	Amount         money.Money           `json:"amount"`
	Currency       string                `json:"currency"`
	PaymentGateway string                `json:"paymentGateway"`
	PaymentMethod  storage.PaymentMethod `json:"paymentMethod"`
	Status         storage.PaymentStatus `json:"status"`
	RefundStatus   storage.RefundStatus  `json:"refundStatus"`
	Description    string                `json:"description,omitempty"`
	Notes          map[string]string     `json:"notes,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

// GetPaymentStatus returns the status projection of one order.
func (s *Service) GetPaymentStatus(ctx context.Context, referenceID string) (view StatusView, err error) {
	ctx, span := s.startSpan(ctx, "GetPaymentStatus")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(referenceID) == "" {
		return StatusView{}, missing("referenceId")
	}
	order, err := s.loadOrder(ctx, referenceID)
	if err != nil {
		return StatusView{}, err
	}
	return statusView(order), nil
}

func (s *Service) loadOrder(ctx context.Context, referenceID string) (storage.PaymentOrder, error) {
	order, err := s.store.GetByReferenceID(ctx, referenceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.PaymentOrder{}, ErrNotFound
		}
		return storage.PaymentOrder{}, fmt.Errorf("%w: get order: %w", ErrPersistence, err)
	}
	return order, nil
}

func statusView(o storage.PaymentOrder) StatusView {
	return StatusView{
		ReferenceID:    o.ReferenceID,
		UserID:         o.UserID,
		ProviderID:     o.ProviderID,
		ServiceType:    o.ServiceType,
		Amount:         o.Amount(),
		Currency:       o.Currency,
		PaymentGateway: o.Gateway,
		PaymentMethod:  o.Method,
		Status:         o.Status,
		RefundStatus:   o.RefundStatus,
		Description:    o.Description,
		Notes:          o.Notes,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

// UpdatePaymentStatus applies a status change to the order with referenceID.
func (s *Service) UpdatePaymentStatus(ctx context.Context, referenceID string, upd StatusUpdate) (order *storage.PaymentOrder, err error) {
	ctx, span := s.startSpan(ctx, "UpdatePaymentStatus")
	defer func() { endSpan(span, err) }()
	start := s.now()
	defer func() { s.metrics.ObserveOperation("update_status", time.Since(start), err) }()

	if strings.TrimSpace(referenceID) == "" {
		return nil, missing("referenceId")
	}
	writeCtx, cancel := s.writeContext(ctx)
	defer cancel()

	updated, err := s.applyUpdate(writeCtx, upd, func(ctx context.Context) (storage.PaymentOrder, error) {
		return s.store.GetByReferenceID(ctx, referenceID)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// applyUpdate runs a read-modify-write of one order, retrying when a
// concurrent writer bumped the version first.
func (s *Service) applyUpdate(ctx context.Context, upd StatusUpdate, load func(context.Context) (storage.PaymentOrder, error)) (storage.PaymentOrder, error) {
	if !upd.Status.Valid() {
		return storage.PaymentOrder{}, invalid("status", apierrors.ErrCodeInvalidField, fmt.Sprintf("unknown status %q", upd.Status))
	}
	if upd.Source == "" {
		upd.Source = SourceAPI
	}

	log := logger.FromContext(ctx)
	for attempt := 0; attempt < s.cfg.UpdateRetries; attempt++ {
		current, err := load(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return storage.PaymentOrder{}, ErrNotFound
			}
			return storage.PaymentOrder{}, fmt.Errorf("%w: load order: %w", ErrPersistence, err)
		}

		previous := current.Status
		next := current.Clone()
		changed, err := applyStatus(&next, upd, s.now().UTC())
		if err != nil {
			return current, err
		}
		if !changed {
			return current, nil
		}

		saved, err := cacheutil.WriteThrough(ctx,
			func(ctx context.Context) (storage.PaymentOrder, error) { return s.store.UpdateOrder(ctx, next) },
			s.invalidateOrderHistory,
		)
		if errors.Is(err, storage.ErrVersionConflict) {
			log.Debug().
				Str("reference_id", current.ReferenceID).
				Int("attempt", attempt+1).
				Msg("ledger.update.version_conflict")
			continue
		}
		if err != nil {
			return storage.PaymentOrder{}, fmt.Errorf("%w: update order: %w", ErrPersistence, err)
		}

		if previous != saved.Status {
			s.metrics.ObserveTransition(string(previous), string(saved.Status), upd.Source)
			s.publish(ctx, events.TypePaymentStatusChanged, saved, previous, upd.Source)
		}
		log.Info().
			Str("reference_id", saved.ReferenceID).
			Str("from", string(previous)).
			Str("to", string(saved.Status)).
			Str("source", upd.Source).
			Msg("ledger.update.applied")
		return saved, nil
	}
	return storage.PaymentOrder{}, fmt.Errorf("%w: order modified concurrently", ErrConflict)
}

// applyStatus mutates order in place. It reports whether anything changed.
// Re-applying the current status only fills in optional fields and never
// appends history.
func applyStatus(order *storage.PaymentOrder, upd StatusUpdate, now time.Time) (bool, error) {
	changed := false
	if upd.Status != order.Status {
		if !CanTransition(order.Status, upd.Status) {
			return false, &TransitionError{From: order.Status, To: upd.Status}
		}
		if n := len(order.History); n > 0 && now.Before(order.History[n-1].Timestamp) {
			now = order.History[n-1].Timestamp
		}
		order.Status = upd.Status
		order.History = append(order.History, storage.HistoryEntry{Status: upd.Status, Timestamp: now})
		changed = true
	}

	if upd.Method.Known() && upd.Method != order.Method {
		order.Method = upd.Method
		changed = true
	}
	if upd.PaymentID != "" && upd.PaymentID != order.PaymentID {
		order.PaymentID = upd.PaymentID
		changed = true
	}
	if upd.Signature != "" && upd.Signature != order.Signature {
		order.Signature = upd.Signature
		changed = true
	}

	refund := upd.RefundStatus
	if order.Status == storage.StatusRefunded && !refund.Valid() {
		refund = storage.RefundCompleted
	}
	if refund.Valid() && refund != order.RefundStatus {
		order.RefundStatus = refund
		changed = true
	}

	if changed {
		order.UpdatedAt = now
	}
	return changed, nil
}
