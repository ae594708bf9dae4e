package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CedrosPay/ledger/internal/cacheutil"
	apierrors "github.com/CedrosPay/ledger/internal/errors"
	"github.com/CedrosPay/ledger/internal/events"
	"github.com/CedrosPay/ledger/internal/gateway"
	"github.com/CedrosPay/ledger/internal/logger"
	"github.com/CedrosPay/ledger/internal/money"
	"github.com/CedrosPay/ledger/internal/storage"
)

const maxIdempotencyKeyLength = 100

// CreatePaymentInput is a request to open a payment order.
type CreatePaymentInput struct {
	Amount         string // decimal, major units
	Currency       string
	Description    string
	UserID         string
	ProviderID     string
	ServiceType    string
	IdempotencyKey string
	Notes          map[string]string
}

// CreatePaymentResult is returned for both new and duplicate creates.
type CreatePaymentResult struct {
	OrderID        string                `json:"orderId"`
	ReferenceID    string                `json:"referenceId"`
	Status         storage.PaymentStatus `json:"status"`
	Amount         money.Money           `json:"amount"`
	Currency       string                `json:"currency"`
	KeyID          string                `json:"key"`
	IdempotencyKey string                `json:"idempotencyKey"`
	IsDuplicate    bool                  `json:"isDuplicate"`
}

// CreatePayment reserves an order in the store, opens the matching gateway
// order and attaches it. Repeating a create with the same (user, key) returns
// the first order without another gateway call.
func (s *Service) CreatePayment(ctx context.Context, in CreatePaymentInput) (res CreatePaymentResult, err error) {
	ctx, span := s.startSpan(ctx, "CreatePayment")
	defer func() { endSpan(span, err) }()
	start := s.now()
	defer func() { s.metrics.ObserveOperation("create_payment", time.Since(start), err) }()

	amount, err := validateCreate(in)
	if err != nil {
		return CreatePaymentResult{}, err
	}
	log := logger.FromContext(ctx).With().Str("user_id", in.UserID).Logger()

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		existing, err := s.store.GetByIdempotencyKey(ctx, in.UserID, key)
		switch {
		case err == nil:
			return s.duplicateResult(ctx, existing)
		case !errors.Is(err, storage.ErrNotFound):
			return CreatePaymentResult{}, fmt.Errorf("%w: lookup idempotency key: %w", ErrPersistence, err)
		}
	} else {
		key = generateIdempotencyKey(in.UserID, s.now())
	}

	writeCtx, cancel := s.writeContext(ctx)
	defer cancel()

	now := s.now().UTC()
	order := storage.PaymentOrder{
		ReferenceID:    s.newReferenceID(),
		UserID:         in.UserID,
		ProviderID:     in.ProviderID,
		AmountMinor:    amount.Minor,
		Currency:       amount.Currency.Code,
		Status:         storage.StatusPending,
		Gateway:        s.gateway.Provider(),
		Method:         storage.MethodUnset,
		ServiceType:    storage.ServiceType(in.ServiceType),
		Description:    in.Description,
		Notes:          in.Notes,
		IdempotencyKey: key,
		History:        []storage.HistoryEntry{{Status: storage.StatusPending, Timestamp: now}},
		RefundStatus:   storage.RefundNotRequested,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.ReserveOrder(writeCtx, order); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			existing, lookupErr := s.store.GetByIdempotencyKey(writeCtx, in.UserID, key)
			if lookupErr != nil {
				return CreatePaymentResult{}, fmt.Errorf("%w: load duplicate: %w", ErrPersistence, lookupErr)
			}
			log.Info().Str("reference_id", existing.ReferenceID).Msg("ledger.create.duplicate_race")
			return s.duplicateResult(ctx, existing)
		}
		return CreatePaymentResult{}, fmt.Errorf("%w: reserve order: %w", ErrPersistence, err)
	}

	gwOrder, err := s.gateway.CreateOrder(writeCtx, gateway.OrderRequest{
		AmountMinor: amount.Minor,
		Currency:    amount.Currency.Code,
		Receipt:     order.ReferenceID,
		Notes: map[string]string{
			"referenceId":    order.ReferenceID,
			"userId":         order.UserID,
			"providerId":     order.ProviderID,
			"serviceType":    string(order.ServiceType),
			"description":    order.Description,
			"idempotencyKey": key,
		},
	})
	if err != nil {
		if relErr := s.store.ReleaseReservation(writeCtx, order.ReferenceID); relErr != nil {
			log.Error().Err(relErr).Str("reference_id", order.ReferenceID).Msg("ledger.create.release_failed")
		} else {
			// A history read during the reservation window may have cached it.
			s.invalidateHistory(writeCtx, order.UserID)
		}
		s.metrics.ObservePaymentCreated(string(order.ServiceType), "gateway_error", order.Currency, order.AmountMinor)
		return CreatePaymentResult{}, fmt.Errorf("%w: create order: %w", ErrGateway, err)
	}

	attached, err := cacheutil.WriteThrough(writeCtx,
		func(ctx context.Context) (storage.PaymentOrder, error) {
			return s.store.AttachGatewayOrder(ctx, order.ReferenceID, gwOrder.ID)
		},
		s.invalidateOrderHistory,
	)
	if err != nil {
		// The reconcile sweep attaches this order later by its receipt.
		log.Error().
			Err(err).
			Str("reference_id", order.ReferenceID).
			Str("order_id", gwOrder.ID).
			Msg("ledger.create.attach_failed")
		return CreatePaymentResult{}, fmt.Errorf("%w: attach gateway order: %w", ErrPersistence, err)
	}

	s.publish(writeCtx, events.TypePaymentCreated, attached, "", "create")
	s.metrics.ObservePaymentCreated(string(attached.ServiceType), "created", attached.Currency, attached.AmountMinor)

	log.Info().
		Str("reference_id", attached.ReferenceID).
		Str("order_id", logger.MaskID(attached.OrderID)).
		Int64("amount_minor", attached.AmountMinor).
		Msg("ledger.create.created")

	return s.result(attached, false), nil
}

// duplicateResult returns an existing order. A reservation still waiting on
// its gateway order is polled with backoff until attached or DuplicateWait
// elapses.
func (s *Service) duplicateResult(ctx context.Context, existing storage.PaymentOrder) (CreatePaymentResult, error) {
	if existing.Reserved() {
		attached, err := s.waitForAttach(ctx, existing)
		if err != nil {
			return CreatePaymentResult{}, err
		}
		existing = attached
	}
	s.metrics.ObservePaymentCreated(string(existing.ServiceType), "duplicate", existing.Currency, existing.AmountMinor)
	return s.result(existing, true), nil
}

func (s *Service) waitForAttach(ctx context.Context, order storage.PaymentOrder) (storage.PaymentOrder, error) {
	deadline := s.now().Add(s.cfg.DuplicateWait)
	delay := 25 * time.Millisecond
	for {
		if !s.now().Before(deadline) {
			return storage.PaymentOrder{}, ErrInProgress
		}
		select {
		case <-ctx.Done():
			return storage.PaymentOrder{}, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 400*time.Millisecond {
			delay *= 2
		}

		current, err := s.store.GetByReferenceID(ctx, order.ReferenceID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			// The winner's gateway call failed and released the reservation.
			return storage.PaymentOrder{}, ErrInProgress
		case err != nil:
			return storage.PaymentOrder{}, fmt.Errorf("%w: poll reservation: %w", ErrPersistence, err)
		case !current.Reserved():
			return current, nil
		}
	}
}

func (s *Service) result(order storage.PaymentOrder, duplicate bool) CreatePaymentResult {
	return CreatePaymentResult{
		OrderID:        order.OrderID,
		ReferenceID:    order.ReferenceID,
		Status:         order.Status,
		Amount:         order.Amount(),
		Currency:       order.Currency,
		KeyID:          s.gateway.KeyID(),
		IdempotencyKey: order.IdempotencyKey,
		IsDuplicate:    duplicate,
	}
}

func validateCreate(in CreatePaymentInput) (money.Money, error) {
	if strings.TrimSpace(in.Amount) == "" {
		return money.Money{}, missing("amount")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return money.Money{}, missing("userId")
	}
	if strings.TrimSpace(in.ProviderID) == "" {
		return money.Money{}, missing("providerId")
	}
	if strings.TrimSpace(in.ServiceType) == "" {
		return money.Money{}, missing("serviceType")
	}
	if !storage.ServiceType(in.ServiceType).Valid() {
		return money.Money{}, invalid("serviceType", apierrors.ErrCodeInvalidServiceType, "unsupported service type")
	}
	if len(in.IdempotencyKey) > maxIdempotencyKeyLength {
		return money.Money{}, invalid("idempotencyKey", apierrors.ErrCodeInvalidField,
			fmt.Sprintf("must be at most %d characters", maxIdempotencyKeyLength))
	}

	cur, err := money.LookupCurrency(in.Currency)
	if err != nil {
		return money.Money{}, invalid("currency", apierrors.ErrCodeUnsupportedCurrency, "only INR is supported")
	}
	amount, err := money.FromMajor(cur, in.Amount)
	if err != nil {
		return money.Money{}, invalid("amount", apierrors.ErrCodeInvalidAmount, "amount must be a decimal with at most 2 fractional digits")
	}
	if !amount.IsPositive() {
		return money.Money{}, invalid("amount", apierrors.ErrCodeInvalidAmount, "amount must be positive")
	}
	return amount, nil
}

func newReferenceID() string {
	return "PAY_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func generateIdempotencyKey(userID string, now time.Time) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s_%d_%s", userID, now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	}
	return fmt.Sprintf("%s_%d_%s", userID, now.UnixMilli(), hex.EncodeToString(buf))
}
