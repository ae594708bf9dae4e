package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/CedrosPay/ledger/internal/cache"
	apierrors "github.com/CedrosPay/ledger/internal/errors"
	"github.com/CedrosPay/ledger/internal/gateway"
	"github.com/CedrosPay/ledger/internal/logger"
	"github.com/CedrosPay/ledger/internal/storage"
)

// Webhook outcomes.
const (
	OutcomeApplied       = "applied"
	OutcomeDuplicate     = "duplicate"
	OutcomeOrderNotFound = "order_not_found"
	OutcomeIgnored       = "ignored"
)

const claimValue = "processing"

// WebhookEvent is a decoded gateway webhook delivery.
type WebhookEvent struct {
	ID      string
	Event   string
	Payment *WebhookPayment
}

// WebhookPayment is the payment entity nested in a webhook.
type WebhookPayment struct {
	ID      string
	OrderID string
	Status  string
	Method  string
}

// WebhookResult reports what a delivery did.
type WebhookResult struct {
	Outcome string
	Payment *storage.PaymentOrder
}

type rawWebhook struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity *struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
				Method  string `json:"method"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseWebhookEvent decodes a Razorpay webhook body. eventID is the
// X-Razorpay-Event-Id header and wins over an id in the body. When neither is
// present the id is derived from the payment id, status and event name, so
// redeliveries of the same state change still collapse.
func ParseWebhookEvent(body []byte, eventID string) (WebhookEvent, error) {
	var raw rawWebhook
	if err := json.Unmarshal(body, &raw); err != nil {
		return WebhookEvent{}, invalid("body", apierrors.ErrCodeInvalidPayload, "malformed webhook payload")
	}

	ev := WebhookEvent{ID: strings.TrimSpace(eventID), Event: raw.Event}
	if ev.ID == "" {
		ev.ID = raw.ID
	}
	if raw.Payload.Payment != nil && raw.Payload.Payment.Entity != nil {
		e := raw.Payload.Payment.Entity
		ev.Payment = &WebhookPayment{ID: e.ID, OrderID: e.OrderID, Status: e.Status, Method: e.Method}
	}
	if ev.ID == "" && ev.Payment != nil {
		sum := sha256.Sum256([]byte(ev.Payment.ID + "|" + ev.Payment.Status + "|" + ev.Event))
		ev.ID = "derived_" + hex.EncodeToString(sum[:16])
	}
	return ev, nil
}

func (ev WebhookEvent) validate() error {
	if ev.Payment == nil {
		return invalid("payload.payment.entity", apierrors.ErrCodeInvalidPayload, "payment entity is required")
	}
	if strings.TrimSpace(ev.Payment.ID) == "" {
		return invalid("payload.payment.entity.id", apierrors.ErrCodeInvalidPayload, "payment id is required")
	}
	if strings.TrimSpace(ev.Payment.OrderID) == "" {
		return invalid("payload.payment.entity.order_id", apierrors.ErrCodeInvalidPayload, "order id is required")
	}
	if strings.TrimSpace(ev.ID) == "" {
		return invalid("id", apierrors.ErrCodeInvalidPayload, "event id is required")
	}
	return nil
}

// webhookStatus maps a gateway payment status onto the ledger.
func webhookStatus(gatewayStatus string) (storage.PaymentStatus, storage.RefundStatus) {
	switch gatewayStatus {
	case gateway.PaymentCaptured:
		return storage.StatusSuccess, ""
	case gateway.PaymentFailed:
		return storage.StatusFailed, ""
	case gateway.PaymentRefunded:
		return storage.StatusRefunded, storage.RefundCompleted
	default:
		return storage.StatusPending, ""
	}
}

// UpdatePaymentFromWebhook applies a webhook exactly once per event id. The
// claim on the event is released if the store write fails, so the gateway's
// redelivery is processed.
func (s *Service) UpdatePaymentFromWebhook(ctx context.Context, ev WebhookEvent) (res WebhookResult, err error) {
	ctx, span := s.startSpan(ctx, "UpdatePaymentFromWebhook")
	defer func() { endSpan(span, err) }()
	start := s.now()
	defer func() {
		outcome := res.Outcome
		if err != nil {
			outcome = "error"
		}
		s.metrics.ObserveWebhook(ev.Event, outcome, time.Since(start))
	}()

	if err := ev.validate(); err != nil {
		return WebhookResult{}, err
	}
	log := logger.FromContext(ctx).With().
		Str("event_id", ev.ID).
		Str("event", ev.Event).
		Str("order_id", logger.MaskID(ev.Payment.OrderID)).
		Logger()

	writeCtx, cancel := s.writeContext(ctx)
	defer cancel()

	claimKey := cache.NamespaceWebhookEvent.Key(ev.ID)
	ttls := s.cache.TTLs()
	switch s.cache.Claim(writeCtx, claimKey, claimValue, ttls.WebhookClaim) {
	case cache.ClaimHeld:
		log.Info().Msg("ledger.webhook.duplicate")
		return WebhookResult{Outcome: OutcomeDuplicate}, nil
	case cache.ClaimUnavailable:
		log.Warn().Msg("ledger.webhook.dedup_unavailable")
	}
	markProcessed := func() {
		s.cache.Set(writeCtx, claimKey, "processed:"+strconv.FormatInt(s.now().Unix(), 10), ttls.WebhookEvent)
	}

	status, refund := webhookStatus(ev.Payment.Status)
	upd := StatusUpdate{
		Status:       status,
		Method:       storage.PaymentMethod(ev.Payment.Method),
		PaymentID:    ev.Payment.ID,
		RefundStatus: refund,
		Source:       SourceWebhook,
	}
	updated, err := s.applyUpdate(writeCtx, upd, func(ctx context.Context) (storage.PaymentOrder, error) {
		return s.store.GetByOrderID(ctx, ev.Payment.OrderID)
	})

	var te *TransitionError
	switch {
	case err == nil:
		markProcessed()
		log.Info().
			Str("reference_id", updated.ReferenceID).
			Str("status", string(updated.Status)).
			Msg("ledger.webhook.applied")
		return WebhookResult{Outcome: OutcomeApplied, Payment: &updated}, nil

	case errors.Is(err, ErrNotFound):
		markProcessed()
		log.Warn().Msg("ledger.webhook.order_not_found")
		return WebhookResult{Outcome: OutcomeOrderNotFound}, nil

	case errors.As(err, &te):
		markProcessed()
		log.Info().
			Str("reference_id", updated.ReferenceID).
			Str("from", string(te.From)).
			Str("to", string(te.To)).
			Msg("ledger.webhook.ignored")
		return WebhookResult{Outcome: OutcomeIgnored, Payment: &updated}, nil

	default:
		s.cache.Delete(writeCtx, claimKey)
		log.Error().Err(err).Msg("ledger.webhook.apply_failed")
		return WebhookResult{}, fmt.Errorf("apply webhook %s: %w", ev.ID, err)
	}
}
