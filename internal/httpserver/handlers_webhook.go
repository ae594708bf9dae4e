package httpserver

import (
	"errors"
	"io"
	"net/http"
	"time"

	apierrors "github.com/CedrosPay/ledger/internal/errors"
	"github.com/CedrosPay/ledger/internal/gateway"
	"github.com/CedrosPay/ledger/internal/ledger"
	"github.com/CedrosPay/ledger/internal/logger"
	"github.com/CedrosPay/ledger/pkg/responders"
)

// Razorpay webhook headers.
const (
	razorpaySignatureHeader = "X-Razorpay-Signature"
	razorpayEventIDHeader   = "X-Razorpay-Event-Id"
)

// razorpayWebhook verifies the signature over the raw body and applies the
// event. Persistence failures answer 500 so the gateway redelivers; an
// unknown order answers 200 because a retry cannot help.
func (h *handlers) razorpayWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logger.FromContext(r.Context())

	limitBody(w, r)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidPayload, "could not read request body")
		return
	}

	signature := r.Header.Get(razorpaySignatureHeader)
	if h.webhookSecret == "" || !gateway.VerifyWebhookSignature(h.webhookSecret, body, signature) {
		log.Warn().Bool("signature_present", signature != "").Msg("webhook.signature_mismatch")
		h.metrics.ObserveWebhook("", "rejected", time.Since(start))
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidSignature, "Invalid signature")
		return
	}

	event, err := ledger.ParseWebhookEvent(body, r.Header.Get(razorpayEventIDHeader))
	if err != nil {
		h.metrics.ObserveWebhook("", "rejected", time.Since(start))
		ledgerErrorResponse(w, r, err)
		return
	}

	res, err := h.ledger.UpdatePaymentFromWebhook(r.Context(), event)
	if err != nil {
		if !errors.Is(err, ledger.ErrValidation) {
			log.Error().Err(err).Str("event_id", event.ID).Msg("webhook.apply_failed")
		}
		ledgerErrorResponse(w, r, err)
		return
	}

	switch res.Outcome {
	case ledger.OutcomeDuplicate:
		responders.Message(w, http.StatusOK, "Duplicate event ignored", map[string]any{"isDuplicate": true})
	case ledger.OutcomeOrderNotFound:
		responders.Message(w, http.StatusOK, "No payment matches this order", map[string]any{"matched": false})
	case ledger.OutcomeIgnored:
		responders.Message(w, http.StatusOK, "", map[string]any{"ignored": true})
	default:
		responders.Message(w, http.StatusOK, "", nil)
	}
}
