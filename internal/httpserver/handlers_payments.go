package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/CedrosPay/ledger/internal/auth"
	apierrors "github.com/CedrosPay/ledger/internal/errors"
	"github.com/CedrosPay/ledger/internal/ledger"
	"github.com/CedrosPay/ledger/internal/logger"
	"github.com/CedrosPay/ledger/pkg/responders"
)

// IdempotencyKeyHeader may carry the create idempotency key instead of the body.
const IdempotencyKeyHeader = "Idempotency-Key"

type createPaymentRequest struct {
	Amount         json.Number       `json:"amount"`
	Currency       string            `json:"currency"`
	Description    string            `json:"description"`
	ProviderID     string            `json:"providerId"`
	ServiceType    string            `json:"serviceType"`
	IdempotencyKey string            `json:"idempotencyKey"`
	Notes          map[string]string `json:"notes"`
}

// createPayment opens a payment order for the authenticated user. A repeated
// create with the same idempotency key answers 200 with the original order.
func (h *handlers) createPayment(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromRequest(r)
	if !ok || principal.ID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Unauthorized: no user in token")
		return
	}

	limitBody(w, r)
	var req createPaymentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body: "+err.Error())
		return
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if header := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); header != "" {
		if key != "" && key != header {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField,
				"idempotency key in header and body differ", "field", "idempotencyKey")
			return
		}
		key = header
	}

	res, err := h.ledger.CreatePayment(r.Context(), ledger.CreatePaymentInput{
		Amount:         req.Amount.String(),
		Currency:       req.Currency,
		Description:    req.Description,
		UserID:         principal.ID,
		ProviderID:     req.ProviderID,
		ServiceType:    req.ServiceType,
		IdempotencyKey: key,
		Notes:          req.Notes,
	})
	if err != nil {
		ledgerErrorResponse(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.IsDuplicate {
		status = http.StatusOK
	}
	successResponse(w, status, res)
}

type verifyPaymentRequest struct {
	ReferenceID       string `json:"referenceId"`
	RazorpayOrderID   string `json:"razorpayOrderId"`
	RazorpayPaymentID string `json:"razorpayPaymentId"`
	RazorpaySignature string `json:"razorpaySignature"`
}

// verifyPayment checks the checkout callback signature. With a referenceId
// the order is confirmed (success) or failed accordingly; without one only
// the signature is checked.
func (h *handlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r)
	var req verifyPaymentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body: "+err.Error())
		return
	}

	if strings.TrimSpace(req.ReferenceID) == "" {
		valid, err := h.ledger.VerifyPaymentSignature(ledger.VerifyInput{
			OrderID:   req.RazorpayOrderID,
			PaymentID: req.RazorpayPaymentID,
			Signature: req.RazorpaySignature,
		})
		if err != nil {
			ledgerErrorResponse(w, r, err)
			return
		}
		if !valid {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidSignature, "Invalid signature")
			return
		}
		responders.Message(w, http.StatusOK, "Signature verified", nil)
		return
	}

	res, err := h.ledger.ConfirmPayment(r.Context(), ledger.ConfirmInput{
		ReferenceID: req.ReferenceID,
		OrderID:     req.RazorpayOrderID,
		PaymentID:   req.RazorpayPaymentID,
		Signature:   req.RazorpaySignature,
	})
	if err != nil {
		ledgerErrorResponse(w, r, err)
		return
	}
	if !res.Valid {
		log := logger.FromContext(r.Context())
		log.Warn().
			Str("reference_id", req.ReferenceID).
			Msg("payment.verify.invalid_signature")
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidSignature, "Invalid signature", "status", res.Status)
		return
	}

	responders.Message(w, http.StatusOK, "Payment verified & updated", map[string]any{
		"status":        res.Status,
		"paymentMethod": res.PaymentMethod,
	})
}

// paymentStatus returns one order's status. Orders owned by someone else
// answer 404 so reference ids cannot be probed.
func (h *handlers) paymentStatus(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromRequest(r)
	referenceID := chi.URLParam(r, "referenceId")

	view, err := h.ledger.GetPaymentStatus(r.Context(), referenceID)
	if err != nil {
		ledgerErrorResponse(w, r, err)
		return
	}
	if !h.policy.CanAccessUser(principal, view.UserID) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentNotFound, "Payment not found")
		return
	}
	successResponse(w, http.StatusOK, view)
}

// paymentHistory returns a page of a user's orders, newest first.
func (h *handlers) paymentHistory(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromRequest(r)
	userID := chi.URLParam(r, "userId")
	if !h.policy.CanAccessUser(principal, userID) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeForbidden, "Forbidden: cannot read another user's payments")
		return
	}

	count, ok := queryInt(r, "count", 0)
	if !ok {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "count must be an integer", "field", "count")
		return
	}
	skip, ok := queryInt(r, "skip", 0)
	if !ok {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "skip must be an integer", "field", "skip")
		return
	}

	views, err := h.ledger.GetPaymentHistory(r.Context(), userID, count, skip)
	if err != nil {
		ledgerErrorResponse(w, r, err)
		return
	}
	successResponse(w, http.StatusOK, views)
}
