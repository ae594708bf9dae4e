package httpserver

import (
	"errors"
	"net/http"

	apierrors "github.com/CedrosPay/ledger/internal/errors"
	"github.com/CedrosPay/ledger/internal/ledger"
	"github.com/CedrosPay/ledger/internal/logger"
	"github.com/CedrosPay/ledger/pkg/responders"
)

// successResponse writes the {success: true, data} envelope.
func successResponse(w http.ResponseWriter, status int, data any) {
	responders.Success(w, status, data)
}

// ledgerErrorResponse maps a ledger error onto the API error envelope.
// Upstream and persistence failures get a generic message; the cause is only
// logged.
func ledgerErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := ledger.Code(err)
	log := logger.FromContext(r.Context())

	var fe *ledger.FieldError
	switch {
	case errors.As(err, &fe):
		apierrors.WriteErrorWithDetail(w, code, fe.Message, "field", fe.Field)
		return
	case code == apierrors.ErrCodePaymentNotFound:
		apierrors.WriteSimpleError(w, code, "Payment not found")
		return
	case code == apierrors.ErrCodeInvalidStatusTransition:
		apierrors.WriteSimpleError(w, code, "Payment cannot move to the requested status")
		return
	case code == apierrors.ErrCodePaymentInProgress:
		apierrors.WriteSimpleError(w, code, "A payment with this idempotency key is still being created")
		return
	case code == apierrors.ErrCodeServiceDegraded:
		log.Warn().Err(err).Msg("http.gateway_unavailable")
		apierrors.WriteSimpleError(w, code, "Payment gateway temporarily unavailable")
		return
	case code == apierrors.ErrCodeGatewayError, code == apierrors.ErrCodeGatewayTimeout:
		log.Error().Err(err).Msg("http.gateway_error")
		apierrors.WriteSimpleError(w, code, "Payment gateway request failed")
		return
	}

	log.Error().Err(err).Str("code", string(code)).Msg("http.internal_error")
	apierrors.WriteSimpleError(w, code, "Internal server error")
}
