package ledger

import (
	"context"
	"strings"

	apierrors "github.com/CedrosPay/ledger/internal/errors"
	"github.com/CedrosPay/ledger/internal/gateway"
	"github.com/CedrosPay/ledger/internal/logger"
	"github.com/CedrosPay/ledger/internal/storage"
)

// VerifyInput is the checkout callback triple.
type VerifyInput struct {
	OrderID   string
	PaymentID string
	Signature string
}

func (in VerifyInput) validate() error {
	switch {
	case strings.TrimSpace(in.OrderID) == "":
		return missing("orderId")
	case strings.TrimSpace(in.PaymentID) == "":
		return missing("paymentId")
	case strings.TrimSpace(in.Signature) == "":
		return missing("signature")
	}
	return nil
}

// VerifyPaymentSignature checks the checkout signature over orderId|paymentId.
// A missing field is a validation error, never false.
func (s *Service) VerifyPaymentSignature(in VerifyInput) (bool, error) {
	if err := in.validate(); err != nil {
		return false, err
	}
	return gateway.VerifyPaymentSignature(s.cfg.KeySecret, in.OrderID, in.PaymentID, in.Signature), nil
}

// ConfirmInput identifies the order a checkout callback belongs to.
type ConfirmInput struct {
	ReferenceID string
	OrderID     string
	PaymentID   string
	Signature   string
}

// ConfirmResult reports the outcome of a checkout confirmation.
type ConfirmResult struct {
	Valid         bool
	Status        storage.PaymentStatus
	PaymentMethod storage.PaymentMethod
}

// ConfirmPayment verifies a checkout callback and moves the order to success
// or failed accordingly.
func (s *Service) ConfirmPayment(ctx context.Context, in ConfirmInput) (res ConfirmResult, err error) {
	ctx, span := s.startSpan(ctx, "ConfirmPayment")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(in.ReferenceID) == "" {
		return ConfirmResult{}, missing("referenceId")
	}
	verify := VerifyInput{OrderID: in.OrderID, PaymentID: in.PaymentID, Signature: in.Signature}
	valid, err := s.VerifyPaymentSignature(verify)
	if err != nil {
		return ConfirmResult{}, err
	}

	order, err := s.loadOrder(ctx, in.ReferenceID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if order.OrderID != in.OrderID {
		return ConfirmResult{}, invalid("orderId", apierrors.ErrCodeOrderMismatch, "orderId does not belong to this payment")
	}

	log := logger.FromContext(ctx).With().Str("reference_id", order.ReferenceID).Logger()

	if !valid {
		log.Warn().Str("payment_id", logger.MaskID(in.PaymentID)).Msg("ledger.verify.invalid_signature")
		// Only a pending order is failed by a bad callback; a settled order keeps its status.
		if order.Status != storage.StatusPending {
			return ConfirmResult{Valid: false, Status: order.Status, PaymentMethod: order.Method}, nil
		}
		updated, err := s.UpdatePaymentStatus(ctx, order.ReferenceID, StatusUpdate{
			Status:    storage.StatusFailed,
			PaymentID: in.PaymentID,
			Source:    SourceVerify,
		})
		if err != nil {
			return ConfirmResult{}, err
		}
		return ConfirmResult{Valid: false, Status: updated.Status, PaymentMethod: updated.Method}, nil
	}

	method := storage.MethodUnset
	if payment, err := s.gateway.FetchPayment(ctx, in.PaymentID); err != nil {
		log.Warn().Err(err).Msg("ledger.verify.fetch_payment_failed")
	} else {
		method = storage.PaymentMethod(payment.Method)
	}

	updated, err := s.UpdatePaymentStatus(ctx, order.ReferenceID, StatusUpdate{
		Status:    storage.StatusSuccess,
		Method:    method,
		PaymentID: in.PaymentID,
		Signature: in.Signature,
		Source:    SourceVerify,
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{Valid: true, Status: updated.Status, PaymentMethod: updated.Method}, nil
}
