package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/CedrosPay/ledger/internal/circuitbreaker"
	apierrors "github.com/CedrosPay/ledger/internal/errors"
	"github.com/CedrosPay/ledger/internal/storage"
)

var (
	ErrValidation  = errors.New("ledger: validation failed")
	ErrNotFound    = errors.New("ledger: payment not found")
	ErrConflict    = errors.New("ledger: conflict")
	ErrGateway     = errors.New("ledger: gateway request failed")
	ErrPersistence = errors.New("ledger: persistence failed")
)

// FieldError is a validation failure on one input field.
type FieldError struct {
	Field   string
	Code    apierrors.ErrorCode
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("ledger: %s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return ErrValidation }

func missing(field string) error {
	return &FieldError{Field: field, Code: apierrors.ErrCodeMissingField, Message: field + " is required"}
}

func invalid(field string, code apierrors.ErrorCode, message string) error {
	return &FieldError{Field: field, Code: code, Message: message}
}

// TransitionError is returned when the state machine rejects a status change.
type TransitionError struct {
	From storage.PaymentStatus
	To   storage.PaymentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("ledger: invalid status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrConflict }

// ErrInProgress means a concurrent create with the same idempotency key has
// reserved the order but not attached a gateway order yet.
var ErrInProgress = fmt.Errorf("%w: payment creation in progress", ErrConflict)

// Code maps a ledger error onto the API error taxonomy.
func Code(err error) apierrors.ErrorCode {
	var fe *FieldError
	var te *TransitionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, ErrValidation):
		return apierrors.ErrCodeInvalidField
	case errors.Is(err, ErrNotFound):
		return apierrors.ErrCodePaymentNotFound
	case errors.As(err, &te):
		return apierrors.ErrCodeInvalidStatusTransition
	case errors.Is(err, ErrInProgress):
		return apierrors.ErrCodePaymentInProgress
	case errors.Is(err, ErrConflict):
		return apierrors.ErrCodeInvalidStatusTransition
	case errors.Is(err, ErrGateway) && circuitbreaker.IsOpen(err):
		return apierrors.ErrCodeServiceDegraded
	case errors.Is(err, ErrGateway) && errors.Is(err, context.DeadlineExceeded):
		return apierrors.ErrCodeGatewayTimeout
	case errors.Is(err, ErrGateway):
		return apierrors.ErrCodeGatewayError
	case errors.Is(err, ErrPersistence):
		return apierrors.ErrCodeDatabaseError
	default:
		return apierrors.ErrCodeInternalError
	}
}
