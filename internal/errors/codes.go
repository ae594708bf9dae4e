package errors

// ErrorCode is a machine-readable error identifier returned to API clients.
type ErrorCode string

// Validation errors.
const (
	ErrCodeMissingField        ErrorCode = "missing_field"
	ErrCodeInvalidField        ErrorCode = "invalid_field"
	ErrCodeInvalidAmount       ErrorCode = "invalid_amount"
	ErrCodeUnsupportedCurrency ErrorCode = "unsupported_currency"
	ErrCodeInvalidServiceType  ErrorCode = "invalid_service_type"
	ErrCodeInvalidSignature    ErrorCode = "invalid_signature"
	ErrCodeInvalidPayload      ErrorCode = "invalid_payload"
)

// Auth errors.
const (
	ErrCodeUnauthorized ErrorCode = "unauthorized"
	ErrCodeForbidden    ErrorCode = "forbidden"
)

// Throttling errors.
const (
	ErrCodeRateLimited ErrorCode = "rate_limit_exceeded"
)

// Resource and state errors.
const (
	ErrCodePaymentNotFound         ErrorCode = "payment_not_found"
	ErrCodeOrderMismatch           ErrorCode = "order_mismatch"
	ErrCodeInvalidStatusTransition ErrorCode = "invalid_status_transition"
	ErrCodePaymentInProgress       ErrorCode = "payment_in_progress"
	ErrCodeUnknownCacheNamespace   ErrorCode = "unknown_cache_namespace"
)

// Upstream errors.
const (
	ErrCodeGatewayError    ErrorCode = "gateway_error"
	ErrCodeGatewayTimeout  ErrorCode = "gateway_timeout"
	ErrCodeServiceDegraded ErrorCode = "service_degraded"
)

// Internal errors.
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
)

// IsRetryable reports whether a client may retry the same request unchanged.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeGatewayError,
		ErrCodeGatewayTimeout,
		ErrCodeServiceDegraded,
		ErrCodeDatabaseError,
		ErrCodePaymentInProgress,
		ErrCodeRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeUnsupportedCurrency,
		ErrCodeInvalidServiceType,
		ErrCodeInvalidSignature,
		ErrCodeInvalidPayload,
		ErrCodeOrderMismatch:
		return 400

	case ErrCodeUnauthorized:
		return 401

	case ErrCodeForbidden:
		return 403

	case ErrCodePaymentNotFound,
		ErrCodeUnknownCacheNamespace:
		return 404

	case ErrCodeInvalidStatusTransition,
		ErrCodePaymentInProgress:
		return 409

	case ErrCodeRateLimited:
		return 429

	case ErrCodeGatewayError:
		return 502

	case ErrCodeServiceDegraded:
		return 503

	case ErrCodeGatewayTimeout:
		return 504

	default:
		return 500
	}
}
