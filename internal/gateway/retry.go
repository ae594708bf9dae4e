package gateway

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/CedrosPay/ledger/internal/circuitbreaker"
	"github.com/CedrosPay/ledger/internal/logger"
)

// retryPolicy defines retry behavior for idempotent gateway reads.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

// withRetry runs op with exponential backoff (base, 2*base, 4*base, ...) while
// the error is transient and ctx is alive.
func withRetry[T any](ctx context.Context, policy retryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)

	for attempt := 0; attempt <= policy.maxRetries; attempt++ {
		result, err = op(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil || !isRetryable(err) || attempt == policy.maxRetries {
			return result, err
		}

		delay := policy.baseDelay * time.Duration(1<<uint(attempt))
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", policy.maxRetries+1).
			Dur("retry_delay", delay).
			Msg("gateway.call_retry")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}
	return result, err
}

// isRetryable decides whether an error is worth another attempt.
func isRetryable(err error) bool {
	if err == nil || circuitbreaker.IsOpen(err) || errors.Is(err, context.Canceled) {
		return false
	}

	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "connection reset", "timeout", "temporary failure", "eof"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
