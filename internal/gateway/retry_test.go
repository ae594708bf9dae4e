package gateway

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/CedrosPay/ledger/internal/logger"
)

func TestWithRetryLogsEachRetry(t *testing.T) {
	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), zerolog.New(&buf))

	calls := 0
	got, err := withRetry(ctx, retryPolicy{maxRetries: 2, baseDelay: time.Millisecond}, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &Error{Provider: ProviderRazorpay, StatusCode: 502}
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("withRetry = %q, %v", got, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if n := strings.Count(buf.String(), "gateway.call_retry"); n != 2 {
		t.Fatalf("retry log lines = %d, want 2: %s", n, buf.String())
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), retryPolicy{maxRetries: 3, baseDelay: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		return 0, &Error{Provider: ProviderRazorpay, StatusCode: 400}
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}
}
