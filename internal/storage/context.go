package storage

import (
	"context"
	"time"
)

const (
	// DefaultQueryTimeout bounds a single database operation.
	DefaultQueryTimeout = 5 * time.Second

	// DefaultPaymentsTable is the table (Postgres) or collection (MongoDB) holding orders.
	DefaultPaymentsTable = "payment_orders"
)

// withQueryTimeout wraps the context with a query timeout unless the caller already set a deadline.
func withQueryTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
