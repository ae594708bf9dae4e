// Package cacheutil holds small helpers for keeping caches consistent with the store.
package cacheutil

import "context"

// WriteThrough runs a store write and, only if it succeeds, invalidates the
// cache entries it affects. Cached data is never updated in place: the next
// read repopulates it from the store.
//
// Usage:
//
//	order, err := cacheutil.WriteThrough(ctx,
//	    func(ctx context.Context) (storage.PaymentOrder, error) { return store.UpdateOrder(ctx, order) },
//	    func(ctx context.Context, o storage.PaymentOrder) { history.Invalidate(ctx, o.UserID) },
//	)
func WriteThrough[T any](
	ctx context.Context,
	write func(ctx context.Context) (T, error),
	invalidate func(ctx context.Context, written T),
) (T, error) {
	result, err := write(ctx)
	if err != nil {
		return result, err
	}
	invalidate(ctx, result)
	return result, nil
}
