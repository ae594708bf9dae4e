package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation suitable for tests and single-instance deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	orders    map[string]PaymentOrder // referenceID -> order
	byOrderID map[string]string       // gateway orderID -> referenceID
	byIdemKey map[string]string       // userID + "\x00" + key -> referenceID
	now       func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string]PaymentOrder),
		byOrderID: make(map[string]string),
		byIdemKey: make(map[string]string),
		now:       time.Now,
	}
}

func idemIndexKey(userID, key string) string {
	return userID + "\x00" + key
}

// ReserveOrder inserts a new order, enforcing the reference id and idempotency key constraints.
func (m *MemoryStore) ReserveOrder(_ context.Context, order PaymentOrder) error {
	if order.ReferenceID == "" {
		return fmt.Errorf("storage: reference id required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.ReferenceID]; exists {
		return fmt.Errorf("%w: reference id %s", ErrDuplicate, order.ReferenceID)
	}
	if order.IdempotencyKey != "" {
		if _, exists := m.byIdemKey[idemIndexKey(order.UserID, order.IdempotencyKey)]; exists {
			return fmt.Errorf("%w: idempotency key", ErrDuplicate)
		}
	}
	if order.OrderID != "" {
		if _, exists := m.byOrderID[order.OrderID]; exists {
			return fmt.Errorf("%w: order id %s", ErrDuplicate, order.OrderID)
		}
	}

	m.orders[order.ReferenceID] = order.Clone()
	if order.IdempotencyKey != "" {
		m.byIdemKey[idemIndexKey(order.UserID, order.IdempotencyKey)] = order.ReferenceID
	}
	if order.OrderID != "" {
		m.byOrderID[order.OrderID] = order.ReferenceID
	}
	return nil
}

// AttachGatewayOrder records the gateway order id on a reservation.
func (m *MemoryStore) AttachGatewayOrder(_ context.Context, referenceID, orderID string) (PaymentOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[referenceID]
	if !ok {
		return PaymentOrder{}, ErrNotFound
	}
	if order.OrderID == orderID {
		return order.Clone(), nil
	}
	if order.OrderID != "" {
		return PaymentOrder{}, fmt.Errorf("%w: %s already attached to %s", ErrVersionConflict, referenceID, order.OrderID)
	}
	if owner, taken := m.byOrderID[orderID]; taken && owner != referenceID {
		return PaymentOrder{}, fmt.Errorf("%w: order id %s", ErrDuplicate, orderID)
	}

	order.OrderID = orderID
	order.Version++
	order.UpdatedAt = m.now()
	m.orders[referenceID] = order
	m.byOrderID[orderID] = referenceID
	return order.Clone(), nil
}

// ReleaseReservation removes an order that never got a gateway order id.
func (m *MemoryStore) ReleaseReservation(_ context.Context, referenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[referenceID]
	if !ok || !order.Reserved() {
		return nil
	}
	delete(m.orders, referenceID)
	if order.IdempotencyKey != "" {
		delete(m.byIdemKey, idemIndexKey(order.UserID, order.IdempotencyKey))
	}
	return nil
}

// GetByReferenceID returns the order with the given reference id.
func (m *MemoryStore) GetByReferenceID(_ context.Context, referenceID string) (PaymentOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[referenceID]
	if !ok {
		return PaymentOrder{}, ErrNotFound
	}
	return order.Clone(), nil
}

// GetByOrderID returns the order attached to the given gateway order id.
func (m *MemoryStore) GetByOrderID(ctx context.Context, orderID string) (PaymentOrder, error) {
	if orderID == "" {
		return PaymentOrder{}, ErrNotFound
	}
	m.mu.RLock()
	ref, ok := m.byOrderID[orderID]
	m.mu.RUnlock()
	if !ok {
		return PaymentOrder{}, ErrNotFound
	}
	return m.GetByReferenceID(ctx, ref)
}

// GetByIdempotencyKey returns the user's order created with key.
func (m *MemoryStore) GetByIdempotencyKey(ctx context.Context, userID, key string) (PaymentOrder, error) {
	if key == "" {
		return PaymentOrder{}, ErrNotFound
	}
	m.mu.RLock()
	ref, ok := m.byIdemKey[idemIndexKey(userID, key)]
	m.mu.RUnlock()
	if !ok {
		return PaymentOrder{}, ErrNotFound
	}
	return m.GetByReferenceID(ctx, ref)
}

// ListByUser returns up to limit of the user's orders, newest first, after skipping skip.
func (m *MemoryStore) ListByUser(_ context.Context, userID string, skip, limit int) ([]PaymentOrder, error) {
	m.mu.RLock()
	out := make([]PaymentOrder, 0)
	for _, order := range m.orders {
		if order.UserID == userID {
			out = append(out, order.Clone())
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ReferenceID > out[j].ReferenceID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if skip < 0 {
		skip = 0
	}
	if skip >= len(out) {
		return []PaymentOrder{}, nil
	}
	out = out[skip:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// UpdateOrder applies a versioned update of the mutable order fields.
func (m *MemoryStore) UpdateOrder(_ context.Context, order PaymentOrder) (PaymentOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.orders[order.ReferenceID]
	if !ok {
		return PaymentOrder{}, ErrNotFound
	}
	if current.Version != order.Version {
		return PaymentOrder{}, fmt.Errorf("%w: %s at version %d, caller read %d",
			ErrVersionConflict, order.ReferenceID, current.Version, order.Version)
	}

	current.Status = order.Status
	current.Method = order.Method
	current.PaymentID = order.PaymentID
	current.Signature = order.Signature
	current.RefundStatus = order.RefundStatus
	current.History = append([]HistoryEntry(nil), order.History...)
	current.UpdatedAt = order.UpdatedAt
	if current.UpdatedAt.IsZero() {
		current.UpdatedAt = m.now()
	}
	current.Version++

	m.orders[order.ReferenceID] = current
	return current.Clone(), nil
}

// ListStaleReservations returns reservations older than olderThan, oldest first.
func (m *MemoryStore) ListStaleReservations(_ context.Context, olderThan time.Time, limit int) ([]PaymentOrder, error) {
	m.mu.RLock()
	out := make([]PaymentOrder, 0)
	for _, order := range m.orders {
		if order.Reserved() && order.CreatedAt.Before(olderThan) {
			out = append(out, order.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
