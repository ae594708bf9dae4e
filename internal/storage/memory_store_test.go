package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestOrder(ref, user, key string, created time.Time) PaymentOrder {
	return PaymentOrder{
		ReferenceID:    ref,
		UserID:         user,
		ProviderID:     "prov-1",
		AmountMinor:    50000,
		Currency:       "INR",
		Status:         StatusPending,
		Gateway:        "razorpay",
		Method:         MethodUnset,
		ServiceType:    ServiceConsultation,
		IdempotencyKey: key,
		History:        []HistoryEntry{{Status: StatusPending, Timestamp: created}},
		RefundStatus:   RefundNotRequested,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func TestMemoryStoreReserveRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	if err := store.ReserveOrder(ctx, newTestOrder("PAY_1", "user-1", "k1", now)); err != nil {
		t.Fatalf("ReserveOrder: %v", err)
	}

	tests := []struct {
		name  string
		order PaymentOrder
	}{
		{"same reference", newTestOrder("PAY_1", "user-2", "k9", now)},
		{"same user and key", newTestOrder("PAY_2", "user-1", "k1", now)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.ReserveOrder(ctx, tt.order)
			if !errors.Is(err, ErrDuplicate) {
				t.Fatalf("err = %v, want ErrDuplicate", err)
			}
		})
	}

	// Same key for a different user is a different order.
	if err := store.ReserveOrder(ctx, newTestOrder("PAY_3", "user-2", "k1", now)); err != nil {
		t.Fatalf("ReserveOrder other user: %v", err)
	}
}

func TestMemoryStoreConcurrentReserveSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.ReserveOrder(ctx, newTestOrder(fmt.Sprintf("PAY_%d", i), "user-1", "same-key", now))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestMemoryStoreAttachAndRelease(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	if err := store.ReserveOrder(ctx, newTestOrder("PAY_A", "user-1", "ka", now)); err != nil {
		t.Fatalf("ReserveOrder: %v", err)
	}

	attached, err := store.AttachGatewayOrder(ctx, "PAY_A", "order_A")
	if err != nil {
		t.Fatalf("AttachGatewayOrder: %v", err)
	}
	if attached.OrderID != "order_A" || attached.Version != 1 {
		t.Fatalf("attached = %+v", attached)
	}

	again, err := store.AttachGatewayOrder(ctx, "PAY_A", "order_A")
	if err != nil || again.Version != 1 {
		t.Fatalf("re-attach same id: version=%d err=%v", again.Version, err)
	}
	if _, err := store.AttachGatewayOrder(ctx, "PAY_A", "order_B"); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("attach different id err = %v, want ErrVersionConflict", err)
	}

	// Attached orders survive a release.
	if err := store.ReleaseReservation(ctx, "PAY_A"); err != nil {
		t.Fatalf("ReleaseReservation: %v", err)
	}
	if _, err := store.GetByOrderID(ctx, "order_A"); err != nil {
		t.Fatalf("GetByOrderID after release: %v", err)
	}

	if err := store.ReserveOrder(ctx, newTestOrder("PAY_B", "user-1", "kb", now)); err != nil {
		t.Fatalf("ReserveOrder: %v", err)
	}
	if err := store.ReleaseReservation(ctx, "PAY_B"); err != nil {
		t.Fatalf("ReleaseReservation: %v", err)
	}
	if _, err := store.GetByReferenceID(ctx, "PAY_B"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("released order err = %v, want ErrNotFound", err)
	}
	// The idempotency key is free again.
	if err := store.ReserveOrder(ctx, newTestOrder("PAY_C", "user-1", "kb", now)); err != nil {
		t.Fatalf("ReserveOrder after release: %v", err)
	}
}

func TestMemoryStoreUpdateOrderVersioning(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	if err := store.ReserveOrder(ctx, newTestOrder("PAY_V", "user-1", "", now)); err != nil {
		t.Fatalf("ReserveOrder: %v", err)
	}
	order, err := store.GetByReferenceID(ctx, "PAY_V")
	if err != nil {
		t.Fatalf("GetByReferenceID: %v", err)
	}

	stale := order
	order.Status = StatusSuccess
	order.History = append(order.History, HistoryEntry{Status: StatusSuccess, Timestamp: now.Add(time.Second)})
	updated, err := store.UpdateOrder(ctx, order)
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if updated.Version != 1 || updated.Status != StatusSuccess || len(updated.History) != 2 {
		t.Fatalf("updated = %+v", updated)
	}

	stale.Status = StatusFailed
	if _, err := store.UpdateOrder(ctx, stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale update err = %v, want ErrVersionConflict", err)
	}

	missing := newTestOrder("PAY_missing", "user-1", "", now)
	if _, err := store.UpdateOrder(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing update err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	if err := store.ReserveOrder(ctx, newTestOrder("PAY_C", "user-1", "", now)); err != nil {
		t.Fatalf("ReserveOrder: %v", err)
	}
	got, _ := store.GetByReferenceID(ctx, "PAY_C")
	got.History[0].Status = StatusRefunded

	again, _ := store.GetByReferenceID(ctx, "PAY_C")
	if again.History[0].Status != StatusPending {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestMemoryStoreListByUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		order := newTestOrder(fmt.Sprintf("PAY_%d", i), "user-1", "", base.Add(time.Duration(i)*time.Minute))
		if err := store.ReserveOrder(ctx, order); err != nil {
			t.Fatalf("ReserveOrder: %v", err)
		}
	}
	if err := store.ReserveOrder(ctx, newTestOrder("PAY_other", "user-2", "", base)); err != nil {
		t.Fatalf("ReserveOrder: %v", err)
	}

	tests := []struct {
		name        string
		skip, limit int
		want        []string
	}{
		{"first page", 0, 2, []string{"PAY_4", "PAY_3"}},
		{"second page", 2, 2, []string{"PAY_2", "PAY_1"}},
		{"tail", 4, 10, []string{"PAY_0"}},
		{"past end", 10, 10, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListByUser(ctx, "user-1", tt.skip, tt.limit)
			if err != nil {
				t.Fatalf("ListByUser: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i].ReferenceID != tt.want[i] {
					t.Fatalf("got[%d] = %s, want %s", i, got[i].ReferenceID, tt.want[i])
				}
			}
		})
	}

	empty, err := store.ListByUser(ctx, "nobody", 0, 10)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("unknown user: %v, %v", empty, err)
	}
}

func TestMemoryStoreListStaleReservations(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	_ = store.ReserveOrder(ctx, newTestOrder("PAY_old", "user-1", "", now.Add(-10*time.Minute)))
	_ = store.ReserveOrder(ctx, newTestOrder("PAY_new", "user-1", "", now))
	_ = store.ReserveOrder(ctx, newTestOrder("PAY_done", "user-1", "", now.Add(-20*time.Minute)))
	if _, err := store.AttachGatewayOrder(ctx, "PAY_done", "order_done"); err != nil {
		t.Fatalf("AttachGatewayOrder: %v", err)
	}

	stale, err := store.ListStaleReservations(ctx, now.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStaleReservations: %v", err)
	}
	if len(stale) != 1 || stale[0].ReferenceID != "PAY_old" {
		t.Fatalf("stale = %+v", stale)
	}
}

func TestNewStoreSelectsBackend(t *testing.T) {
	store, err := NewStore(StoreConfig{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("store = %T, want *MemoryStore", store)
	}

	if _, err := NewStore(StoreConfig{Backend: "file"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := NewStore(StoreConfig{Backend: "mongodb"}); err == nil {
		t.Fatal("expected error for mongodb without url")
	}
}
