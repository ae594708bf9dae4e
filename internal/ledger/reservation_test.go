package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CedrosPay/ledger/internal/gateway"
	"github.com/CedrosPay/ledger/internal/storage"
)

func reserve(t *testing.T, h *harness, ref, key string, created time.Time) storage.PaymentOrder {
	t.Helper()
	order := storage.PaymentOrder{
		ReferenceID:    ref,
		UserID:         "U1",
		ProviderID:     "P1",
		AmountMinor:    50000,
		Currency:       "INR",
		Status:         storage.StatusPending,
		ServiceType:    storage.ServiceConsultation,
		IdempotencyKey: key,
		History:        []storage.HistoryEntry{{Status: storage.StatusPending, Timestamp: created}},
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	if err := h.store.ReserveOrder(context.Background(), order); err != nil {
		t.Fatalf("ReserveOrder: %v", err)
	}
	return order
}

func TestResolveReservationAttachesGatewayOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := reserve(t, h, "PAY_orphan", "K1", time.Now().Add(-time.Hour))
	h.gw.byReceipt["PAY_orphan"] = gateway.Order{ID: "order_found", Receipt: "PAY_orphan"}

	action, err := h.svc.ResolveReservation(ctx, order)
	if err != nil || action != ReservationAttached {
		t.Fatalf("ResolveReservation = %s, %v", action, err)
	}
	stored, _ := h.store.GetByOrderID(ctx, "order_found")
	if stored.ReferenceID != "PAY_orphan" {
		t.Fatalf("stored = %+v", stored)
	}

	// Webhooks for the order can now find it.
	ev := mustParse(t, webhookBody("evt_1", "payment.captured", "pay_1", "order_found", "captured", "upi"), "")
	res, err := h.svc.UpdatePaymentFromWebhook(ctx, ev)
	if err != nil || res.Outcome != OutcomeApplied {
		t.Fatalf("webhook after attach = %+v, %v", res, err)
	}
}

func TestResolveReservationReleasesWhenGatewayHasNoOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := reserve(t, h, "PAY_lost", "K1", time.Now().Add(-time.Hour))

	action, err := h.svc.ResolveReservation(ctx, order)
	if err != nil || action != ReservationReleased {
		t.Fatalf("ResolveReservation = %s, %v", action, err)
	}
	if _, err := h.store.GetByReferenceID(ctx, "PAY_lost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("reservation still present: %v", err)
	}

	in := validInput("U1")
	in.IdempotencyKey = "K1"
	if res := h.create(t, in); res.IsDuplicate {
		t.Fatal("released key should create a new order")
	}
}

func TestResolveReservationSkipsAttachedAndSurfacesGatewayErrors(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, validInput("U1"))
	attached, _ := h.store.GetByReferenceID(context.Background(), created.ReferenceID)

	action, err := h.svc.ResolveReservation(context.Background(), attached)
	if err != nil || action != ReservationSkipped {
		t.Fatalf("attached order = %s, %v", action, err)
	}

	order := reserve(t, h, "PAY_err", "K9", time.Now().Add(-time.Hour))
	h.gw.findErr = errors.New("gateway down")
	if _, err := h.svc.ResolveReservation(context.Background(), order); !errors.Is(err, ErrGateway) {
		t.Fatalf("err = %v, want ErrGateway", err)
	}
}

func TestStaleReservations(t *testing.T) {
	h := newHarness(t)
	reserve(t, h, "PAY_old", "K1", time.Now().Add(-time.Hour))
	reserve(t, h, "PAY_new", "K2", time.Now())
	h.create(t, validInput("U1"))

	stale, err := h.svc.StaleReservations(context.Background(), time.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("StaleReservations: %v", err)
	}
	if len(stale) != 1 || stale[0].ReferenceID != "PAY_old" {
		t.Fatalf("stale = %+v", stale)
	}
}
