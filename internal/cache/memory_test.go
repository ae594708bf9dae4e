package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestMemoryCache(t *testing.T, size int) (*MemoryCache, *time.Time) {
	t.Helper()
	c := NewMemoryCacheWithSize(size, time.Hour)
	t.Cleanup(func() { _ = c.Close() })
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c, now := newTestMemoryCache(t, 10)

	if err := c.Set(ctx, "user:1", []byte("alice"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, "user:1")
	if err != nil || string(got) != "alice" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	*now = now.Add(time.Minute)
	if _, err := c.Get(ctx, "user:1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expired Get err = %v, want ErrMiss", err)
	}
}

func TestMemoryCacheSetNX(t *testing.T) {
	ctx := context.Background()
	c, now := newTestMemoryCache(t, 10)

	ok, _ := c.SetNX(ctx, "webhook_event:evt_1", []byte("processing"), time.Minute)
	if !ok {
		t.Fatal("first SetNX should store")
	}
	ok, _ = c.SetNX(ctx, "webhook_event:evt_1", []byte("processing"), time.Minute)
	if ok {
		t.Fatal("second SetNX should not store")
	}

	// An expired claim can be taken again.
	*now = now.Add(2 * time.Minute)
	ok, _ = c.SetNX(ctx, "webhook_event:evt_1", []byte("processing"), time.Minute)
	if !ok {
		t.Fatal("SetNX after expiry should store")
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestMemoryCache(t, 2)

	_ = c.Set(ctx, "a", []byte("1"), 0)
	_ = c.Set(ctx, "b", []byte("2"), 0)
	_, _ = c.Get(ctx, "a")
	_ = c.Set(ctx, "c", []byte("3"), 0)

	if _, err := c.Get(ctx, "b"); !errors.Is(err, ErrMiss) {
		t.Fatal("b should have been evicted")
	}
	if _, err := c.Get(ctx, "a"); err != nil {
		t.Fatalf("a should survive: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
}

func TestMemoryCacheIncr(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestMemoryCache(t, 10)

	for want := int64(1); want <= 3; want++ {
		n, err := c.Incr(ctx, "payment_history:user-1:v")
		if err != nil || n != want {
			t.Fatalf("Incr = %d, %v; want %d", n, err, want)
		}
	}

	_ = c.Set(ctx, "bad", []byte("not-a-number"), 0)
	if _, err := c.Incr(ctx, "bad"); err == nil {
		t.Fatal("Incr on non-integer should fail")
	}
}

func TestMemoryCacheScanDelete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestMemoryCache(t, 10)

	_ = c.Set(ctx, NamespacePaymentHistory.Key("u1"), []byte("x"), 0)
	_ = c.Set(ctx, NamespacePaymentHistory.Key("u2"), []byte("x"), 0)
	_ = c.Set(ctx, NamespaceUser.Key("u1"), []byte("x"), 0)

	n, err := c.ScanDelete(ctx, NamespacePaymentHistory.Prefix())
	if err != nil || n != 2 {
		t.Fatalf("ScanDelete = %d, %v; want 2", n, err)
	}
	if _, err := c.Get(ctx, NamespaceUser.Key("u1")); err != nil {
		t.Fatalf("other namespace must survive: %v", err)
	}
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestMemoryCache(t, 10)

	value := []byte("abc")
	_ = c.Set(ctx, "k", value, 0)
	value[0] = 'z'

	got, _ := c.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("Get = %q, want abc", got)
	}
}
