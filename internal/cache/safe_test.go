package cache

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/CedrosPay/ledger/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// newUnreachableRedis returns a client whose every dial fails.
func newUnreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: "localhost:0",
		Dialer: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return nil, errors.New("redis disabled in tests")
		},
		MaxRetries: -1,
	})
}

func TestSafeDegradesWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	rc := NewRedisCacheWithClient(newUnreachableRedis())
	t.Cleanup(func() { _ = rc.Close() })
	safe := NewSafe(rc, DefaultTTLs, 100*time.Millisecond, zerolog.Nop(), m)

	var dst []string
	if safe.GetJSON(ctx, NamespacePaymentHistory, NamespacePaymentHistory.Key("u1"), &dst) {
		t.Fatal("GetJSON should miss when redis is down")
	}
	safe.SetJSON(ctx, NamespacePaymentHistory, NamespacePaymentHistory.Key("u1"), []string{"a"})
	safe.Delete(ctx, NamespacePaymentHistory.Key("u1"))

	if _, ok := safe.Counter(ctx, "payment_history:u1:v"); ok {
		t.Fatal("Counter should report unknown when redis is down")
	}
	if _, ok := safe.Incr(ctx, "payment_history:u1:v"); ok {
		t.Fatal("Incr should fail when redis is down")
	}
	if got := safe.Claim(ctx, NamespaceWebhookEvent.Key("evt_1"), "processing", time.Minute); got != ClaimUnavailable {
		t.Fatalf("Claim = %v, want unavailable", got)
	}
	if _, err := safe.Flush(ctx, NamespaceUser); err == nil {
		t.Fatal("Flush should surface the error")
	}

	if got := promtest.ToFloat64(m.CacheErrorsTotal.WithLabelValues("get")); got != 2 {
		t.Errorf("get errors = %v, want 2", got)
	}
	if got := promtest.ToFloat64(m.CacheLookupsTotal.WithLabelValues("payment_history", "miss")); got != 1 {
		t.Errorf("history misses = %v, want 1", got)
	}
}

func TestSafeJSONRoundTripAndClaim(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	safe := NewSafe(mc, TTLs{}, 0, zerolog.Nop(), nil)

	type entry struct {
		Version int64    `json:"version"`
		Refs    []string `json:"refs"`
	}
	key := NamespacePaymentHistory.Key("u1")
	safe.SetJSON(ctx, NamespacePaymentHistory, key, entry{Version: 2, Refs: []string{"PAY_1"}})

	var got entry
	if !safe.GetJSON(ctx, NamespacePaymentHistory, key, &got) {
		t.Fatal("GetJSON should hit")
	}
	if got.Version != 2 || len(got.Refs) != 1 {
		t.Fatalf("got = %+v", got)
	}

	if n, ok := safe.Counter(ctx, "missing:v"); !ok || n != 0 {
		t.Fatalf("Counter on missing key = %d, %v", n, ok)
	}

	claimKey := NamespaceWebhookEvent.Key("evt_9")
	if r := safe.Claim(ctx, claimKey, "processing", time.Minute); r != ClaimAcquired {
		t.Fatalf("first claim = %v", r)
	}
	if r := safe.Claim(ctx, claimKey, "processing", time.Minute); r != ClaimHeld {
		t.Fatalf("second claim = %v", r)
	}
	safe.Delete(ctx, claimKey)
	if r := safe.Claim(ctx, claimKey, "processing", time.Minute); r != ClaimAcquired {
		t.Fatalf("claim after release = %v", r)
	}
}

func TestNamespaces(t *testing.T) {
	if ns, ok := ParseNamespace("payment_history"); !ok || ns != NamespacePaymentHistory {
		t.Fatalf("ParseNamespace(payment_history) = %q, %v", ns, ok)
	}
	if _, ok := ParseNamespace("products"); ok {
		t.Fatal("unknown namespace should not parse")
	}
	if got := NamespaceWebhookEvent.Key("evt_1"); got != "webhook_event:evt_1" {
		t.Fatalf("Key = %q", got)
	}

	ttls := TTLs{Session: time.Minute}.withDefaults()
	if ttls.For(NamespaceSession) != time.Minute || ttls.For(NamespaceUser) != time.Hour {
		t.Fatalf("ttls = %+v", ttls)
	}
	if DefaultTTLs.For(NamespacePaymentHistory) != 2*time.Hour || DefaultTTLs.For(NamespaceWebhookEvent) != 24*time.Hour {
		t.Fatal("unexpected default ttls")
	}
}
