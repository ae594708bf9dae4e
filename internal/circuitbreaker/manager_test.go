package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/CedrosPay/ledger/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	mgr := NewManager(Config{
		Enabled: true,
		Gateway: BreakerConfig{MaxRequests: 1, Timeout: time.Minute, ConsecutiveFailures: 2},
	}, WithMetrics(m))

	boom := errors.New("gateway 503")
	for i := 0; i < 2; i++ {
		_, err := Do(mgr, ServiceGateway, func() (string, error) { return "", boom })
		if !errors.Is(err, boom) {
			t.Fatalf("call %d err = %v", i, err)
		}
	}

	calls := 0
	_, err := Do(mgr, ServiceGateway, func() (string, error) { calls++; return "ok", nil })
	if !IsOpen(err) {
		t.Fatalf("err = %v, want open breaker", err)
	}
	if calls != 0 {
		t.Fatal("open breaker must not call through")
	}
	if got := mgr.State(ServiceGateway); got != "open" {
		t.Fatalf("State = %q", got)
	}
	if got := promtest.ToFloat64(m.BreakerStateChanges.WithLabelValues("payment_gateway", "open")); got != 1 {
		t.Fatalf("open transitions = %v", got)
	}

	// Events have their own breaker.
	if got := mgr.State(ServiceEvents); got != "closed" {
		t.Fatalf("events State = %q", got)
	}
}

func TestDisabledManagerPassesThrough(t *testing.T) {
	mgr := NewManager(Config{Enabled: false})
	got, err := Do(mgr, ServiceGateway, func() (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Fatalf("Do = %d, %v", got, err)
	}
	if mgr.State(ServiceGateway) != "disabled" {
		t.Fatalf("State = %q", mgr.State(ServiceGateway))
	}

	var nilMgr *Manager
	if got, _ := Do(nilMgr, ServiceEvents, func() (string, error) { return "x", nil }); got != "x" {
		t.Fatal("nil manager should pass through")
	}
}

func TestFailureRatioTrips(t *testing.T) {
	mgr := NewManager(Config{
		Enabled: true,
		Gateway: BreakerConfig{MaxRequests: 1, Timeout: time.Minute, FailureRatio: 0.5, MinRequests: 4},
	})
	outcomes := []error{nil, errors.New("x"), nil, errors.New("y")}
	for _, want := range outcomes {
		_, _ = Do(mgr, ServiceGateway, func() (bool, error) { return want == nil, want })
	}
	if got := mgr.State(ServiceGateway); got != "open" {
		t.Fatalf("State = %q, want open", got)
	}
}
