package lifecycle

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestCloseRunsInReverseOrder(t *testing.T) {
	m := NewManager(zerolog.Nop())

	var order []string
	for _, name := range []string{"store", "cache", "producer"} {
		name := name
		m.RegisterFunc(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := []string{"producer", "cache", "store"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("close order = %v, want %v", order, want)
		}
	}
}

func TestCloseContinuesAfterFailure(t *testing.T) {
	m := NewManager(zerolog.Nop())

	errStore := errors.New("store close failed")
	storeClosed, cacheClosed := false, false
	m.RegisterFunc("store", func() error { storeClosed = true; return errStore })
	m.RegisterFunc("cache", func() error { cacheClosed = true; return errors.New("cache close failed") })

	err := m.Close()
	if !errors.Is(err, errStore) {
		t.Fatalf("expected joined error to contain store failure, got %v", err)
	}
	if !storeClosed || !cacheClosed {
		t.Fatal("all resources should be closed despite failures")
	}

	if err := m.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
}
