package cacheutil

import (
	"context"
	"errors"
	"testing"
)

func TestWriteThroughInvalidatesOnSuccess(t *testing.T) {
	var invalidated string
	got, err := WriteThrough(context.Background(),
		func(context.Context) (string, error) { return "user-1", nil },
		func(_ context.Context, user string) { invalidated = user },
	)
	if err != nil || got != "user-1" {
		t.Fatalf("WriteThrough = %q, %v", got, err)
	}
	if invalidated != "user-1" {
		t.Fatalf("invalidated = %q", invalidated)
	}
}

func TestWriteThroughSkipsInvalidateOnError(t *testing.T) {
	called := false
	_, err := WriteThrough(context.Background(),
		func(context.Context) (int, error) { return 0, errors.New("write failed") },
		func(context.Context, int) { called = true },
	)
	if err == nil {
		t.Fatal("expected error")
	}
	if called {
		t.Fatal("invalidate must not run after a failed write")
	}
}
