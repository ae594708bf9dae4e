// Package cache provides the key-value cache used for payment history,
// webhook de-duplication and user/session lookups.
//
// Every read and write through Safe is best-effort: a cache outage degrades to
// a miss or a no-op and never fails the caller's operation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CedrosPay/ledger/internal/config"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is the minimal set of operations the ledger needs from a key-value store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only when key does not exist. Reports whether it stored.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	// Incr atomically increments the integer at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	// ScanDelete removes every key starting with prefix and returns the count.
	ScanDelete(ctx context.Context, prefix string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// New builds the configured backend: "redis" or "memory".
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisCache(cfg)
	case "", "memory":
		return NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}
