package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/CedrosPay/ledger/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultOperationTimeout bounds a single cache call made through Safe.
const DefaultOperationTimeout = 500 * time.Millisecond

// ClaimResult is the outcome of a Claim.
type ClaimResult int

const (
	// ClaimAcquired means the caller now owns the key.
	ClaimAcquired ClaimResult = iota
	// ClaimHeld means another caller already owns the key.
	ClaimHeld
	// ClaimUnavailable means the cache could not answer.
	ClaimUnavailable
)

func (r ClaimResult) String() string {
	switch r {
	case ClaimAcquired:
		return "acquired"
	case ClaimHeld:
		return "held"
	default:
		return "unavailable"
	}
}

// Safe wraps a Cache so that failures are logged, counted and swallowed.
type Safe struct {
	cache   Cache
	ttls    TTLs
	timeout time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewSafe wraps c. A zero timeout uses DefaultOperationTimeout.
func NewSafe(c Cache, ttls TTLs, timeout time.Duration, logger zerolog.Logger, m *metrics.Metrics) *Safe {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &Safe{
		cache:   c,
		ttls:    ttls.withDefaults(),
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
}

// TTLs returns the configured namespace TTLs.
func (s *Safe) TTLs() TTLs { return s.ttls }

func (s *Safe) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Safe) fail(op, key string, err error) {
	s.metrics.ObserveCacheError(op)
	s.logger.Warn().Err(err).Str("op", op).Str("key", key).Msg("cache.bypassed")
}

// GetJSON decodes the value at key into dst. Reports false on a miss or any failure.
func (s *Safe) GetJSON(ctx context.Context, ns Namespace, key string, dst any) bool {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			s.fail("get", key, err)
		}
		s.metrics.ObserveCacheLookup(string(ns), false)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.fail("decode", key, err)
		s.metrics.ObserveCacheLookup(string(ns), false)
		return false
	}
	s.metrics.ObserveCacheLookup(string(ns), true)
	return true
}

// SetJSON stores v at key with the namespace TTL.
func (s *Safe) SetJSON(ctx context.Context, ns Namespace, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.fail("encode", key, err)
		return
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.cache.Set(ctx, key, raw, s.ttls.For(ns)); err != nil {
		s.fail("set", key, err)
	}
}

// Set stores a raw value with an explicit ttl.
func (s *Safe) Set(ctx context.Context, key, value string, ttl time.Duration) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.cache.Set(ctx, key, []byte(value), ttl); err != nil {
		s.fail("set", key, err)
	}
}

// Delete removes keys.
func (s *Safe) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.fail("delete", keys[0], err)
	}
}

// Counter reads the integer at key. A missing key reads as 0.
// Reports false when the cache failed and the value is unknown.
func (s *Safe) Counter(ctx context.Context, key string) (int64, bool) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	raw, err := s.cache.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		return 0, true
	}
	if err != nil {
		s.fail("get", key, err)
		return 0, false
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		s.fail("decode", key, err)
		return 0, false
	}
	return n, true
}

// Incr bumps the counter at key. Reports false on failure.
func (s *Safe) Incr(ctx context.Context, key string) (int64, bool) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	n, err := s.cache.Incr(ctx, key)
	if err != nil {
		s.fail("incr", key, err)
		return 0, false
	}
	return n, true
}

// Claim stores value at key only if no one holds it.
func (s *Safe) Claim(ctx context.Context, key, value string, ttl time.Duration) ClaimResult {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	ok, err := s.cache.SetNX(ctx, key, []byte(value), ttl)
	if err != nil {
		s.fail("setnx", key, err)
		return ClaimUnavailable
	}
	if !ok {
		return ClaimHeld
	}
	return ClaimAcquired
}

// Flush deletes every key in the namespace. Unlike the other methods it
// returns the error, since an operator asked for it explicitly.
func (s *Safe) Flush(ctx context.Context, ns Namespace) (int64, error) {
	n, err := s.cache.ScanDelete(ctx, ns.Prefix())
	if err != nil {
		s.metrics.ObserveCacheError("flush")
		return n, err
	}
	s.logger.Info().Str("namespace", string(ns)).Int64("deleted", n).Msg("cache.flushed")
	return n, nil
}

// Ping checks the underlying cache.
func (s *Safe) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.cache.Ping(ctx)
}
