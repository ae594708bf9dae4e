package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/CedrosPay/ledger/internal/auth"
	"github.com/CedrosPay/ledger/internal/config"
	apierrors "github.com/CedrosPay/ledger/internal/errors"
	"github.com/CedrosPay/ledger/internal/metrics"
)

// Limit types reported in metrics.
const (
	LimitGlobal  = "global"
	LimitPerUser = "per_user"
	LimitPerIP   = "per_ip"
)

// Config holds rate limiting configuration.
type Config struct {
	// Global rate limiting (across all callers)
	GlobalEnabled bool
	GlobalLimit   int           // requests per window
	GlobalWindow  time.Duration // time window

	// Per authenticated user, keyed by the token's user id
	PerUserEnabled bool
	PerUserLimit   int
	PerUserWindow  time.Duration

	// Per client IP, for routes without a user (verify, webhook)
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	// Metrics collector (optional)
	Metrics *metrics.Metrics
}

// DefaultConfig returns sensible default rate limits.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  time.Minute,

		PerUserEnabled: true,
		PerUserLimit:   60,
		PerUserWindow:  time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   120,
		PerIPWindow:  time.Minute,
	}
}

// ConfigFrom maps the service config.
func ConfigFrom(cfg config.RateLimitConfig, m *metrics.Metrics) Config {
	return Config{
		GlobalEnabled:  cfg.GlobalEnabled,
		GlobalLimit:    cfg.GlobalLimit,
		GlobalWindow:   cfg.GlobalWindow.Duration,
		PerUserEnabled: cfg.PerUserEnabled,
		PerUserLimit:   cfg.PerUserLimit,
		PerUserWindow:  cfg.PerUserWindow.Duration,
		PerIPEnabled:   cfg.PerIPEnabled,
		PerIPLimit:     cfg.PerIPLimit,
		PerIPWindow:    cfg.PerIPWindow.Duration,
		Metrics:        m,
	}
}

// limitHandler answers a throttled request.
func limitHandler(limitType string, window time.Duration, m *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	retryAfter := int(window.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	var message string
	switch limitType {
	case LimitGlobal:
		message = "Global rate limit exceeded. Please try again later."
	case LimitPerUser:
		message = "Too many requests for this user. Please try again later."
	case LimitPerIP:
		message = "IP rate limit exceeded. Please try again later."
	default:
		message = "Rate limit exceeded. Please try again later."
	}

	return func(w http.ResponseWriter, r *http.Request) {
		m.ObserveRateLimit(limitType)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeRateLimited, message, "retry_after_seconds", retryAfter)
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// exemptAdmins skips limiter for requests carrying the admin key.
func exemptAdmins(limiter func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth.IsAdminRequest(r) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// GlobalLimiter creates a global rate limiter middleware.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return passthrough
	}
	return exemptAdmins(httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithKeyFuncs(func(*http.Request) (string, error) { return "global", nil }),
		httprate.WithLimitHandler(limitHandler(LimitGlobal, cfg.GlobalWindow, cfg.Metrics)),
	))
}

// UserLimiter limits each authenticated user. It must run after the bearer
// middleware; requests without a principal fall back to their IP.
func UserLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerUserEnabled {
		return passthrough
	}
	return exemptAdmins(httprate.Limit(
		cfg.PerUserLimit,
		cfg.PerUserWindow,
		httprate.WithKeyFuncs(userKey),
		httprate.WithLimitHandler(limitHandler(LimitPerUser, cfg.PerUserWindow, cfg.Metrics)),
	))
}

// IPLimiter creates a per-IP rate limiter middleware.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return passthrough
	}
	return exemptAdmins(httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitHandler(LimitPerIP, cfg.PerIPWindow, cfg.Metrics)),
	))
}

func userKey(r *http.Request) (string, error) {
	if p, ok := auth.FromRequest(r); ok && p.ID != "" {
		return "user:" + p.ID, nil
	}
	return httprate.KeyByIP(r)
}
