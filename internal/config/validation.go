package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		// Infer the backend from whichever URL was supplied.
		switch {
		case c.Storage.PostgresURL != "":
			c.Storage.Backend = "postgres"
		case c.Storage.MongoDBURL != "":
			c.Storage.Backend = "mongodb"
		default:
			c.Storage.Backend = "memory"
		}
	}
	if c.Storage.PaymentsTable == "" {
		c.Storage.PaymentsTable = "payment_orders"
	}
	if c.Storage.QueryTimeout.Duration <= 0 {
		c.Storage.QueryTimeout = Duration{Duration: 5 * time.Second}
	}

	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if c.Cache.Backend == "" {
		if c.Cache.RedisURL != "" {
			c.Cache.Backend = "redis"
		} else {
			c.Cache.Backend = "memory"
		}
	}
	if c.Cache.OperationTimeout.Duration <= 0 {
		c.Cache.OperationTimeout = Duration{Duration: 500 * time.Millisecond}
	}
	if c.Cache.WebhookClaimTTL.Duration <= 0 {
		c.Cache.WebhookClaimTTL = Duration{Duration: 5 * time.Minute}
	}

	c.Gateway.Provider = strings.ToLower(strings.TrimSpace(c.Gateway.Provider))
	if c.Gateway.Timeout.Duration <= 0 {
		c.Gateway.Timeout = Duration{Duration: 10 * time.Second}
	}
	if c.Gateway.MaxRetries < 0 {
		c.Gateway.MaxRetries = 0
	}

	if c.Auth.AdminRole == "" {
		c.Auth.AdminRole = "ADMIN"
	}
	if len(c.Auth.CreateRoles) == 0 {
		c.Auth.CreateRoles = []string{"USER"}
	}

	if c.Ledger.DefaultHistoryCount <= 0 {
		c.Ledger.DefaultHistoryCount = 10
	}
	if c.Ledger.MaxHistoryCount < c.Ledger.DefaultHistoryCount {
		c.Ledger.MaxHistoryCount = c.Ledger.DefaultHistoryCount
	}
	if c.Ledger.WriteTimeout.Duration <= 0 {
		c.Ledger.WriteTimeout = Duration{Duration: 15 * time.Second}
	}

	if c.Reconcile.BatchSize <= 0 {
		c.Reconcile.BatchSize = 100
	}

	return c.validate()
}

// validate checks that required fields are set and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, "storage.postgres_url is required for the postgres backend")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			errs = append(errs, "storage.mongodb_url is required for the mongodb backend")
		}
		if c.Storage.MongoDBDatabase == "" {
			errs = append(errs, "storage.mongodb_database is required for the mongodb backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not one of memory, postgres, mongodb", c.Storage.Backend))
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" && c.Cache.RedisAddr == "" {
			errs = append(errs, "cache.redis_url or cache.redis_addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache.backend %q is not one of memory, redis", c.Cache.Backend))
	}

	switch c.Gateway.Provider {
	case "razorpay":
		if c.Gateway.KeyID == "" {
			errs = append(errs, "gateway.key_id is required")
		}
	case "stripe":
		if c.Gateway.StripeSecretKey == "" {
			errs = append(errs, "gateway.stripe_secret_key is required for the stripe provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("gateway.provider %q is not one of razorpay, stripe", c.Gateway.Provider))
	}
	// Both providers verify client confirmations and webhooks with HMAC secrets.
	if c.Gateway.KeySecret == "" {
		errs = append(errs, "gateway.key_secret is required")
	}
	if c.Gateway.WebhookSecret == "" {
		errs = append(errs, "gateway.webhook_secret is required")
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required")
	}

	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			errs = append(errs, "events.brokers is required when events are enabled")
		}
		if c.Events.Topic == "" {
			errs = append(errs, "events.topic is required when events are enabled")
		}
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sample_ratio must be between 0 and 1")
	}

	if c.Reconcile.Enabled && c.Reconcile.Interval.Duration <= 0 {
		errs = append(errs, "reconcile.interval must be positive when reconciliation is enabled")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies pool settings, falling back to defaults
// for unset values.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
