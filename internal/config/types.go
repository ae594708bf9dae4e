package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses Go-style duration strings; bare numbers are seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err == nil {
		d.Duration = parsed
		return nil
	}
	if secs, convErr := time.ParseDuration(raw + "s"); convErr == nil {
		d.Duration = secs
		return nil
	}
	return fmt.Errorf("invalid duration value %q: %w", raw, err)
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application configuration aggregated from file and environment.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Storage        StorageConfig        `yaml:"storage"`
	Cache          CacheConfig          `yaml:"cache"`
	Gateway        GatewayConfig        `yaml:"gateway"`
	Auth           AuthConfig           `yaml:"auth"`
	Ledger         LedgerConfig         `yaml:"ledger"`
	Events         EventsConfig         `yaml:"events"`
	Tracing        TracingConfig        `yaml:"tracing"`
	Reconcile      ReconcileConfig      `yaml:"reconcile"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`  // e.g. "/api"
	AdminAPIKey        string   `yaml:"admin_api_key"` // protects /metrics and /admin; empty leaves them open
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`  // debug, info, warn, error
	Format      string `yaml:"format"` // json, console
	Environment string `yaml:"environment"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// StorageConfig selects and configures the payment order store.
type StorageConfig struct {
	Backend         string             `yaml:"backend"` // memory, postgres, mongodb
	PostgresURL     string             `yaml:"postgres_url"`
	MongoDBURL      string             `yaml:"mongodb_url"`
	MongoDBDatabase string             `yaml:"mongodb_database"`
	PaymentsTable   string             `yaml:"payments_table"` // table or collection name
	QueryTimeout    Duration           `yaml:"query_timeout"`
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`
}

// CacheConfig configures the cache layer and the TTL of each keyspace.
type CacheConfig struct {
	Backend           string   `yaml:"backend"` // redis, memory
	RedisURL          string   `yaml:"redis_url"`
	RedisAddr         string   `yaml:"redis_addr"`
	RedisPassword     string   `yaml:"redis_password"`
	RedisDB           int      `yaml:"redis_db"`
	OperationTimeout  Duration `yaml:"operation_timeout"`
	UserTTL           Duration `yaml:"user_ttl"`
	SessionTTL        Duration `yaml:"session_ttl"`
	PaymentHistoryTTL Duration `yaml:"payment_history_ttl"`
	WebhookEventTTL   Duration `yaml:"webhook_event_ttl"`
	WebhookClaimTTL   Duration `yaml:"webhook_claim_ttl"` // how long an in-flight delivery holds an event id
}

// GatewayConfig configures the payment gateway client.
type GatewayConfig struct {
	Provider        string   `yaml:"provider"` // razorpay, stripe
	KeyID           string   `yaml:"key_id"`
	KeySecret       string   `yaml:"key_secret"`
	WebhookSecret   string   `yaml:"webhook_secret"`
	BaseURL         string   `yaml:"base_url"`
	Timeout         Duration `yaml:"timeout"`
	MaxRetries      int      `yaml:"max_retries"` // retries for idempotent reads only
	StripeSecretKey string   `yaml:"stripe_secret_key"`
}

// AuthConfig configures bearer-token verification for the payment API.
type AuthConfig struct {
	JWTSecret   string   `yaml:"jwt_secret"`
	Issuer      string   `yaml:"issuer"`       // optional; checked when set
	CreateRoles []string `yaml:"create_roles"` // roles allowed to create payments
	AdminRole   string   `yaml:"admin_role"`   // may read any user's payments
}

// LedgerConfig tunes ledger behaviour.
type LedgerConfig struct {
	DefaultHistoryCount int      `yaml:"default_history_count"`
	MaxHistoryCount     int      `yaml:"max_history_count"`
	WriteTimeout        Duration `yaml:"write_timeout"` // bound on writes detached from the request context
}

// EventsConfig configures the Kafka payment event publisher.
type EventsConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	ServiceName    string  `yaml:"service_name"`
	SampleRatio    float64 `yaml:"sample_ratio"`
	JaegerEndpoint string  `yaml:"jaeger_endpoint"` // collector URL; spans are dropped when empty
}

// ReconcileConfig configures the orphaned-reservation sweep.
type ReconcileConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Interval  Duration `yaml:"interval"`
	Grace     Duration `yaml:"grace"` // minimum reservation age before it is examined
	BatchSize int      `yaml:"batch_size"`
}

// RateLimitConfig holds multi-tier rate limiting configuration.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per authenticated user (JWT subject)
	PerUserEnabled bool     `yaml:"per_user_enabled"`
	PerUserLimit   int      `yaml:"per_user_limit"`
	PerUserWindow  Duration `yaml:"per_user_window"`

	// Per client IP, used for unauthenticated routes
	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Gateway BreakerServiceConfig `yaml:"gateway"`
	Events  BreakerServiceConfig `yaml:"events"` // Kafka publisher
}

// BreakerServiceConfig configures a circuit breaker for one external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // requests allowed while half-open
	Interval            Duration `yaml:"interval"`             // closed-state counter reset
	Timeout             Duration `yaml:"timeout"`              // open duration before half-open
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // failures to trip
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"` // before the ratio is considered
}
