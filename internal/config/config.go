package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
// An empty path skips the file and relies on defaults plus the environment.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Storage: StorageConfig{
			Backend:         "mongodb",
			MongoDBDatabase: "payments",
			PaymentsTable:   "payment_orders",
			QueryTimeout:    Duration{Duration: 5 * time.Second},
		},
		Cache: CacheConfig{
			Backend:           "redis",
			RedisAddr:         "localhost:6379",
			OperationTimeout:  Duration{Duration: 500 * time.Millisecond},
			UserTTL:           Duration{Duration: time.Hour},
			SessionTTL:        Duration{Duration: 24 * time.Hour},
			PaymentHistoryTTL: Duration{Duration: 2 * time.Hour},
			WebhookEventTTL:   Duration{Duration: 24 * time.Hour},
			WebhookClaimTTL:   Duration{Duration: 5 * time.Minute},
		},
		Gateway: GatewayConfig{
			Provider:   "razorpay",
			BaseURL:    "https://api.razorpay.com",
			Timeout:    Duration{Duration: 10 * time.Second},
			MaxRetries: 2,
		},
		Auth: AuthConfig{
			CreateRoles: []string{"USER"},
			AdminRole:   "ADMIN",
		},
		Ledger: LedgerConfig{
			DefaultHistoryCount: 10,
			MaxHistoryCount:     100,
			WriteTimeout:        Duration{Duration: 15 * time.Second},
		},
		Events: EventsConfig{
			Topic:    "payment-events",
			ClientID: "payment-ledger",
		},
		Tracing: TracingConfig{
			ServiceName: "payment-ledger",
			SampleRatio: 1.0,
		},
		Reconcile: ReconcileConfig{
			Enabled:   true,
			Interval:  Duration{Duration: 5 * time.Minute},
			Grace:     Duration{Duration: 2 * time.Minute},
			BatchSize: 100,
		},
		RateLimit: RateLimitConfig{
			GlobalEnabled:  true,
			GlobalLimit:    1000,
			GlobalWindow:   Duration{Duration: time.Minute},
			PerUserEnabled: true,
			PerUserLimit:   60,
			PerUserWindow:  Duration{Duration: time.Minute},
			PerIPEnabled:   true,
			PerIPLimit:     120,
			PerIPWindow:    Duration{Duration: time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Gateway: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Events: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
	}
}

func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
