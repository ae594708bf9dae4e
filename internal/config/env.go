package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variables on top of the YAML values.
// LEDGER_* names win; the unprefixed names used by the original Node
// deployment (RAZORPAY_*, JWT_SECRET, MONGO_URI, REDIS_URL, ...) are accepted
// as fallbacks so existing .env files keep working.
func (c *Config) applyEnvOverrides() {
	// Server
	setIfEnv(&c.Server.Address, "LEDGER_SERVER_ADDRESS")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("LEDGER_SERVER_ADDRESS") == "" {
		c.Server.Address = ":" + port
	}
	setIfEnv(&c.Server.RoutePrefix, "LEDGER_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminAPIKey, "LEDGER_ADMIN_API_KEY")
	setListIfEnv(&c.Server.CORSAllowedOrigins, "LEDGER_CORS_ALLOWED_ORIGINS")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging
	setIfEnv(&c.Logging.Level, "LEDGER_LOG_LEVEL", "LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "LEDGER_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "LEDGER_ENVIRONMENT", "NODE_ENV")

	// Storage
	setIfEnv(&c.Storage.Backend, "LEDGER_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "LEDGER_POSTGRES_URL", "DATABASE_URL")
	setIfEnv(&c.Storage.MongoDBURL, "LEDGER_MONGODB_URL", "MONGO_URI")
	setIfEnv(&c.Storage.MongoDBDatabase, "LEDGER_MONGODB_DATABASE")
	setIfEnv(&c.Storage.PaymentsTable, "LEDGER_PAYMENTS_TABLE")
	setDurationIfEnv(&c.Storage.QueryTimeout, "LEDGER_QUERY_TIMEOUT")

	// Cache
	setIfEnv(&c.Cache.Backend, "LEDGER_CACHE_BACKEND")
	setIfEnv(&c.Cache.RedisURL, "LEDGER_REDIS_URL", "REDIS_URL")
	if host := os.Getenv("REDIS_HOST"); host != "" && os.Getenv("LEDGER_REDIS_ADDR") == "" {
		port := os.Getenv("REDIS_PORT")
		if port == "" {
			port = "6379"
		}
		c.Cache.RedisAddr = host + ":" + port
	}
	setIfEnv(&c.Cache.RedisAddr, "LEDGER_REDIS_ADDR")
	setIfEnv(&c.Cache.RedisPassword, "LEDGER_REDIS_PASSWORD", "REDIS_PASSWORD")
	setIntIfEnv(&c.Cache.RedisDB, "LEDGER_REDIS_DB")
	setDurationIfEnv(&c.Cache.OperationTimeout, "LEDGER_CACHE_TIMEOUT")
	setDurationIfEnv(&c.Cache.PaymentHistoryTTL, "LEDGER_PAYMENT_HISTORY_TTL")
	setDurationIfEnv(&c.Cache.WebhookEventTTL, "LEDGER_WEBHOOK_EVENT_TTL")

	// Gateway
	setIfEnv(&c.Gateway.Provider, "LEDGER_GATEWAY_PROVIDER")
	setIfEnv(&c.Gateway.KeyID, "LEDGER_GATEWAY_KEY_ID", "RAZORPAY_KEY_ID")
	setIfEnv(&c.Gateway.KeySecret, "LEDGER_GATEWAY_KEY_SECRET", "RAZORPAY_KEY_SECRET")
	setIfEnv(&c.Gateway.WebhookSecret, "LEDGER_GATEWAY_WEBHOOK_SECRET", "RAZORPAY_WEBHOOK_SECRET")
	setIfEnv(&c.Gateway.BaseURL, "LEDGER_GATEWAY_BASE_URL")
	setDurationIfEnv(&c.Gateway.Timeout, "LEDGER_GATEWAY_TIMEOUT")
	setIfEnv(&c.Gateway.StripeSecretKey, "LEDGER_STRIPE_SECRET_KEY", "STRIPE_SECRET_KEY")

	// Auth
	setIfEnv(&c.Auth.JWTSecret, "LEDGER_JWT_SECRET", "JWT_SECRET")
	setIfEnv(&c.Auth.Issuer, "LEDGER_JWT_ISSUER")

	// Events
	setBoolIfEnv(&c.Events.Enabled, "LEDGER_EVENTS_ENABLED")
	setListIfEnv(&c.Events.Brokers, "LEDGER_KAFKA_BROKERS", "KAFKA_BROKER")
	setIfEnv(&c.Events.Topic, "LEDGER_KAFKA_TOPIC")

	// Tracing
	setBoolIfEnv(&c.Tracing.Enabled, "LEDGER_TRACING_ENABLED")
	setIfEnv(&c.Tracing.JaegerEndpoint, "LEDGER_JAEGER_ENDPOINT", "OTEL_EXPORTER_JAEGER_ENDPOINT")

	// Reconcile
	setBoolIfEnv(&c.Reconcile.Enabled, "LEDGER_RECONCILE_ENABLED")
	setDurationIfEnv(&c.Reconcile.Interval, "LEDGER_RECONCILE_INTERVAL")
	setDurationIfEnv(&c.Reconcile.Grace, "LEDGER_RECONCILE_GRACE")

	// Circuit breaker
	setBoolIfEnv(&c.CircuitBreaker.Enabled, "LEDGER_CIRCUIT_BREAKER_ENABLED")
}

// setIfEnv sets target from the first non-empty variable in keys.
func setIfEnv(target *string, keys ...string) {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			*target = val
			return
		}
	}
}

// setBoolIfEnv accepts "1" and "true" (any case) as true.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv parses values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// setListIfEnv splits a comma separated variable.
func setListIfEnv(target *[]string, keys ...string) {
	for _, key := range keys {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*target = out
		return
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
