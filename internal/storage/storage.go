package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/CedrosPay/ledger/internal/config"
)

var (
	// ErrNotFound is returned when a requested order is missing from the store.
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicate is returned when an insert collides with an existing
	// reference id or (user id, idempotency key) pair.
	ErrDuplicate = errors.New("storage: duplicate order")

	// ErrVersionConflict is returned when UpdateOrder sees a version other than
	// the one the caller read.
	ErrVersionConflict = errors.New("storage: version conflict")
)

// Store persists payment orders.
//
// The create path is reservation-first: ReserveOrder inserts the order with an
// empty gateway order id, AttachGatewayOrder fills it in once the gateway has
// answered, and ReleaseReservation removes a reservation the gateway refused.
// The unique constraints on reference id and (user id, idempotency key) are
// what make concurrent creates with the same key collapse into one order.
type Store interface {
	// ReserveOrder inserts a new order. Returns ErrDuplicate on a unique collision.
	ReserveOrder(ctx context.Context, order PaymentOrder) error
	// AttachGatewayOrder sets the gateway order id on a reservation and bumps its version.
	AttachGatewayOrder(ctx context.Context, referenceID, orderID string) (PaymentOrder, error)
	// ReleaseReservation deletes the order only while it has no gateway order id.
	ReleaseReservation(ctx context.Context, referenceID string) error

	GetByReferenceID(ctx context.Context, referenceID string) (PaymentOrder, error)
	GetByOrderID(ctx context.Context, orderID string) (PaymentOrder, error)
	GetByIdempotencyKey(ctx context.Context, userID, key string) (PaymentOrder, error)

	// ListByUser returns a user's orders newest first.
	ListByUser(ctx context.Context, userID string, skip, limit int) ([]PaymentOrder, error)

	// UpdateOrder replaces the mutable fields of an order when the stored version
	// equals order.Version, then stores order.Version+1. The returned order
	// carries the new version.
	UpdateOrder(ctx context.Context, order PaymentOrder) (PaymentOrder, error)

	// ListStaleReservations returns reservations created before olderThan.
	ListStaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]PaymentOrder, error)

	Ping(ctx context.Context) error
	Close() error
}

// StoreConfig holds storage backend configuration.
type StoreConfig struct {
	Backend         string // "memory", "postgres" or "mongodb"
	PostgresURL     string
	MongoDBURL      string
	MongoDBDatabase string
	PostgresPool    config.PostgresPoolConfig
	QueryTimeout    time.Duration

	// Table name for Postgres, collection name for MongoDB. Default: "payment_orders".
	PaymentsTable string
}

// StoreConfigFrom maps the application config onto a StoreConfig.
func StoreConfigFrom(cfg config.StorageConfig) StoreConfig {
	return StoreConfig{
		Backend:         cfg.Backend,
		PostgresURL:     cfg.PostgresURL,
		MongoDBURL:      cfg.MongoDBURL,
		MongoDBDatabase: cfg.MongoDBDatabase,
		PostgresPool:    cfg.PostgresPool,
		QueryTimeout:    cfg.QueryTimeout.Duration,
		PaymentsTable:   cfg.PaymentsTable,
	}
}

// NewStore creates a Store instance based on the provided configuration.
func NewStore(cfg StoreConfig) (Store, error) {
	return NewStoreWithDB(cfg, nil)
}

// NewStoreWithDB creates a Store instance with an optional shared database pool.
// If sharedDB is non-nil for the postgres backend it is used instead of opening a new pool.
func NewStoreWithDB(cfg StoreConfig, sharedDB *sql.DB) (Store, error) {
	if cfg.PaymentsTable == "" {
		cfg.PaymentsTable = DefaultPaymentsTable
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}

	backend := cfg.Backend
	if backend == "" {
		switch {
		case cfg.PostgresURL != "":
			backend = "postgres"
		case cfg.MongoDBURL != "":
			backend = "mongodb"
		default:
			backend = "memory"
		}
	}

	switch backend {
	case "memory":
		// Memory backend loses every order on restart. Development and tests only.
		return NewMemoryStore(), nil
	case "postgres":
		if sharedDB != nil {
			return NewPostgresStoreWithDB(sharedDB, cfg.PaymentsTable, cfg.QueryTimeout)
		}
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool, cfg.PaymentsTable, cfg.QueryTimeout)
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_url")
		}
		if cfg.MongoDBDatabase == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_database")
		}
		return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase, cfg.PaymentsTable, cfg.QueryTimeout)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
