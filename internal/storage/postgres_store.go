package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CedrosPay/ledger/internal/config"
	"github.com/lib/pq"
)

// pgUniqueViolation is the SQLSTATE Postgres returns for a unique constraint violation.
const pgUniqueViolation = "23505"

const orderColumns = `reference_id, user_id, provider_id, order_id, amount_minor, currency, status,
	payment_gateway, payment_method, payment_id, signature, service_type, description, notes,
	idempotency_key, history, refund_status, version, created_at, updated_at`

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db           *sql.DB
	ownsDB       bool // Close only closes pools this store opened
	table        string
	queryTimeout time.Duration
}

// NewPostgresStore opens a connection pool and ensures the orders table exists.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig, table string, queryTimeout time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	store, err := newPostgresStore(db, table, queryTimeout)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewPostgresStoreWithDB creates a store on an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB, table string, queryTimeout time.Duration) (*PostgresStore, error) {
	return newPostgresStore(db, table, queryTimeout)
}

func newPostgresStore(db *sql.DB, table string, queryTimeout time.Duration) (*PostgresStore, error) {
	if table == "" {
		table = DefaultPaymentsTable
	}
	store := &PostgresStore{db: db, table: table, queryTimeout: queryTimeout}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

// createTables creates the orders table and its indexes if they don't exist.
// Reservations carry an empty order_id, so uniqueness on order_id and on the
// idempotency key only applies to non-empty values.
func (s *PostgresStore) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			reference_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			order_id TEXT NOT NULL DEFAULT '',
			amount_minor BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			payment_gateway TEXT NOT NULL,
			payment_method TEXT NOT NULL,
			payment_id TEXT NOT NULL DEFAULT '',
			signature TEXT NOT NULL DEFAULT '',
			service_type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			notes JSONB,
			idempotency_key TEXT NOT NULL DEFAULT '',
			history JSONB NOT NULL DEFAULT '[]',
			refund_status TEXT NOT NULL,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_order_id_key ON %[1]s(order_id) WHERE order_id <> '';
		CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_idempotency_key ON %[1]s(user_id, idempotency_key) WHERE idempotency_key <> '';
		CREATE INDEX IF NOT EXISTS %[1]s_user_created_idx ON %[1]s(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS %[1]s_reservations_idx ON %[1]s(created_at) WHERE order_id = '';
	`, s.table)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (PaymentOrder, error) {
	var (
		order       PaymentOrder
		notesJSON   []byte
		historyJSON []byte
	)
	err := row.Scan(
		&order.ReferenceID,
		&order.UserID,
		&order.ProviderID,
		&order.OrderID,
		&order.AmountMinor,
		&order.Currency,
		&order.Status,
		&order.Gateway,
		&order.Method,
		&order.PaymentID,
		&order.Signature,
		&order.ServiceType,
		&order.Description,
		&notesJSON,
		&order.IdempotencyKey,
		&historyJSON,
		&order.RefundStatus,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return PaymentOrder{}, err
	}
	if len(notesJSON) > 0 && string(notesJSON) != "null" {
		if err := json.Unmarshal(notesJSON, &order.Notes); err != nil {
			return PaymentOrder{}, fmt.Errorf("unmarshal notes: %w", err)
		}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &order.History); err != nil {
			return PaymentOrder{}, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	return order, nil
}

// ReserveOrder inserts a new order row.
func (s *PostgresStore) ReserveOrder(ctx context.Context, order PaymentOrder) error {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	notesJSON, err := json.Marshal(order.Notes)
	if err != nil {
		return fmt.Errorf("marshal notes: %w", err)
	}
	history := order.History
	if history == nil {
		history = []HistoryEntry{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		s.table, orderColumns)

	_, err = s.db.ExecContext(ctx, query,
		order.ReferenceID,
		order.UserID,
		order.ProviderID,
		order.OrderID,
		order.AmountMinor,
		order.Currency,
		order.Status,
		order.Gateway,
		order.Method,
		order.PaymentID,
		order.Signature,
		order.ServiceType,
		order.Description,
		notesJSON,
		order.IdempotencyKey,
		historyJSON,
		order.RefundStatus,
		order.Version,
		order.CreatedAt.UTC(),
		order.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return fmt.Errorf("insert payment order: %w", err)
	}
	return nil
}

// AttachGatewayOrder sets order_id on a reservation.
func (s *PostgresStore) AttachGatewayOrder(ctx context.Context, referenceID, orderID string) (PaymentOrder, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s
		SET order_id = $2, version = version + 1, updated_at = $3
		WHERE reference_id = $1 AND order_id = ''
		RETURNING %s`, s.table, orderColumns)

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, referenceID, orderID, time.Now().UTC()))
	if err == nil {
		return order, nil
	}
	if isUniqueViolation(err) {
		return PaymentOrder{}, fmt.Errorf("%w: order id %s", ErrDuplicate, orderID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return PaymentOrder{}, fmt.Errorf("attach gateway order: %w", err)
	}

	existing, err := s.getOne(ctx, "reference_id = $1", referenceID)
	if err != nil {
		return PaymentOrder{}, err
	}
	if existing.OrderID == orderID {
		return existing, nil
	}
	return PaymentOrder{}, fmt.Errorf("%w: %s already attached to %s", ErrVersionConflict, referenceID, existing.OrderID)
}

// ReleaseReservation deletes the row only while its order_id is empty.
func (s *PostgresStore) ReleaseReservation(ctx context.Context, referenceID string) error {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE reference_id = $1 AND order_id = ''`, s.table)
	if _, err := s.db.ExecContext(ctx, query, referenceID); err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

// GetByReferenceID retrieves an order by reference id.
func (s *PostgresStore) GetByReferenceID(ctx context.Context, referenceID string) (PaymentOrder, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.getOne(ctx, "reference_id = $1", referenceID)
}

// GetByOrderID retrieves an order by gateway order id.
func (s *PostgresStore) GetByOrderID(ctx context.Context, orderID string) (PaymentOrder, error) {
	if orderID == "" {
		return PaymentOrder{}, ErrNotFound
	}
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.getOne(ctx, "order_id = $1", orderID)
}

// GetByIdempotencyKey retrieves the user's order for an idempotency key.
func (s *PostgresStore) GetByIdempotencyKey(ctx context.Context, userID, key string) (PaymentOrder, error) {
	if key == "" {
		return PaymentOrder{}, ErrNotFound
	}
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.getOne(ctx, "user_id = $1 AND idempotency_key = $2", userID, key)
}

func (s *PostgresStore) getOne(ctx context.Context, where string, args ...any) (PaymentOrder, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, orderColumns, s.table, where)
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PaymentOrder{}, ErrNotFound
		}
		return PaymentOrder{}, fmt.Errorf("query payment order: %w", err)
	}
	return order, nil
}

// ListByUser returns a page of the user's orders, newest first.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string, skip, limit int) ([]PaymentOrder, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	var limitArg any // NULL means no limit
	if limit > 0 {
		limitArg = limit
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE user_id = $1
		ORDER BY created_at DESC, reference_id DESC
		LIMIT $2 OFFSET $3`, orderColumns, s.table)
	return s.list(ctx, query, userID, limitArg, max(skip, 0))
}

// UpdateOrder replaces the mutable fields when the stored version matches.
func (s *PostgresStore) UpdateOrder(ctx context.Context, order PaymentOrder) (PaymentOrder, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	history := order.History
	if history == nil {
		history = []HistoryEntry{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return PaymentOrder{}, fmt.Errorf("marshal history: %w", err)
	}
	updatedAt := order.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := fmt.Sprintf(`UPDATE %s
		SET status = $3, payment_method = $4, payment_id = $5, signature = $6,
		    refund_status = $7, history = $8, updated_at = $9, version = version + 1
		WHERE reference_id = $1 AND version = $2
		RETURNING %s`, s.table, orderColumns)

	updated, err := scanOrder(s.db.QueryRowContext(ctx, query,
		order.ReferenceID,
		order.Version,
		order.Status,
		order.Method,
		order.PaymentID,
		order.Signature,
		order.RefundStatus,
		historyJSON,
		updatedAt.UTC(),
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return PaymentOrder{}, fmt.Errorf("update payment order: %w", err)
	}

	var exists bool
	existsQuery := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE reference_id = $1)`, s.table)
	if err := s.db.QueryRowContext(ctx, existsQuery, order.ReferenceID).Scan(&exists); err != nil {
		return PaymentOrder{}, fmt.Errorf("update payment order: %w", err)
	}
	if !exists {
		return PaymentOrder{}, ErrNotFound
	}
	return PaymentOrder{}, fmt.Errorf("%w: %s", ErrVersionConflict, order.ReferenceID)
}

// ListStaleReservations returns reservations created before olderThan, oldest first.
func (s *PostgresStore) ListStaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]PaymentOrder, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE order_id = '' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, orderColumns, s.table)
	return s.list(ctx, query, olderThan.UTC(), limitArg)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]PaymentOrder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payment orders: %w", err)
	}
	defer rows.Close()

	out := make([]PaymentOrder, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment order: %w", err)
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment orders: %w", err)
	}
	return out, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database connection if this store created it.
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
