package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS payment_orders").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewPostgresStoreWithDB(db, "", time.Second)
	require.NoError(t, err)
	return store, mock
}

func orderColumnNames() []string {
	parts := strings.Split(orderColumns, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func mockOrderRow(rows *sqlmock.Rows, ref, orderID string, status PaymentStatus, version int64, created time.Time) *sqlmock.Rows {
	return rows.AddRow(
		ref, "user-1", "prov-1", orderID, int64(50000), "INR", string(status),
		"razorpay", "unset", "", "", "CONSULTATION", "",
		[]byte(`{"source":"app"}`), "key-1",
		[]byte(`[{"status":"pending","timestamp":"2024-01-01T00:00:00Z"}]`),
		"not_requested", version, created, created,
	)
}

func TestPostgresReserveOrderDuplicate(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("INSERT INTO payment_orders").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := store.ReserveOrder(context.Background(), newTestOrder("PAY_1", "user-1", "key-1", time.Now()))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReserveOrderSuccess(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("INSERT INTO payment_orders").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.ReserveOrder(context.Background(), newTestOrder("PAY_1", "user-1", "key-1", time.Now()))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetByReferenceID(t *testing.T) {
	store, mock := setupMockStore(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := mockOrderRow(sqlmock.NewRows(orderColumnNames()), "PAY_1", "order_1", StatusPending, 1, created)
	mock.ExpectQuery("(?s)SELECT .+ FROM payment_orders WHERE reference_id = \\$1").
		WithArgs("PAY_1").
		WillReturnRows(rows)

	order, err := store.GetByReferenceID(context.Background(), "PAY_1")
	require.NoError(t, err)
	assert.Equal(t, "order_1", order.OrderID)
	assert.Equal(t, StatusPending, order.Status)
	assert.Equal(t, MethodUnset, order.Method)
	assert.Equal(t, int64(1), order.Version)
	assert.Equal(t, "app", order.Notes["source"])
	require.Len(t, order.History, 1)
	assert.Equal(t, StatusPending, order.History[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetByReferenceIDNotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery("(?s)SELECT .+ FROM payment_orders WHERE reference_id = \\$1").
		WithArgs("PAY_missing").
		WillReturnRows(sqlmock.NewRows(orderColumnNames()))

	_, err := store.GetByReferenceID(context.Background(), "PAY_missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateOrderVersionConflict(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery("UPDATE payment_orders").
		WillReturnRows(sqlmock.NewRows(orderColumnNames()))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("PAY_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	order := newTestOrder("PAY_1", "user-1", "key-1", time.Now())
	order.Status = StatusSuccess
	_, err := store.UpdateOrder(context.Background(), order)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateOrderReturnsNewVersion(t *testing.T) {
	store, mock := setupMockStore(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := mockOrderRow(sqlmock.NewRows(orderColumnNames()), "PAY_1", "order_1", StatusSuccess, 3, created)
	mock.ExpectQuery("UPDATE payment_orders").
		WillReturnRows(rows)

	order := newTestOrder("PAY_1", "user-1", "key-1", created)
	order.Version = 2
	order.Status = StatusSuccess
	updated, err := store.UpdateOrder(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated.Version)
	assert.Equal(t, StatusSuccess, updated.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListByUser(t *testing.T) {
	store, mock := setupMockStore(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(orderColumnNames())
	mockOrderRow(rows, "PAY_2", "order_2", StatusSuccess, 2, created.Add(time.Minute))
	mockOrderRow(rows, "PAY_1", "order_1", StatusPending, 1, created)
	mock.ExpectQuery("(?s)SELECT .+ FROM payment_orders\\s+WHERE user_id = \\$1\\s+ORDER BY created_at DESC").
		WithArgs("user-1", 10, 0).
		WillReturnRows(rows)

	orders, err := store.ListByUser(context.Background(), "user-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "PAY_2", orders[0].ReferenceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReleaseOnlyTouchesReservations(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("DELETE FROM payment_orders WHERE reference_id = \\$1 AND order_id = ''").
		WithArgs("PAY_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, store.ReleaseReservation(context.Background(), "PAY_1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCloseSharedPool(t *testing.T) {
	store, mock := setupMockStore(t)
	// A store built on a shared pool must not close it.
	assert.NoError(t, store.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
