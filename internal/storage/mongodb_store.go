package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBStore implements Store using MongoDB.
type MongoDBStore struct {
	client       *mongo.Client
	orders       *mongo.Collection
	queryTimeout time.Duration
}

// NewMongoDBStore connects to MongoDB and ensures the order indexes exist.
func NewMongoDBStore(connectionString, database, collection string, queryTimeout time.Duration) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if collection == "" {
		collection = DefaultPaymentsTable
	}
	store := &MongoDBStore{
		client:       client,
		orders:       client.Database(database).Collection(collection),
		queryTimeout: queryTimeout,
	}

	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

// createIndexes creates the unique and lookup indexes for the orders collection.
// Reservations carry an empty order_id and may omit the idempotency key, so
// those two unique indexes only cover non-empty values.
func (s *MongoDBStore) createIndexes(ctx context.Context) error {
	_, err := s.orders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "reference_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{
			Keys: bson.D{{Key: "order_id", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"order_id": bson.M{"$gt": ""}}),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$gt": ""}}),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "created_at", Value: 1}}, Options: options.Index().SetName("reservation_age")},
	})
	if err != nil {
		return fmt.Errorf("create payment order indexes: %w", err)
	}
	return nil
}

// ReserveOrder inserts a new order document.
func (s *MongoDBStore) ReserveOrder(ctx context.Context, order PaymentOrder) error {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	if order.History == nil {
		order.History = []HistoryEntry{}
	}
	if _, err := s.orders.InsertOne(ctx, order); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return fmt.Errorf("insert payment order: %w", err)
	}
	return nil
}

// AttachGatewayOrder sets order_id on a reservation.
func (s *MongoDBStore) AttachGatewayOrder(ctx context.Context, referenceID, orderID string) (PaymentOrder, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	filter := bson.M{"reference_id": referenceID, "order_id": ""}
	update := bson.M{
		"$set": bson.M{"order_id": orderID, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var order PaymentOrder
	err := s.orders.FindOneAndUpdate(ctx, filter, update, opts).Decode(&order)
	if err == nil {
		return order, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return PaymentOrder{}, fmt.Errorf("%w: order id %s", ErrDuplicate, orderID)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return PaymentOrder{}, fmt.Errorf("attach gateway order: %w", err)
	}

	existing, err := s.getOne(ctx, bson.M{"reference_id": referenceID})
	if err != nil {
		return PaymentOrder{}, err
	}
	if existing.OrderID == orderID {
		return existing, nil
	}
	return PaymentOrder{}, fmt.Errorf("%w: %s already attached to %s", ErrVersionConflict, referenceID, existing.OrderID)
}

// ReleaseReservation deletes the order only while its order_id is empty.
func (s *MongoDBStore) ReleaseReservation(ctx context.Context, referenceID string) error {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	if _, err := s.orders.DeleteOne(ctx, bson.M{"reference_id": referenceID, "order_id": ""}); err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

// GetByReferenceID retrieves an order by reference id.
func (s *MongoDBStore) GetByReferenceID(ctx context.Context, referenceID string) (PaymentOrder, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.getOne(ctx, bson.M{"reference_id": referenceID})
}

// GetByOrderID retrieves an order by gateway order id.
func (s *MongoDBStore) GetByOrderID(ctx context.Context, orderID string) (PaymentOrder, error) {
	if orderID == "" {
		return PaymentOrder{}, ErrNotFound
	}
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.getOne(ctx, bson.M{"order_id": orderID})
}

// GetByIdempotencyKey retrieves the user's order for an idempotency key.
func (s *MongoDBStore) GetByIdempotencyKey(ctx context.Context, userID, key string) (PaymentOrder, error) {
	if key == "" {
		return PaymentOrder{}, ErrNotFound
	}
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.getOne(ctx, bson.M{"user_id": userID, "idempotency_key": key})
}

func (s *MongoDBStore) getOne(ctx context.Context, filter bson.M) (PaymentOrder, error) {
	var order PaymentOrder
	if err := s.orders.FindOne(ctx, filter).Decode(&order); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return PaymentOrder{}, ErrNotFound
		}
		return PaymentOrder{}, fmt.Errorf("find payment order: %w", err)
	}
	return order, nil
}

// ListByUser returns a page of the user's orders, newest first.
func (s *MongoDBStore) ListByUser(ctx context.Context, userID string, skip, limit int) ([]PaymentOrder, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "reference_id", Value: -1}}).
		SetSkip(int64(max(skip, 0)))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, bson.M{"user_id": userID}, opts)
}

// UpdateOrder replaces the mutable fields when the stored version matches.
func (s *MongoDBStore) UpdateOrder(ctx context.Context, order PaymentOrder) (PaymentOrder, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	updatedAt := order.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	history := order.History
	if history == nil {
		history = []HistoryEntry{}
	}

	filter := bson.M{"reference_id": order.ReferenceID, "version": order.Version}
	update := bson.M{"$set": bson.M{
		"status":         order.Status,
		"payment_method": order.Method,
		"payment_id":     order.PaymentID,
		"signature":      order.Signature,
		"refund_status":  order.RefundStatus,
		"history":        history,
		"updated_at":     updatedAt,
		"version":        order.Version + 1,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated PaymentOrder
	err := s.orders.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return PaymentOrder{}, fmt.Errorf("update payment order: %w", err)
	}

	n, err := s.orders.CountDocuments(ctx, bson.M{"reference_id": order.ReferenceID})
	if err != nil {
		return PaymentOrder{}, fmt.Errorf("update payment order: %w", err)
	}
	if n == 0 {
		return PaymentOrder{}, ErrNotFound
	}
	return PaymentOrder{}, fmt.Errorf("%w: %s", ErrVersionConflict, order.ReferenceID)
}

// ListStaleReservations returns reservations created before olderThan, oldest first.
func (s *MongoDBStore) ListStaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]PaymentOrder, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, bson.M{"order_id": "", "created_at": bson.M{"$lt": olderThan}}, opts)
}

func (s *MongoDBStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]PaymentOrder, error) {
	cursor, err := s.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query payment orders: %w", err)
	}
	defer cursor.Close(ctx)

	out := make([]PaymentOrder, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode payment orders: %w", err)
	}
	return out, nil
}

// Ping checks the connection to the primary.
func (s *MongoDBStore) Ping(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
