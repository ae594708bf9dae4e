// Package events publishes payment lifecycle events for downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypePaymentCreated       = "payment.created"
	TypePaymentStatusChanged = "payment.status_changed"
)

// PaymentEvent is the message body written to the topic.
type PaymentEvent struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	ReferenceID    string    `json:"referenceId"`
	UserID         string    `json:"userId"`
	OrderID        string    `json:"orderId,omitempty"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	PaymentMethod  string    `json:"paymentMethod,omitempty"`
	AmountMinor    int64     `json:"amountMinor"`
	Currency       string    `json:"currency"`
	Source         string    `json:"source"` // create, verify, webhook, reconcile
	OccurredAt     time.Time `json:"occurredAt"`
}

// NewPaymentEvent stamps an event with a fresh id and the current time.
func NewPaymentEvent(eventType string) PaymentEvent {
	return PaymentEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers payment events.
type Publisher interface {
	Publish(ctx context.Context, event PaymentEvent) error
	Close() error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

// Publish does nothing.
func (NoopPublisher) Publish(context.Context, PaymentEvent) error { return nil }

// Close does nothing.
func (NoopPublisher) Close() error { return nil }
