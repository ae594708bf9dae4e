package storage

import (
	"time"

	"github.com/CedrosPay/ledger/internal/money"
)

// PaymentStatus is the lifecycle state of a payment order.
type PaymentStatus string

const (
	StatusPending  PaymentStatus = "pending"
	StatusSuccess  PaymentStatus = "success"
	StatusFailed   PaymentStatus = "failed"
	StatusRefunded PaymentStatus = "refunded"
)

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// PaymentMethod is the instrument the customer paid with.
type PaymentMethod string

const (
	MethodCard       PaymentMethod = "card"
	MethodNetbanking PaymentMethod = "netbanking"
	MethodUPI        PaymentMethod = "upi"
	MethodWallet     PaymentMethod = "wallet"
	MethodEmandate   PaymentMethod = "emandate"
	MethodUnset      PaymentMethod = "unset"
)

// Known reports whether m is one of the gateway methods the ledger records.
// MethodUnset is deliberately excluded: it is a default, never an update.
func (m PaymentMethod) Known() bool {
	switch m {
	case MethodCard, MethodNetbanking, MethodUPI, MethodWallet, MethodEmandate:
		return true
	}
	return false
}

// RefundStatus tracks refunds independently of the payment status.
type RefundStatus string

const (
	RefundNotRequested RefundStatus = "not_requested"
	RefundRequested    RefundStatus = "requested"
	RefundCompleted    RefundStatus = "completed"
)

// Valid reports whether r is a known refund status.
func (r RefundStatus) Valid() bool {
	switch r {
	case RefundNotRequested, RefundRequested, RefundCompleted:
		return true
	}
	return false
}

// ServiceType is the closed set of services a payment can pay for.
type ServiceType string

const ServiceConsultation ServiceType = "CONSULTATION"

// Valid reports whether t is a supported service type.
func (t ServiceType) Valid() bool {
	return t == ServiceConsultation
}

// HistoryEntry is one append-only record of a status change.
type HistoryEntry struct {
	Status    PaymentStatus `bson:"status" json:"status"`
	Timestamp time.Time     `bson:"timestamp" json:"timestamp"`
}

// PaymentOrder is one payment attempt. OrderID is empty while the order is a
// reservation, between the store insert and the gateway order call.
type PaymentOrder struct {
	ReferenceID    string            `bson:"reference_id"`
	UserID         string            `bson:"user_id"`
	ProviderID     string            `bson:"provider_id"`
	OrderID        string            `bson:"order_id"`
	AmountMinor    int64             `bson:"amount_minor"`
	Currency       string            `bson:"currency"`
	Status         PaymentStatus     `bson:"status"`
	Gateway        string            `bson:"payment_gateway"`
	Method         PaymentMethod     `bson:"payment_method"`
	PaymentID      string            `bson:"payment_id,omitempty"`
	Signature      string            `bson:"signature,omitempty"`
	ServiceType    ServiceType       `bson:"service_type"`
	Description    string            `bson:"description,omitempty"`
	Notes          map[string]string `bson:"notes,omitempty"`
	IdempotencyKey string            `bson:"idempotency_key"`
	History        []HistoryEntry    `bson:"history"`
	RefundStatus   RefundStatus      `bson:"refund_status"`
	Version        int64             `bson:"version"`
	CreatedAt      time.Time         `bson:"created_at"`
	UpdatedAt      time.Time         `bson:"updated_at"`
}

// Amount returns the order amount as Money.
func (o PaymentOrder) Amount() money.Money {
	cur, err := money.LookupCurrency(o.Currency)
	if err != nil {
		cur = money.Currency{Code: o.Currency, MinorDigits: 2}
	}
	return money.FromMinor(cur, o.AmountMinor)
}

// Reserved reports whether the order has not been attached to a gateway order yet.
func (o PaymentOrder) Reserved() bool {
	return o.OrderID == ""
}

// Clone returns a deep copy so callers never share history or notes with a store.
func (o PaymentOrder) Clone() PaymentOrder {
	out := o
	if o.History != nil {
		out.History = append([]HistoryEntry(nil), o.History...)
	}
	if o.Notes != nil {
		out.Notes = make(map[string]string, len(o.Notes))
		for k, v := range o.Notes {
			out.Notes[k] = v
		}
	}
	return out
}
