package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"github.com/CedrosPay/ledger/internal/config"
)

// StripeClient maps gateway orders onto Stripe PaymentIntents. The intent id
// serves as both the order id and the payment id.
type StripeClient struct {
	api            *client.API
	publishableKey string
}

// NewStripeClient sets up a stripe-go client for this key only, leaving the
// package-level stripe.Key untouched.
func NewStripeClient(cfg config.GatewayConfig) *StripeClient {
	api := &client.API{}
	api.Init(cfg.StripeSecretKey, nil)
	return &StripeClient{api: api, publishableKey: cfg.KeyID}
}

// Provider returns "stripe".
func (c *StripeClient) Provider() string { return ProviderStripe }

// KeyID returns the publishable key.
func (c *StripeClient) KeyID() string { return c.publishableKey }

// CreateOrder creates a PaymentIntent. The receipt doubles as the Stripe
// idempotency key so a retried create returns the same intent.
func (c *StripeClient) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	params := &stripeapi.PaymentIntentParams{
		Amount:             stripeapi.Int64(req.AmountMinor),
		Currency:           stripeapi.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripeapi.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.Receipt)
	params.AddMetadata("receipt", req.Receipt)
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return Order{}, convertStripeError("create payment intent", err)
	}
	return stripeOrder(pi), nil
}

// FetchPayment fetches a PaymentIntent with its payment method expanded.
func (c *StripeClient) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("payment_method")

	pi, err := c.api.PaymentIntents.Get(paymentID, params)
	if err != nil {
		return Payment{}, convertStripeError("get payment intent", err)
	}

	payment := Payment{ID: pi.ID, OrderID: pi.ID, Status: stripeStatus(pi.Status)}
	if pi.PaymentMethod != nil {
		payment.Method = string(pi.PaymentMethod.Type)
	}
	return payment, nil
}

// FindOrderByReceipt searches intents by the receipt metadata.
func (c *StripeClient) FindOrderByReceipt(ctx context.Context, receipt string) (*Order, error) {
	params := &stripeapi.PaymentIntentSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['receipt']:'%s'", strings.ReplaceAll(receipt, "'", ""))

	iter := c.api.PaymentIntents.Search(params)
	for iter.Next() {
		pi := iter.PaymentIntent()
		if pi.Metadata["receipt"] == receipt {
			order := stripeOrder(pi)
			return &order, nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, convertStripeError("search payment intents", err)
	}
	return nil, nil
}

func stripeOrder(pi *stripeapi.PaymentIntent) Order {
	return Order{
		ID:          pi.ID,
		Receipt:     pi.Metadata["receipt"],
		Status:      stripeStatus(pi.Status),
		AmountMinor: pi.Amount,
		Currency:    strings.ToUpper(pi.Currency),
	}
}

// stripeStatus maps intent states onto the gateway status vocabulary.
func stripeStatus(s stripeapi.PaymentIntentStatus) string {
	switch s {
	case stripeapi.PaymentIntentStatusSucceeded:
		return PaymentCaptured
	case stripeapi.PaymentIntentStatusRequiresCapture:
		return PaymentAuthorized
	case stripeapi.PaymentIntentStatusCanceled:
		return PaymentFailed
	default:
		return PaymentCreated
	}
}

func convertStripeError(op string, err error) error {
	var se *stripeapi.Error
	if errors.As(err, &se) {
		return &Error{
			Provider:    ProviderStripe,
			StatusCode:  se.HTTPStatusCode,
			Code:        string(se.Code),
			Description: se.Msg,
		}
	}
	return fmt.Errorf("stripe: %s: %w", op, err)
}
