package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CedrosPay/ledger/internal/config"
	"github.com/CedrosPay/ledger/internal/httputil"
)

// DefaultRazorpayBaseURL is the Razorpay REST API root.
const DefaultRazorpayBaseURL = "https://api.razorpay.com"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// RazorpayClient calls the Razorpay REST API with basic auth.
type RazorpayClient struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
}

// NewRazorpayClient builds a client from gateway config.
func NewRazorpayClient(cfg config.GatewayConfig) *RazorpayClient {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewRazorpayClientWithHTTP(cfg, httputil.NewClient(timeout))
}

// NewRazorpayClientWithHTTP uses a caller supplied HTTP client.
func NewRazorpayClientWithHTTP(cfg config.GatewayConfig, client *http.Client) *RazorpayClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultRazorpayBaseURL
	}
	return &RazorpayClient{
		baseURL:   base,
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		http:      client,
	}
}

// Provider returns "razorpay".
func (c *RazorpayClient) Provider() string { return ProviderRazorpay }

// KeyID returns the public key id.
func (c *RazorpayClient) KeyID() string { return c.keyID }

type razorpayOrder struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

func (o razorpayOrder) toOrder() Order {
	return Order{ID: o.ID, Receipt: o.Receipt, Status: o.Status, AmountMinor: o.Amount, Currency: o.Currency}
}

type razorpayPayment struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Method  string `json:"method"`
	Status  string `json:"status"`
}

type razorpayErrorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder creates an order of AmountMinor paise.
func (c *RazorpayClient) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	body := map[string]any{
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var out razorpayOrder
	if err := c.do(ctx, http.MethodPost, "/v1/orders", body, &out); err != nil {
		return Order{}, err
	}
	if out.ID == "" {
		return Order{}, fmt.Errorf("razorpay: create order returned no id")
	}
	return out.toOrder(), nil
}

// FetchPayment fetches one payment.
func (c *RazorpayClient) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	var out razorpayPayment
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return Payment{}, err
	}
	return Payment{ID: out.ID, OrderID: out.OrderID, Method: out.Method, Status: out.Status}, nil
}

// FindOrderByReceipt lists orders filtered by receipt.
func (c *RazorpayClient) FindOrderByReceipt(ctx context.Context, receipt string) (*Order, error) {
	var out struct {
		Count int             `json:"count"`
		Items []razorpayOrder `json:"items"`
	}
	path := "/v1/orders?" + url.Values{"receipt": {receipt}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	for _, item := range out.Items {
		if item.Receipt == receipt {
			order := item.toOrder()
			return &order, nil
		}
	}
	return nil, nil
}

func (c *RazorpayClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("razorpay: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("razorpay: build request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("razorpay: %s %s: %w", method, strings.SplitN(path, "?", 2)[0], err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		gwErr := &Error{Provider: ProviderRazorpay, StatusCode: resp.StatusCode}
		var parsed razorpayErrorBody
		if json.Unmarshal(raw, &parsed) == nil {
			gwErr.Code = parsed.Error.Code
			gwErr.Description = parsed.Error.Description
		}
		return gwErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("razorpay: decode response: %w", err)
	}
	return nil
}
