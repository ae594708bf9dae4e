package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CedrosPay/ledger/internal/cache"
	apierrors "github.com/CedrosPay/ledger/internal/errors"
	"github.com/CedrosPay/ledger/internal/money"
	"github.com/CedrosPay/ledger/internal/storage"
)

// HistoryView is one order in a user's payment history.
type HistoryView struct {
	ReferenceID   string                 `json:"referenceId"`
	OrderID       string                 `json:"orderId"`
	Status        storage.PaymentStatus  `json:"status"`
	Amount        money.Money            `json:"amount"`
	Currency      string                 `json:"currency"`
	ServiceType   storage.ServiceType    `json:"serviceType"`
	PaymentMethod storage.PaymentMethod  `json:"paymentMethod"`
	CreatedAt     time.Time              `json:"createdAt"`
	History       []storage.HistoryEntry `json:"history"`
}

// historyEntry is what the cache holds under payment_history:<user>. It is
// valid only while Version equals the user's current version counter.
type historyEntry struct {
	Version int64         `json:"version"`
	Items   []historyItem `json:"items"`
}

// historyItem is the cached form of HistoryView; Money has no JSON decoder,
// so amounts are cached in minor units.
type historyItem struct {
	ReferenceID   string                 `json:"referenceId"`
	OrderID       string                 `json:"orderId"`
	Status        storage.PaymentStatus  `json:"status"`
	AmountMinor   int64                  `json:"amountMinor"`
	Currency      string                 `json:"currency"`
	ServiceType   storage.ServiceType    `json:"serviceType"`
	PaymentMethod storage.PaymentMethod  `json:"paymentMethod"`
	CreatedAt     time.Time              `json:"createdAt"`
	History       []storage.HistoryEntry `json:"history"`
}

func historyKey(userID string) string {
	return cache.NamespacePaymentHistory.Key(userID)
}

func historyVersionKey(userID string) string {
	return cache.NamespacePaymentHistory.Key(userID, "v")
}

// GetPaymentHistory returns a page of the user's orders, newest first.
// count <= 0 means the default page size; count is capped at the maximum.
func (s *Service) GetPaymentHistory(ctx context.Context, userID string, count, skip int) (views []HistoryView, err error) {
	ctx, span := s.startSpan(ctx, "GetPaymentHistory")
	defer func() { endSpan(span, err) }()
	start := s.now()
	defer func() { s.metrics.ObserveOperation("payment_history", time.Since(start), err) }()

	if strings.TrimSpace(userID) == "" {
		return nil, missing("userId")
	}
	if skip < 0 {
		return nil, invalid("skip", apierrors.ErrCodeInvalidField, "skip must not be negative")
	}
	if count < 0 {
		return nil, invalid("count", apierrors.ErrCodeInvalidField, "count must not be negative")
	}
	if count == 0 {
		count = s.cfg.DefaultHistoryCount
	}
	if count > s.cfg.MaxHistoryCount {
		count = s.cfg.MaxHistoryCount
	}

	items, err := s.historyItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	return paginate(items, count, skip), nil
}

// historyItems serves the full list from cache when the cached version is
// current, and otherwise loads it from the store and caches it under the
// version read before the load.
func (s *Service) historyItems(ctx context.Context, userID string) ([]historyItem, error) {
	version, versionKnown := s.cache.Counter(ctx, historyVersionKey(userID))
	if versionKnown {
		var cached historyEntry
		if s.cache.GetJSON(ctx, cache.NamespacePaymentHistory, historyKey(userID), &cached) && cached.Version == version {
			return cached.Items, nil
		}
	}

	orders, err := s.store.ListByUser(ctx, userID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: list orders: %w", ErrPersistence, err)
	}
	items := make([]historyItem, 0, len(orders))
	for _, o := range orders {
		items = append(items, historyItem{
			ReferenceID:   o.ReferenceID,
			OrderID:       o.OrderID,
			Status:        o.Status,
			AmountMinor:   o.AmountMinor,
			Currency:      o.Currency,
			ServiceType:   o.ServiceType,
			PaymentMethod: o.Method,
			CreatedAt:     o.CreatedAt,
			History:       o.History,
		})
	}

	if versionKnown {
		s.cache.SetJSON(ctx, cache.NamespacePaymentHistory, historyKey(userID), historyEntry{Version: version, Items: items})
	}
	return items, nil
}

func paginate(items []historyItem, count, skip int) []HistoryView {
	if skip >= len(items) {
		return []HistoryView{}
	}
	end := skip + count
	if end > len(items) {
		end = len(items)
	}
	out := make([]HistoryView, 0, end-skip)
	for _, it := range items[skip:end] {
		cur, err := money.LookupCurrency(it.Currency)
		if err != nil {
			cur = money.Currency{Code: it.Currency, MinorDigits: 2}
		}
		out = append(out, HistoryView{
			ReferenceID:   it.ReferenceID,
			OrderID:       it.OrderID,
			Status:        it.Status,
			Amount:        money.FromMinor(cur, it.AmountMinor),
			Currency:      it.Currency,
			ServiceType:   it.ServiceType,
			PaymentMethod: it.PaymentMethod,
			CreatedAt:     it.CreatedAt,
			History:       it.History,
		})
	}
	return out
}
