// Package ledger owns the payment order lifecycle: creation against the
// gateway, signature verification, status transitions, webhook application
// and the per-user history read model.
package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/CedrosPay/ledger/internal/cache"
	"github.com/CedrosPay/ledger/internal/config"
	"github.com/CedrosPay/ledger/internal/events"
	"github.com/CedrosPay/ledger/internal/gateway"
	"github.com/CedrosPay/ledger/internal/metrics"
	"github.com/CedrosPay/ledger/internal/storage"
)

const tracerName = "github.com/CedrosPay/ledger/internal/ledger"

// Config tunes the ledger.
type Config struct {
	KeySecret           string
	DefaultHistoryCount int
	MaxHistoryCount     int
	WriteTimeout        time.Duration
	DuplicateWait       time.Duration // how long a duplicate create waits for the winner's gateway order
	UpdateRetries       int           // optimistic-concurrency retries per status update
}

// ConfigFrom builds ledger settings from the service config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		KeySecret:           cfg.Gateway.KeySecret,
		DefaultHistoryCount: cfg.Ledger.DefaultHistoryCount,
		MaxHistoryCount:     cfg.Ledger.MaxHistoryCount,
		WriteTimeout:        cfg.Ledger.WriteTimeout.Duration,
	}
}

func (c Config) withDefaults() Config {
	if c.DefaultHistoryCount <= 0 {
		c.DefaultHistoryCount = 10
	}
	if c.MaxHistoryCount <= 0 {
		c.MaxHistoryCount = 100
	}
	if c.DefaultHistoryCount > c.MaxHistoryCount {
		c.DefaultHistoryCount = c.MaxHistoryCount
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.DuplicateWait <= 0 {
		c.DuplicateWait = 2 * time.Second
	}
	if c.UpdateRetries <= 0 {
		c.UpdateRetries = 3
	}
	return c
}

// Deps are the collaborators a Service is built from. Publisher and Metrics
// may be nil.
type Deps struct {
	Store     storage.Store
	Gateway   gateway.Client
	Cache     *cache.Safe
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// Service implements the payment ledger operations.
type Service struct {
	cfg       Config
	store     storage.Store
	gateway   gateway.Client
	cache     *cache.Safe
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	tracer    trace.Tracer

	now            func() time.Time
	newReferenceID func() string
}

// NewService constructs the ledger service.
func NewService(cfg Config, deps Deps) *Service {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		cfg:            cfg.withDefaults(),
		store:          deps.Store,
		gateway:        deps.Gateway,
		cache:          deps.Cache,
		publisher:      publisher,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		tracer:         otel.Tracer(tracerName),
		now:            time.Now,
		newReferenceID: newReferenceID,
	}
}

// writeContext detaches a write from the caller so an abandoned request
// cannot leave a half-created order behind.
func (s *Service) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "ledger."+name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) invalidateOrderHistory(ctx context.Context, order storage.PaymentOrder) {
	s.invalidateHistory(ctx, order.UserID)
}

// invalidateHistory bumps the user's history version before dropping the
// cached list, so a reader that loaded the store before this write cannot
// store its result under the new version.
func (s *Service) invalidateHistory(ctx context.Context, userID string) {
	s.cache.Incr(ctx, historyVersionKey(userID))
	s.cache.Delete(ctx, historyKey(userID))
}

// publish emits a payment event. Failures are logged and counted only.
func (s *Service) publish(ctx context.Context, eventType string, order storage.PaymentOrder, previous storage.PaymentStatus, source string) {
	ev := events.NewPaymentEvent(eventType)
	ev.ReferenceID = order.ReferenceID
	ev.UserID = order.UserID
	ev.OrderID = order.OrderID
	ev.Status = string(order.Status)
	ev.PreviousStatus = string(previous)
	ev.PaymentMethod = string(order.Method)
	ev.AmountMinor = order.AmountMinor
	ev.Currency = order.Currency
	ev.Source = source

	err := s.publisher.Publish(ctx, ev)
	s.metrics.ObserveEventPublished(eventType, err)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("event_type", eventType).
			Str("reference_id", order.ReferenceID).
			Msg("ledger.event_publish_failed")
	}
}
