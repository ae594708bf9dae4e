package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the ledger service.
type Metrics struct {
	// Ledger
	PaymentsCreatedTotal    *prometheus.CounterVec
	PaymentAmountMinorTotal *prometheus.CounterVec
	StatusTransitionsTotal  *prometheus.CounterVec
	OperationDuration       *prometheus.HistogramVec

	// Gateway
	GatewayCallsTotal   *prometheus.CounterVec
	GatewayCallDuration *prometheus.HistogramVec
	BreakerStateChanges *prometheus.CounterVec

	// Webhooks
	WebhooksTotal   *prometheus.CounterVec
	WebhookDuration *prometheus.HistogramVec

	// Cache
	CacheLookupsTotal *prometheus.CounterVec
	CacheErrorsTotal  *prometheus.CounterVec

	// Events
	EventsPublishedTotal *prometheus.CounterVec

	// Reconciliation
	ReconcileRunsTotal   prometheus.Counter
	ReconcileOrdersTotal *prometheus.CounterVec

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	RateLimitHitsTotal  *prometheus.CounterVec

	// Database
	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on registry (the default registerer when nil).
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		PaymentsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_payments_created_total",
				Help: "Payment create requests by outcome (created, duplicate, failed)",
			},
			[]string{"service_type", "outcome"},
		),
		PaymentAmountMinorTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_payment_amount_minor_total",
				Help: "Sum of created order amounts in minor currency units",
			},
			[]string{"currency"},
		),
		StatusTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_status_transitions_total",
				Help: "Applied payment status transitions",
			},
			[]string{"from", "to", "source"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"operation", "result"},
		),

		GatewayCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_gateway_calls_total",
				Help: "Calls to the payment gateway",
			},
			[]string{"provider", "operation", "result"},
		),
		GatewayCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_gateway_call_duration_seconds",
				Help:    "Duration of payment gateway calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider", "operation"},
		),
		BreakerStateChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_circuit_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"service", "to"},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_webhooks_total",
				Help: "Gateway webhook deliveries by outcome",
			},
			[]string{"event_type", "outcome"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_webhook_duration_seconds",
				Help:    "Time taken to process a webhook delivery",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"event_type"},
		),

		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_lookups_total",
				Help: "Cache lookups by namespace and result (hit, miss)",
			},
			[]string{"namespace", "result"},
		),
		CacheErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_errors_total",
				Help: "Cache operations that failed and were bypassed",
			},
			[]string{"operation"},
		),

		EventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_events_published_total",
				Help: "Payment events handed to the event publisher",
			},
			[]string{"event_type", "result"},
		),

		ReconcileRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_reconcile_runs_total",
				Help: "Reconciliation sweeps executed",
			},
		),
		ReconcileOrdersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_reconcile_orders_total",
				Help: "Stale reservations handled by the reconciliation sweep",
			},
			[]string{"action"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_http_requests_total",
				Help: "HTTP requests by route pattern and status code",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_http_request_duration_seconds",
				Help:    "HTTP request latency by route pattern",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rate_limit_hits_total",
				Help: "Requests rejected by rate limiting",
			},
			[]string{"limit_type"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_db_query_duration_seconds",
				Help:    "Payment store query duration",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
	}
}

// Observe* methods are no-ops on a nil *Metrics.

// ObservePaymentCreated records a create request outcome.
func (m *Metrics) ObservePaymentCreated(serviceType, outcome, currency string, amountMinor int64) {
	if m == nil {
		return
	}
	m.PaymentsCreatedTotal.WithLabelValues(serviceType, outcome).Inc()
	if outcome == "created" {
		m.PaymentAmountMinorTotal.WithLabelValues(currency).Add(float64(amountMinor))
	}
}

// ObserveTransition records an applied status change.
func (m *Metrics) ObserveTransition(from, to, source string) {
	if m == nil {
		return
	}
	m.StatusTransitionsTotal.WithLabelValues(from, to, source).Inc()
}

// ObserveOperation records the duration of a ledger operation.
func (m *Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.OperationDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// ObserveGatewayCall records a gateway call.
func (m *Metrics) ObserveGatewayCall(provider, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.GatewayCallsTotal.WithLabelValues(provider, operation, classifyError(err)).Inc()
	m.GatewayCallDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// ObserveBreakerTransition records a circuit breaker state change.
func (m *Metrics) ObserveBreakerTransition(service, to string) {
	if m == nil {
		return
	}
	m.BreakerStateChanges.WithLabelValues(service, to).Inc()
}

// ObserveWebhook records a webhook delivery.
func (m *Metrics) ObserveWebhook(eventType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.WebhooksTotal.WithLabelValues(eventType, outcome).Inc()
	m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// ObserveCacheLookup records a hit or a miss in namespace.
func (m *Metrics) ObserveCacheLookup(namespace string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(namespace, result).Inc()
}

// ObserveCacheError records a bypassed cache failure.
func (m *Metrics) ObserveCacheError(operation string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(operation).Inc()
}

// ObserveEventPublished records a publish attempt.
func (m *Metrics) ObserveEventPublished(eventType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventsPublishedTotal.WithLabelValues(eventType, result).Inc()
}

// ObserveReconcileRun records a sweep and the number of orders per action.
func (m *Metrics) ObserveReconcileRun(actions map[string]int) {
	if m == nil {
		return
	}
	m.ReconcileRunsTotal.Inc()
	for action, n := range actions {
		m.ReconcileOrdersTotal.WithLabelValues(action).Add(float64(n))
	}
}

// ObserveHTTPRequest records a served request. route is the chi pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveDBQuery records a store query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

func classifyError(err error) string {
	if err == nil {
		return "ok"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "circuit breaker"):
		return "circuit_open"
	case strings.Contains(msg, "connection"):
		return "connection"
	default:
		return "error"
	}
}
