// Package app wires the payment ledger components for standalone serving or
// for embedding in another chi router.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/ledger/internal/auth"
	"github.com/CedrosPay/ledger/internal/cache"
	"github.com/CedrosPay/ledger/internal/circuitbreaker"
	"github.com/CedrosPay/ledger/internal/config"
	"github.com/CedrosPay/ledger/internal/dbpool"
	"github.com/CedrosPay/ledger/internal/events"
	"github.com/CedrosPay/ledger/internal/gateway"
	"github.com/CedrosPay/ledger/internal/httpserver"
	"github.com/CedrosPay/ledger/internal/ledger"
	"github.com/CedrosPay/ledger/internal/lifecycle"
	"github.com/CedrosPay/ledger/internal/logger"
	"github.com/CedrosPay/ledger/internal/metrics"
	"github.com/CedrosPay/ledger/internal/reconcile"
	"github.com/CedrosPay/ledger/internal/storage"
)

// App holds the assembled ledger service and the resources it owns.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Store     storage.Store
	Cache     *cache.Safe
	Gateway   gateway.Client
	Publisher events.Publisher
	Ledger    *ledger.Service
	Sweeper   *reconcile.Sweeper
	Metrics   *metrics.Metrics

	server    *httpserver.Server // nil when routes were attached to a caller's router
	handler   http.Handler
	resources *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store     storage.Store
	cache     cache.Cache
	gateway   gateway.Client
	publisher events.Publisher
	router    chi.Router
	registry  *prometheus.Registry
	logger    *zerolog.Logger
}

// WithStore sets a custom storage backend. The caller keeps ownership.
func WithStore(store storage.Store) Option {
	return func(o *options) { o.store = store }
}

// WithCache sets a custom cache backend. The caller keeps ownership.
func WithCache(c cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithGateway injects a gateway client. It is still wrapped with the circuit
// breaker and retries.
func WithGateway(client gateway.Client) Option {
	return func(o *options) { o.gateway = client }
}

// WithPublisher injects an event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRouter attaches the routes to an existing chi.Router instead of
// building a standalone server.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.router = router }
}

// WithRegistry registers metrics on registry instead of a fresh one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithLogger replaces the logger built from the logging config.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// New assembles the ledger. On error every resource opened so far is closed.
func New(cfg *config.Config, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     cfg.Tracing.ServiceName,
		Environment: cfg.Logging.Environment,
	})
	if optState.logger != nil {
		appLogger = *optState.logger
	}

	app := &App{
		Config:    cfg,
		Logger:    appLogger,
		resources: lifecycle.NewManager(appLogger),
	}
	defer func() {
		if err != nil {
			_ = app.resources.Close()
		}
	}()

	registry := optState.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	app.Metrics = metrics.New(registry)

	if cfg.Tracing.Enabled {
		tp, err := newTracerProvider(cfg.Tracing)
		if err != nil {
			return nil, err
		}
		app.resources.RegisterFunc("tracer-provider", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tp.Shutdown(ctx)
		})
	}

	store, err := app.openStore(optState.store)
	if err != nil {
		return nil, err
	}
	app.Store = storage.NewInstrumented(store, app.Metrics, cfg.Storage.Backend)

	cacheBackend := optState.cache
	if cacheBackend == nil {
		cacheBackend, err = cache.New(cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("init cache: %w", err)
		}
		app.resources.Register("cache", cacheBackend)
	}
	app.Cache = cache.NewSafe(cacheBackend, cache.TTLsFromConfig(cfg.Cache), cfg.Cache.OperationTimeout.Duration, appLogger, app.Metrics)

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker,
		circuitbreaker.WithLogger(appLogger),
		circuitbreaker.WithMetrics(app.Metrics),
	)

	inner := optState.gateway
	if inner == nil {
		inner, err = gateway.New(cfg.Gateway)
		if err != nil {
			return nil, fmt.Errorf("init gateway: %w", err)
		}
	}
	app.Gateway = gateway.NewResilient(inner, breakers, app.Metrics, gateway.ResilientConfig{
		Timeout:    cfg.Gateway.Timeout.Duration,
		MaxRetries: cfg.Gateway.MaxRetries,
	})

	switch {
	case optState.publisher != nil:
		app.Publisher = optState.publisher
	case cfg.Events.Enabled:
		producer, err := events.NewSyncProducer(cfg.Events)
		if err != nil {
			return nil, fmt.Errorf("init event publisher: %w", err)
		}
		publisher := events.NewKafkaPublisher(producer, cfg.Events.Topic, breakers, appLogger)
		app.resources.Register("kafka-producer", publisher)
		app.Publisher = publisher
	default:
		app.Publisher = events.NoopPublisher{}
	}

	app.Ledger = ledger.NewService(ledger.ConfigFrom(cfg), ledger.Deps{
		Store:     app.Store,
		Gateway:   app.Gateway,
		Cache:     app.Cache,
		Publisher: app.Publisher,
		Metrics:   app.Metrics,
		Logger:    appLogger,
	})
	app.Sweeper = reconcile.NewSweeper(app.Ledger, reconcile.ConfigFrom(cfg.Reconcile), app.Metrics, appLogger)

	deps := httpserver.Deps{
		Ledger:   app.Ledger,
		Verifier: auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Cache:    app.Cache,
		Store:    app.Store,
		Metrics:  app.Metrics,
		Gatherer: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Logger:   appLogger,
	}
	if optState.router != nil {
		httpserver.ConfigureRouter(optState.router, cfg, deps)
		app.handler = optState.router
	} else {
		app.server = httpserver.New(cfg, deps)
		app.handler = app.server.Handler()
	}

	return app, nil
}

// openStore returns the injected store or opens the configured backend.
// Postgres goes through a shared pool so the pool outlives the store.
func (a *App) openStore(injected storage.Store) (storage.Store, error) {
	if injected != nil {
		return injected, nil
	}

	storeCfg := storage.StoreConfigFrom(a.Config.Storage)
	if storeCfg.Backend == "postgres" || (storeCfg.Backend == "" && storeCfg.PostgresURL != "") {
		pool, err := dbpool.NewSharedPool(storeCfg.PostgresURL, storeCfg.PostgresPool)
		if err != nil {
			return nil, fmt.Errorf("init postgres pool: %w", err)
		}
		a.resources.Register("postgres-pool", pool)
		storeCfg.Backend = "postgres"
		store, err := storage.NewStoreWithDB(storeCfg, pool.DB())
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		a.resources.Register("store", store)
		return store, nil
	}

	store, err := storage.NewStore(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if storeCfg.Backend == "memory" || (storeCfg.Backend == "" && storeCfg.MongoDBURL == "") {
		a.Logger.Warn().Msg("app.memory_store: orders are lost on restart, do not use in production")
	}
	a.resources.Register("store", store)
	return store, nil
}

// Handler exposes the routes as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Start launches background work (the reconciliation sweep).
func (a *App) Start() {
	a.Sweeper.Start()
}

// ListenAndServe serves HTTP until Shutdown. It fails for an app built
// WithRouter, whose caller owns the server.
func (a *App) ListenAndServe() error {
	if a.server == nil {
		return errors.New("app: routes were attached to an external router")
	}
	a.Logger.Info().Str("address", a.Config.Server.Address).Msg("app.listening")
	return a.server.ListenAndServe()
}

// Shutdown drains HTTP connections, stops the sweep and closes resources.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	a.Sweeper.Stop()
	if err := a.resources.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases resources without an HTTP drain.
func (a *App) Close() error {
	a.Sweeper.Stop()
	return a.resources.Close()
}
