package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/ledger/internal/auth"
	"github.com/CedrosPay/ledger/internal/cache"
	"github.com/CedrosPay/ledger/internal/config"
	"github.com/CedrosPay/ledger/internal/ledger"
	"github.com/CedrosPay/ledger/internal/logger"
	"github.com/CedrosPay/ledger/internal/metrics"
	"github.com/CedrosPay/ledger/internal/ratelimit"
)

var (
	serverStartTime = time.Now()
)

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Ledger   *ledger.Service
	Verifier *auth.Verifier
	Cache    *cache.Safe
	Store    Pinger
	Metrics  *metrics.Metrics
	Gatherer http.Handler // /metrics handler; promhttp.Handler() when nil
	Logger   zerolog.Logger
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg           *config.Config
	ledger        *ledger.Service
	cache         *cache.Safe
	store         Pinger
	policy        auth.Policy
	webhookSecret string
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

// New builds the HTTP server with configured router.
func New(cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: newHandlers(cfg, deps),
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, deps)

	return s
}

func newHandlers(cfg *config.Config, deps Deps) handlers {
	return handlers{
		cfg:    cfg,
		ledger: deps.Ledger,
		cache:  deps.Cache,
		store:  deps.Store,
		policy: auth.Policy{
			CreateRoles: cfg.Auth.CreateRoles,
			AdminRole:   cfg.Auth.AdminRole,
		},
		webhookSecret: cfg.Gateway.WebhookSecret,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
	}
}

// ConfigureRouter attaches the ledger routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, deps Deps) {
	if router == nil {
		return
	}

	handler := newHandlers(cfg, deps)

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key", auth.AdminKeyHeader},
			ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	// Security headers first so every response carries them
	router.Use(securityHeadersMiddleware)

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(logger.Middleware(deps.Logger))
	router.Use(middleware.Recoverer)
	router.Use(metricsMiddleware(deps.Metrics))

	// Recognise operator keys before the limiters so they can exempt them
	router.Use(auth.TagAdmin(cfg.Server.AdminAPIKey))

	limits := ratelimit.ConfigFrom(cfg.RateLimit, deps.Metrics)
	router.Use(ratelimit.GlobalLimiter(limits))

	prefix := cfg.Server.RoutePrefix
	adminOnly := auth.AdminMiddleware(cfg.Server.AdminAPIKey)

	metricsHandler := deps.Gatherer
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	// Lightweight endpoints: health, metrics, operator actions
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/healthz", handler.health)
		r.With(adminOnly).Handle(prefix+"/metrics", metricsHandler)
		r.With(adminOnly).Delete(prefix+"/admin/cache/{namespace}", handler.flushCache)
	})

	// Payment endpoints call the gateway and the store
	router.Route(prefix+"/payments", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		// Unauthenticated: scoped by reference id or by the gateway signature
		r.Group(func(r chi.Router) {
			r.Use(ratelimit.IPLimiter(limits))
			r.Post("/verify", handler.verifyPayment)
			r.Post("/webhook/razorpay", handler.razorpayWebhook)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(deps.Verifier))
			r.Use(ratelimit.UserLimiter(limits))
			r.With(auth.RequireRole(cfg.Auth.CreateRoles...)).Post("/create", handler.createPayment)
			r.Get("/status/{referenceId}", handler.paymentStatus)
			r.Get("/paymenthistory/{userId}", handler.paymentHistory)
		})
	})
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
