// Package reconcile settles payment reservations that never got a gateway
// order id, either because the gateway call failed in a way the create path
// could not clean up or because attaching the returned order failed.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/CedrosPay/ledger/internal/config"
	"github.com/CedrosPay/ledger/internal/metrics"
	"github.com/CedrosPay/ledger/internal/storage"
)

// Config holds sweep settings.
type Config struct {
	Enabled    bool
	Interval   time.Duration // how often to sweep
	Grace      time.Duration // minimum reservation age; must exceed the ledger write timeout
	BatchSize  int
	RunTimeout time.Duration
}

// ConfigFrom builds sweep settings from the service config.
func ConfigFrom(cfg config.ReconcileConfig) Config {
	return Config{
		Enabled:   cfg.Enabled,
		Interval:  cfg.Interval.Duration,
		Grace:     cfg.Grace.Duration,
		BatchSize: cfg.BatchSize,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Grace <= 0 {
		c.Grace = 2 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 2 * time.Minute
	}
	return c
}

// Resolver is the part of the ledger the sweep drives.
type Resolver interface {
	StaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]storage.PaymentOrder, error)
	ResolveReservation(ctx context.Context, order storage.PaymentOrder) (string, error)
}

// Report summarises one sweep.
type Report struct {
	Examined int
	Actions  map[string]int
	Errors   int
}

// Sweeper runs the reconciliation sweep on a schedule.
type Sweeper struct {
	resolver Resolver
	config   Config
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	stopChan chan struct{}
	doneChan chan struct{}

	startOnce sync.Once
	started   atomic.Bool
}

// NewSweeper creates a sweeper.
func NewSweeper(resolver Resolver, cfg Config, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		resolver: resolver,
		config:   cfg.withDefaults(),
		logger:   logger,
		metrics:  metricsCollector,
		now:      time.Now,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the background loop. Later calls are no-ops.
func (s *Sweeper) Start() {
	s.startOnce.Do(s.start)
}

func (s *Sweeper) start() {
	s.started.Store(true)
	if !s.config.Enabled {
		s.logger.Info().Msg("reconcile.disabled")
		close(s.doneChan)
		return
	}

	s.logger.Info().
		Dur("interval", s.config.Interval).
		Dur("grace", s.config.Grace).
		Msg("reconcile.started")

	go s.run()
}

// Stop ends the loop and waits for an in-flight sweep. Stopping a sweeper
// that was never started returns immediately.
func (s *Sweeper) Stop() {
	if !s.started.Load() {
		return
	}
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	<-s.doneChan
	s.logger.Info().Msg("reconcile.stopped")
}

func (s *Sweeper) run() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("reconcile.run_failed")
			}
			cancel()
		case <-s.stopChan:
			return
		}
	}
}

// RunOnce performs a single sweep. Failures on individual reservations are
// logged and counted; only a failure to list reservations is returned.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	cutoff := s.now().Add(-s.config.Grace)
	orders, err := s.resolver.StaleReservations(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return Report{}, fmt.Errorf("list stale reservations: %w", err)
	}

	report := Report{Examined: len(orders), Actions: make(map[string]int)}
	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}
		action, err := s.resolver.ResolveReservation(ctx, order)
		if err != nil {
			report.Errors++
			s.logger.Warn().
				Err(err).
				Str("reference_id", order.ReferenceID).
				Msg("reconcile.resolve_failed")
			continue
		}
		report.Actions[action]++
	}

	if report.Errors > 0 {
		report.Actions["error"] = report.Errors
	}
	s.metrics.ObserveReconcileRun(report.Actions)

	s.logger.Info().
		Int("examined", report.Examined).
		Interface("actions", report.Actions).
		Msg("reconcile.completed")
	return report, nil
}
