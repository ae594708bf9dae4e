package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/CedrosPay/ledger/internal/config"
	"github.com/CedrosPay/ledger/pkg/app"
)

func main() {
	configPath := flag.String("config", "", "path to config yaml (optional; environment overrides apply)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 20*time.Second, "grace period for in-flight requests")
	flag.Parse()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ledgerApp, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init app")
	}
	logger := ledgerApp.Logger
	ledgerApp.Start()

	serveErr := make(chan error, 1)
	go func() {
		if err := ledgerApp.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info().Msg("server.shutdown_requested")
	case err, ok := <-serveErr:
		if ok {
			logger.Error().Err(err).Msg("server.listen_failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	if err := ledgerApp.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server.shutdown_failed")
		os.Exit(1)
	}
	logger.Info().Msg("server.stopped")
}
