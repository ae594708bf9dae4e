// Command reconcile runs a single orphaned-reservation sweep and exits. It is
// meant for cron jobs when the in-process sweeper is disabled.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/CedrosPay/ledger/internal/config"
	"github.com/CedrosPay/ledger/pkg/app"
)

func main() {
	configPath := flag.String("config", "", "path to config yaml")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline for the sweep")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ledgerApp, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init app")
	}
	defer ledgerApp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := ledgerApp.Sweeper.RunOnce(ctx)
	if err != nil {
		ledgerApp.Logger.Error().Err(err).Msg("reconcile.failed")
		return
	}
	fmt.Printf("examined=%d errors=%d actions=%v\n", report.Examined, report.Errors, report.Actions)
}
