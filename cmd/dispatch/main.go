package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"clubmailer/internal/app"
	"clubmailer/internal/config"
	"clubmailer/internal/logger"
	"clubmailer/internal/service"
)

var (
	tenantID  = flag.String("tenant", "", "Tenant whose queue is drained (required)")
	maxPerRun = flag.Int("max", 0, "Maximum messages processed this run (default MAIL_MAX_PER_RUN)")
	batchSize = flag.Int("batch", 0, "Messages per SMTP session (default MAIL_BATCH_SIZE)")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	if *tenantID == "" {
		fmt.Fprintln(os.Stderr, "usage: dispatch -tenant <id> [-max N] [-batch N]")
		return 2
	}

	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	log := logger.New(cfg.Env).With().Str("component", "dispatch").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDatabase(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("database unavailable")
		return 1
	}
	defer db.Close()

	rdb := app.NewRedisClient(cfg)
	if rdb != nil {
		defer rdb.Close()
	}

	dispatcher, err := app.NewDispatcher(cfg, db, rdb, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to build dispatcher")
		return 1
	}

	summary, err := dispatcher.Run(ctx, *tenantID, app.RunOptions(cfg, *maxPerRun, *batchSize))
	if err != nil {
		var cfgErr *service.ConfigError
		if errors.As(err, &cfgErr) {
			log.Error().Err(err).Msg("tenant smtp configuration unusable")
		} else {
			log.Error().Err(err).Msg("dispatch run failed")
		}
		return 1
	}

	fmt.Println(summary)
	return 0
}
