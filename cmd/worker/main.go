package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"clubmailer/internal/app"
	"clubmailer/internal/config"
	"clubmailer/internal/logger"
	"clubmailer/internal/queue"
	"clubmailer/internal/service"
)

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(os.Getenv("ENV"))
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New(cfg.Env).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDatabase(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	defer db.Close()

	rdb := app.NewRedisClient(cfg)
	if rdb != nil {
		defer rdb.Close()
	}

	dispatcher, err := app.NewDispatcher(cfg, db, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build dispatcher")
	}

	conn, err := queue.NewConnection(cfg.GetRabbitMQURL(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	defer conn.Close()

	runner := app.Runner{Dispatcher: dispatcher, Config: cfg}
	consumer, err := queue.NewConsumer(conn, cfg.RabbitMQ.QueueName, runHandler(runner, log), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create consumer")
	}
	if err := consumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start consumer")
	}
	log.Info().Str("queue", cfg.RabbitMQ.QueueName).Msg("worker started")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	if err := consumer.Stop(); err != nil {
		log.Error().Err(err).Msg("error stopping consumer")
	}
	log.Info().Msg("worker stopped")
}

type dispatchRunner interface {
	Run(ctx context.Context, tenantID string, opts service.RunOptions) (*service.Summary, error)
}

// runHandler runs the dispatcher once per request. A tenant with unusable
// SMTP settings is acknowledged: redelivering the request cannot fix it.
func runHandler(runner dispatchRunner, log zerolog.Logger) queue.RunHandler {
	return func(ctx context.Context, req *queue.RunRequest) error {
		opts := service.RunOptions{MaxPerRun: req.MaxPerRun, BatchSize: req.BatchSize}
		_, err := runner.Run(ctx, req.TenantID, opts)

		var cfgErr *service.ConfigError
		if errors.As(err, &cfgErr) {
			log.Error().Err(err).Str("tenant_id", req.TenantID).Msg("skipping run request")
			return nil
		}
		return err
	}
}
