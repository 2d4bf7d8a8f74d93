package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"clubmailer/internal/app"
	"clubmailer/internal/config"
	"clubmailer/internal/handler"
	"clubmailer/internal/logger"
	"clubmailer/internal/middleware"
	"clubmailer/internal/queue"
	"clubmailer/internal/repository"
	"clubmailer/internal/service"
)

const version = "1.0.0"

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(os.Getenv("ENV"))
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New(cfg.Env).With().Str("component", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDatabase(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	defer db.Close()
	log.Info().Msg("connected to database")

	rdb := app.NewRedisClient(cfg)
	if rdb != nil {
		defer rdb.Close()
	}

	dispatcher, err := app.NewDispatcher(cfg, db, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build dispatcher")
	}

	// Async triggers are optional; the API still serves sync runs without a broker.
	var publisher handler.RunPublisher
	conn, err := queue.NewConnection(cfg.GetRabbitMQURL(), log)
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq unavailable, async dispatch disabled")
	} else {
		defer conn.Close()
		p, err := queue.NewPublisher(conn, cfg.RabbitMQ.QueueName)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create publisher")
		}
		publisher = p
	}

	if cfg.Server.TriggerToken == "" {
		log.Warn().Msg("TRIGGER_TOKEN is empty, write endpoints will reject every request")
	}

	var redisHealth redis.Cmdable
	if rdb != nil {
		redisHealth = rdb
	}

	campaignSvc := service.NewCampaignService(
		repository.NewCampaignRepository(db),
		repository.NewQueueRepository(db),
		service.NewTemplateService(),
	)

	router := handler.NewRouter(
		handler.NewCampaignHandler(campaignSvc),
		handler.NewDispatchHandler(app.Runner{Dispatcher: dispatcher, Config: cfg}, publisher),
		handler.NewHealthHandler(service.NewHealthService(db, cfg.GetRabbitMQURL(), redisHealth, version)),
		middleware.BearerToken(cfg.Server.TriggerToken),
	)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Use(middleware.RequestLogger(log), middleware.Recovery)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("api server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
