// Package app builds the shared pieces every binary wires together.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"clubmailer/internal/config"
	"clubmailer/internal/ratelimit"
	"clubmailer/internal/repository"
	"clubmailer/internal/service"
	"clubmailer/internal/smtp"
)

// OpenDatabase connects to PostgreSQL and verifies the connection
func OpenDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// NewRedisClient returns a client when Redis backs the rate limiter, nil otherwise
func NewRedisClient(cfg *config.Config) *redis.Client {
	if cfg.Mail.RateLimitBackend != config.RateLimitBackendRedis {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// NewLimiter picks the hourly limiter for the configured backend
func NewLimiter(cfg *config.Config, db *sql.DB, rdb *redis.Client) (ratelimit.Limiter, error) {
	switch cfg.Mail.RateLimitBackend {
	case config.RateLimitBackendPostgres:
		return ratelimit.NewSQLLimiter(repository.NewRateLimitRepository(db), cfg.Mail.HourlyLimit), nil
	case config.RateLimitBackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis rate limit backend needs a redis client")
		}
		return ratelimit.NewRedisLimiter(rdb, cfg.Mail.HourlyLimit), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Mail.RateLimitBackend)
	}
}

// NewOpener returns the SMTP opener, or a logging stand-in in dry-run mode
func NewOpener(cfg *config.Config, log zerolog.Logger) smtp.Opener {
	if cfg.Mail.DryRun {
		log.Warn().Msg("dry run: messages are logged, not sent")
		return &smtp.DryRunDialer{Logger: log}
	}
	return smtp.NewDialer(smtp.Options{Timeout: cfg.Mail.SMTPTimeout})
}

// NewDispatcher wires a dispatcher over PostgreSQL storage
func NewDispatcher(cfg *config.Config, db *sql.DB, rdb *redis.Client, log zerolog.Logger) (*service.Dispatcher, error) {
	limiter, err := NewLimiter(cfg, db, rdb)
	if err != nil {
		return nil, err
	}

	return service.NewDispatcher(
		repository.NewQueueRepository(db),
		repository.NewCampaignRepository(db),
		limiter,
		NewOpener(cfg, log),
		service.NewEnvCredentialResolver(),
		service.DispatcherConfig{
			MaxAttempts: cfg.Mail.MaxAttempts,
			BatchPause:  cfg.Mail.BatchPause,
			StaleAfter:  cfg.Mail.StaleAfter,
		},
		log,
	), nil
}

// RunOptions fills unset per-run limits from configuration
func RunOptions(cfg *config.Config, maxPerRun, batchSize int) service.RunOptions {
	if maxPerRun <= 0 {
		maxPerRun = cfg.Mail.MaxPerRun
	}
	if batchSize <= 0 {
		batchSize = cfg.Mail.BatchSize
	}
	return service.RunOptions{MaxPerRun: maxPerRun, BatchSize: batchSize}
}

// Runner applies the configured run limits before delegating to a dispatcher
type Runner struct {
	Dispatcher *service.Dispatcher
	Config     *config.Config
}

// Run implements the dispatch trigger contract
func (r Runner) Run(ctx context.Context, tenantID string, opts service.RunOptions) (*service.Summary, error) {
	return r.Dispatcher.Run(ctx, tenantID, RunOptions(r.Config, opts.MaxPerRun, opts.BatchSize))
}
