package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Redis    RedisConfig
	Mail     MailConfig
	Env      string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	TriggerToken string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Host      string
	Port      string
	User      string
	Password  string
	QueueName string
}

// RedisConfig holds Redis configuration for the optional rate limit backend
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MailConfig holds the delivery engine limits. These are the single source
// of truth for the hourly ceiling and the attempt bound.
type MailConfig struct {
	MaxAttempts      int
	HourlyLimit      int
	BatchSize        int
	MaxPerRun        int
	BatchPause       time.Duration
	SMTPTimeout      time.Duration
	StaleAfter       time.Duration
	RateLimitBackend string
	DryRun           bool
}

const (
	RateLimitBackendPostgres = "postgres"
	RateLimitBackendRedis    = "redis"
)

// Load reads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			TriggerToken: getEnv("TRIGGER_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     getEnv("POSTGRES_USER", "clubmailer"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			DBName:   getEnv("POSTGRES_DB", "clubmailer_db"),
		},
		RabbitMQ: RabbitMQConfig{
			Host:      getEnv("RABBITMQ_HOST", "localhost"),
			Port:      getEnv("RABBITMQ_PORT", "5672"),
			User:      getEnv("RABBITMQ_DEFAULT_USER", "guest"),
			Password:  getEnv("RABBITMQ_DEFAULT_PASS", "guest"),
			QueueName: getEnv("RABBITMQ_QUEUE", "email_dispatch"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Mail: MailConfig{
			MaxAttempts:      getEnvAsInt("MAIL_MAX_ATTEMPTS", 3),
			HourlyLimit:      getEnvAsInt("MAIL_HOURLY_LIMIT", 150),
			BatchSize:        getEnvAsInt("MAIL_BATCH_SIZE", 20),
			MaxPerRun:        getEnvAsInt("MAIL_MAX_PER_RUN", 100),
			BatchPause:       getEnvAsDuration("MAIL_BATCH_PAUSE", time.Second),
			SMTPTimeout:      getEnvAsDuration("SMTP_TIMEOUT", 30*time.Second),
			StaleAfter:       getEnvAsDuration("MAIL_STALE_AFTER", 15*time.Minute),
			RateLimitBackend: strings.ToLower(getEnv("RATE_LIMIT_BACKEND", RateLimitBackendPostgres)),
			DryRun:           getEnvAsBool("MAIL_DRY_RUN", false),
		},
		Env: getEnv("ENV", "development"),
	}

	// Validate required fields
	if config.Database.Password == "" {
		return nil, fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	if err := config.Mail.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the mail limits are usable
func (m MailConfig) Validate() error {
	if m.MaxAttempts <= 0 {
		return fmt.Errorf("MAIL_MAX_ATTEMPTS must be positive")
	}
	if m.HourlyLimit <= 0 {
		return fmt.Errorf("MAIL_HOURLY_LIMIT must be positive")
	}
	if m.BatchSize <= 0 {
		return fmt.Errorf("MAIL_BATCH_SIZE must be positive")
	}
	if m.MaxPerRun <= 0 {
		return fmt.Errorf("MAIL_MAX_PER_RUN must be positive")
	}
	switch m.RateLimitBackend {
	case RateLimitBackendPostgres, RateLimitBackendRedis:
	default:
		return fmt.Errorf("invalid RATE_LIMIT_BACKEND %q: must be 'postgres' or 'redis'", m.RateLimitBackend)
	}
	return nil
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
	)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// getEnv gets environment variable or returns default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer or returns default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
