// Package ratelimit enforces the per-tenant hourly ceiling on successful sends.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"clubmailer/internal/models"
	"clubmailer/internal/repository"
)

// DefaultHourlyLimit is the per-tenant ceiling on successful sends per hour
const DefaultHourlyLimit = 150

// Limiter tracks successful sends per tenant and hour bucket
type Limiter interface {
	// Remaining returns how many more sends the tenant may make this hour
	Remaining(ctx context.Context, tenantID string) (int, error)
	// Record adds n successful sends to the current hour bucket
	Record(ctx context.Context, tenantID string, n int) error
}

// SQLLimiter keeps counters in the rate_limits table
type SQLLimiter struct {
	repo  repository.RateLimitRepository
	limit int
	now   func() time.Time
}

// NewSQLLimiter creates a limiter backed by the rate_limits table
func NewSQLLimiter(repo repository.RateLimitRepository, limit int) *SQLLimiter {
	if limit <= 0 {
		limit = DefaultHourlyLimit
	}
	return &SQLLimiter{repo: repo, limit: limit, now: time.Now}
}

// Remaining implements Limiter
func (l *SQLLimiter) Remaining(ctx context.Context, tenantID string) (int, error) {
	count, err := l.repo.Count(ctx, tenantID, models.ActionTypeEmail, models.HourBucket(l.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to read rate limit: %w", err)
	}
	return remaining(l.limit, count), nil
}

// Record implements Limiter
func (l *SQLLimiter) Record(ctx context.Context, tenantID string, n int) error {
	if n <= 0 {
		return nil
	}
	if err := l.repo.Increment(ctx, tenantID, models.ActionTypeEmail, models.HourBucket(l.now()), n); err != nil {
		return fmt.Errorf("failed to record sends: %w", err)
	}
	return nil
}

func remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}
