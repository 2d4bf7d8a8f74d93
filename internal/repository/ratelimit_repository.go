package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type rateLimitRepository struct {
	db *sql.DB
}

// NewRateLimitRepository creates a new rate limit repository
func NewRateLimitRepository(db *sql.DB) RateLimitRepository {
	return &rateLimitRepository{db: db}
}

// Count returns the counter for the bucket, zero when absent
func (r *rateLimitRepository) Count(ctx context.Context, tenantID, actionType string, bucket time.Time) (int, error) {
	query := `
		SELECT count
		FROM rate_limits
		WHERE tenant_id = $1 AND action_type = $2 AND hour_bucket = $3
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, tenantID, actionType, bucket).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get rate limit count: %w", err)
	}

	return count, nil
}

// Increment atomically adds n to the bucket, creating it when absent
func (r *rateLimitRepository) Increment(ctx context.Context, tenantID, actionType string, bucket time.Time, n int) error {
	if n <= 0 {
		return nil
	}

	query := `
		INSERT INTO rate_limits (tenant_id, action_type, hour_bucket, count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, action_type, hour_bucket)
		DO UPDATE SET count = rate_limits.count + EXCLUDED.count
	`

	if _, err := r.db.ExecContext(ctx, query, tenantID, actionType, bucket, n); err != nil {
		return fmt.Errorf("failed to increment rate limit: %w", err)
	}

	return nil
}
