package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"clubmailer/internal/models"
)

const keyHourlyCounter = "ratelimit:%s:%s:%s"

// bucketTTL outlives the hour so late readers still see the final count
const bucketTTL = 2 * time.Hour

// RedisLimiter keeps counters in Redis, one key per tenant and hour
type RedisLimiter struct {
	redis redis.Cmdable
	limit int
	now   func() time.Time
}

// NewRedisLimiter creates a limiter backed by Redis
func NewRedisLimiter(client redis.Cmdable, limit int) *RedisLimiter {
	if limit <= 0 {
		limit = DefaultHourlyLimit
	}
	return &RedisLimiter{redis: client, limit: limit, now: time.Now}
}

func (l *RedisLimiter) key(tenantID string) string {
	return fmt.Sprintf(keyHourlyCounter, tenantID, models.ActionTypeEmail, models.HourBucket(l.now()).Format("2006010215"))
}

// Remaining implements Limiter
func (l *RedisLimiter) Remaining(ctx context.Context, tenantID string) (int, error) {
	count, err := l.redis.Get(ctx, l.key(tenantID)).Int()
	if err == redis.Nil {
		return l.limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read rate limit: %w", err)
	}
	return remaining(l.limit, count), nil
}

// Record implements Limiter
func (l *RedisLimiter) Record(ctx context.Context, tenantID string, n int) error {
	if n <= 0 {
		return nil
	}
	key := l.key(tenantID)
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, key, int64(n))
		pipe.Expire(ctx, key, bucketTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record sends: %w", err)
	}
	return nil
}
