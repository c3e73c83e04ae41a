package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/grants/pkg/observability"
)

// RedisLimiter is a fixed-window counter shared by every instance
type RedisLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewRedisLimiter creates a Redis-backed limiter
func NewRedisLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *RedisLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "grants:ratelimit"
	}
	return &RedisLimiter{redis: redisClient, config: config, prefix: prefix}
}

// Allow increments key's window counter
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.key(key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	// The first hit opens the window
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return false, fmt.Errorf("redis error: %w", err)
		}
	}

	return count <= int64(rl.config.RequestsPerWindow+rl.config.BurstSize), nil
}

// TTL returns the time until key's window resets
func (rl *RedisLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the counter for key
func (rl *RedisLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

func (rl *RedisLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// FailoverLimiter consults primary and falls back to secondary when primary
// errors
type FailoverLimiter struct {
	primary   Limiter
	secondary Limiter
	logger    *observability.Logger
}

// NewFailoverLimiter creates a limiter. A nil primary uses secondary alone.
func NewFailoverLimiter(primary, secondary Limiter, logger *observability.Logger) *FailoverLimiter {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &FailoverLimiter{primary: primary, secondary: secondary, logger: logger}
}

// Allow checks primary first
func (f *FailoverLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.primary != nil {
		allowed, err := f.primary.Allow(ctx, key)
		if err == nil {
			return allowed, nil
		}
		f.logger.WithError(err).Warn("Primary rate limiter failed; using local limiter")
	}
	return f.secondary.Allow(ctx, key)
}
