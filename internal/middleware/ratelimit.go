package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/gestion-judicial/casefile-api/pkg/errors"
	"github.com/gestion-judicial/casefile-api/pkg/response"
)

// RateLimitStore counts hits per key within a fixed window.
type RateLimitStore interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisRateLimitStore keeps the counters in Redis so the limit holds across
// replicas of the API.
type RedisRateLimitStore struct {
	client *redis.Client
}

// NewRedisRateLimitStore wraps a Redis client as a rate-limit counter store.
func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client}
}

// Hit increments the counter for key. The first hit of a window starts the
// expiry clock; the counter vanishes when the window lapses.
func (s *RedisRateLimitStore) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return count, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return count, nil
}

// RateLimit rejects requests from a client IP beyond limit hits per window.
// Store failures fail open: an unreachable Redis must not lock out logins.
func RateLimit(store RateLimitStore, scope string, limit int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	if store == nil || limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:%s:%s", scope, c.ClientIP())
		count, err := store.Hit(c.Request.Context(), key, window)
		if err != nil {
			logger.Warn("rate limit store unavailable",
				zap.String("scope", scope),
				zap.Error(err))
			c.Next()
			return
		}

		if count > int64(limit) {
			response.Error(c, appErrors.Clone(appErrors.ErrRateLimited, "too many attempts, retry later"))
			c.Abort()
			return
		}

		c.Next()
	}
}
