package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	connect "github.com/goliatone/go-connect"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps failures talking to Redis
var ErrRedisUnavailable = errors.New("rate limit redis unavailable")

// Config holds limiter tuning parameters.
type Config struct {
	// Max requests allowed per key inside Window
	Max    int
	Window time.Duration
	// Prefix namespaces the Redis keys
	Prefix string
	// FailOpen lets requests through when Redis can not be reached
	FailOpen bool
	// KeyFunc identifies the caller, defaults to route path and client IP
	KeyFunc func(c *fiber.Ctx) string
	Logger  connect.Logger
}

// Limiter is a fixed window counter backed by Redis
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter. Zero values fall back to 5 requests per minute.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Max <= 0 {
		cfg.Max = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "connect:rl"
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *fiber.Ctx) string {
			return c.Route().Path + ":" + c.IP()
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = connect.NewSlogLogger(nil)
	}
	return &Limiter{redis: redisClient, config: cfg}
}

// Allow counts a hit for key. It returns the hits left in the current
// window and connect.ErrTooManyRequests once the budget is spent.
func (l *Limiter) Allow(ctx context.Context, key string) (int, error) {
	count, err := l.incrementWithTTL(ctx, l.config.Prefix+":"+key, l.config.Window)
	if err != nil {
		return 0, err
	}

	remaining := l.config.Max - int(count)
	if remaining < 0 {
		return 0, connect.ErrTooManyRequests
	}
	return remaining, nil
}

// Reset clears the counter for key
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.config.Prefix+":"+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Handler returns the fiber middleware
func (l *Limiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := l.config.KeyFunc(c)

		remaining, err := l.Allow(c.UserContext(), key)
		switch {
		case errors.Is(err, ErrRedisUnavailable):
			if l.config.FailOpen {
				l.config.Logger.Warn("rate limiter unavailable, letting request through", "key", key, "error", err)
				return c.Next()
			}
			l.config.Logger.Error("rate limiter unavailable", "key", key, "error", err)
			return err
		case err != nil:
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(l.retryAfter(c.UserContext(), key).Seconds())))
			c.Set("X-RateLimit-Limit", strconv.Itoa(l.config.Max))
			c.Set("X-RateLimit-Remaining", "0")
			return err
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(l.config.Max))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		return c.Next()
	}
}

func (l *Limiter) retryAfter(ctx context.Context, key string) time.Duration {
	ttl, err := l.redis.TTL(ctx, l.config.Prefix+":"+key).Result()
	if err != nil || ttl <= 0 {
		return l.config.Window
	}
	return ttl
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// fixed window, TTL is only set on the first hit
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
