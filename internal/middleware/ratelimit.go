package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-authgate/tokengate/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

const rateLimitPrefix = "ratelimit"

// RateLimitConfig configures per-client-IP rate limiting.
type RateLimitConfig struct {
	RequestsPerMinute int
	StoreType         string        // config.RateLimitStoreMemory or config.RateLimitStoreRedis
	CleanupInterval   time.Duration // memory store only
	RedisClient       *redis.Client // redis store only, owned by the caller

	Logger *zap.Logger
}

// NewRateLimiter returns a gin middleware limiting requests per client IP.
func NewRateLimiter(cfg RateLimitConfig) (gin.HandlerFunc, error) {
	if cfg.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", cfg.RequestsPerMinute)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	opts := limiter.StoreOptions{
		Prefix:          rateLimitPrefix,
		CleanUpInterval: cfg.CleanupInterval,
	}

	var (
		st  limiter.Store
		err error
	)
	switch cfg.StoreType {
	case config.RateLimitStoreMemory, "":
		if opts.CleanUpInterval <= 0 {
			opts.CleanUpInterval = limiter.DefaultCleanUpInterval
		}
		st = memory.NewStoreWithOptions(opts)
	case config.RateLimitStoreRedis:
		if cfg.RedisClient == nil {
			return nil, errors.New("redis rate limit store requires a Redis client")
		}
		st, err = sredis.NewStoreWithOptions(cfg.RedisClient, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis rate limit store: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown rate limit store %q", cfg.StoreType)
	}

	rate := limiter.Rate{
		Period: time.Minute,
		Limit:  int64(cfg.RequestsPerMinute),
	}
	logger := cfg.Logger

	return mgin.NewMiddleware(
		limiter.New(st, rate),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			logger.Info("rate limit exceeded",
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate_limit_exceeded",
				"error_description": "Too many requests. Please try again later.",
			})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			logger.Error("rate limiter failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":             "server_error",
				"error_description": "Rate limiter unavailable",
			})
		}),
	), nil
}
