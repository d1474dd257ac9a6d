package middleware

import (
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP) across the whole /context API. Every command
	// route can spawn an interpreter process, so this is the first line of
	// defense before the executor's own concurrency bound.
	GlobalMax        int
	GlobalExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// 120/min = 2 req/sec - generous for a bridge that fronts a PSA API
		GlobalMax:        120,
		GlobalExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig reads overrides from the environment
func LoadRateLimitConfig() *RateLimitConfig {
	cfg := DefaultRateLimitConfig()

	if v := os.Getenv("RATE_LIMIT_GLOBAL_MAX"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.GlobalMax = parsed
		}
	}

	return cfg
}

// GlobalRateLimiter limits all context API requests per client IP
func GlobalRateLimiter(cfg *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        cfg.GlobalMax,
		Expiration: cfg.GlobalExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded, slow down",
			})
		},
	})
}
