package middleware

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/podforge/api/internal/config"
	"github.com/podforge/api/pkg/response"
)

// RateLimiter counts requests per owner in fixed Redis windows
type RateLimiter struct {
	redis  *redis.Client
	limits config.RateLimitConfig
}

func NewRateLimiter(redisClient *redis.Client, limits config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{redis: redisClient, limits: limits}
}

// Limit creates a rate limiting middleware. A non-positive maxRequests
// disables the limit.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" || maxRequests <= 0 || rl.redis == nil {
			return c.Next()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, userID)
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// fail open
			log.Printf("[RateLimit] redis unavailable: %v", err)
			return c.Next()
		}

		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// ResearchLimit guards research job creation
func (rl *RateLimiter) ResearchLimit() fiber.Handler {
	return rl.Limit("research", rl.limits.ResearchPerHour, time.Hour)
}

// ProductionLimit guards production start and segment generation
func (rl *RateLimiter) ProductionLimit() fiber.Handler {
	return rl.Limit("production", rl.limits.ProductionPerHour, time.Hour)
}

func (rl *RateLimiter) ExportLimit() fiber.Handler {
	return rl.Limit("export", rl.limits.ExportPerHour, time.Hour)
}

// VoicesLimit guards catalog lookups, which may hit provider APIs
func (rl *RateLimiter) VoicesLimit() fiber.Handler {
	return rl.Limit("voices", rl.limits.VoicesPerMin, time.Minute)
}
