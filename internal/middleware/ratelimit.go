package middleware

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/onera/studio/pkg/response"
)

type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Limit creates a fixed-window rate limiting middleware keyed by the authenticated
// user, or the client IP for anonymous callers. A non-positive maxRequests
// disables the limit.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if maxRequests <= 0 {
			return c.Next()
		}

		subject := GetUserID(c)
		if subject == "" {
			subject = "ip:" + c.IP()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, subject)
		ctx := c.UserContext()

		// Increment counter
		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// If Redis fails, allow the request but log the error
			log.Printf("rate limiter unavailable: %v", err)
			return c.Next()
		}

		// Set expiration on first request
		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			// Get TTL for retry-after header
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		// Add rate limit headers
		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// RenderLimit returns a rate limiter for render submissions (5 req/hour by default)
func (rl *RateLimiter) RenderLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("render", maxPerHour, time.Hour)
}

// SignLimit returns a rate limiter for asset signing (50 req/hour by default)
func (rl *RateLimiter) SignLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("sign", maxPerHour, time.Hour)
}
