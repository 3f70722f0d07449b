package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/reelsmith/api/internal/logger"
	"github.com/reelsmith/api/pkg/response"
)

type RateLimiter struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimiter(redisClient *redis.Client, log logger.Logger) *RateLimiter {
	return &RateLimiter{redis: redisClient, log: logger.WithComponent(log, "ratelimit")}
}

// Limit allows maxRequests per window for each caller. Callers without an
// identity are keyed by address. A Redis outage lets requests through.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.redis == nil || maxRequests <= 0 {
			return c.Next()
		}

		caller := GetUserID(c)
		if caller == "" {
			caller = "ip:" + c.IP()
		}
		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, caller)
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			rl.log.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable")
			return c.Next()
		}

		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(maxRequests-int(count)))

		return c.Next()
	}
}

// VideoLimit limits job submissions per hour.
func (rl *RateLimiter) VideoLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("videos", maxPerHour, time.Hour)
}

// ToolingLimit limits the scenario and timeline tooling endpoints per minute.
func (rl *RateLimiter) ToolingLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("tooling", maxPerMin, time.Minute)
}
