package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "rl:write:"

// RateLimit caps mutating requests per client IP per minute using Redis. Reads pass through, and
// so does everything when Redis is absent or failing. A maxPerMin of 0 selects the default of 120.
func RateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 120
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := rateLimitPrefix + c.IP()
		ctx := c.UserContext()
		var incr *redis.IntCmd
		// SET NX EX opens the window; INCR leaves its TTL alone
		_, err := cache.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetNX(ctx, key, 0, time.Minute)
			incr = pipe.Incr(ctx, key)
			return nil
		})
		if err != nil {
			return c.Next()
		}
		cnt := incr.Val()
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
