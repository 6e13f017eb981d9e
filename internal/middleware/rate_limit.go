package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-review-api/internal/utils"
)

const (
	defaultRateMax    = 10
	defaultRateWindow = time.Minute
)

// RateLimit throttles a route group with a sliding window. Authenticated
// callers are keyed by user id, anonymous ones by client IP. A non positive
// max falls back to the default.
func RateLimit(scope string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = defaultRateMax
	}
	if window <= 0 {
		window = defaultRateWindow
	}

	return limiter.New(limiter.Config{
		Max:               max,
		Expiration:        window,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator: func(c *fiber.Ctx) string {
			return scope + ":" + rateLimitSubject(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(window.Seconds())))
			return utils.Fail(c, fiber.StatusTooManyRequests, "too many requests", fiber.Map{
				"scope":      scope,
				"suggestion": fmt.Sprintf("wait %s before retrying", window),
			})
		},
	})
}

func rateLimitSubject(c *fiber.Ctx) string {
	switch v := c.Locals("user_id").(type) {
	case string:
		if v != "" && v != "0" {
			return "user:" + v
		}
	case nil:
	default:
		if id := fmt.Sprint(v); id != "" && id != "0" {
			return "user:" + id
		}
	}
	return "ip:" + c.IP()
}
