package middlewares

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func limitReached(message string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"success":    false,
			"message":    message,
			"error_code": "TOO_MANY_REQUESTS",
		})
	}
}

// Global limiter for every ordinary endpoint.
func GlobalRateLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		// the processor retries from a small IP pool; never throttle it
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/api/webhook"
		},
		LimitReached: limitReached("Too many requests. Please try again later."),
	})
}

// Admin login is stricter.
func LoginRateLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        5,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: limitReached("Too many login attempts. Try again in a minute."),
	})
}

// Enrollment start creates processor customers, so it is rationed per IP.
func EnrollmentRateLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        10,
		Expiration: 10 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: limitReached("Too many enrollment attempts. Please wait a few minutes."),
	})
}

// Micro-deposit verification is also capped per setup intent in the KV
// store; this only blunts bursts from one client.
func VerifyRateLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        5,
		Expiration: 10 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: limitReached("Too many verification attempts. Please wait 10 minutes."),
	})
}
