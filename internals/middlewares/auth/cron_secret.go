package auth

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// CronSecret accepts "Authorization: Bearer <secret>" from the scheduler.
// With no secret configured every cron call is refused.
func CronSecret(secret string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			log.Warn("cron endpoint called but CRON_SECRET is not set", zap.String("path", c.Path()))
			return fiber.NewError(fiber.StatusUnauthorized, "cron secret not configured")
		}
		tok, err := extractBearerToken(c)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		if subtle.ConstantTimeCompare([]byte(tok), []byte(secret)) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid cron secret")
		}
		return c.Next()
	}
}
