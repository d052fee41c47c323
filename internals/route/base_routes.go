package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	database "tuitionpay_backend/internals/databases"
	"tuitionpay_backend/internals/kvstore"
)

func BaseRoutes(app *fiber.App, db *gorm.DB, kv kvstore.Store) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("tuition autopay API")
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		dbStatus, kvStatus := "connected", "connected"
		serverStatus := "OK"
		httpStatus := fiber.StatusOK

		if err := database.Ping(ctx, db); err != nil {
			dbStatus = "database connection error"
			serverStatus = "DOWN"
			httpStatus = fiber.StatusServiceUnavailable
		}
		if _, err := kvstore.Exists(ctx, kv, "health:probe"); err != nil {
			kvStatus = "kv store error"
			serverStatus = "DEGRADED"
		}

		return c.Status(httpStatus).JSON(fiber.Map{
			"status":         serverStatus,
			"database":       dbStatus,
			"kv":             kvStatus,
			"server_time":    time.Now().UTC().Format(time.RFC3339),
			"uptime_seconds": int64(time.Since(startTime).Seconds()),
		})
	})
}
