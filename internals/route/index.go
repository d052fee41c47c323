// file: internals/route/index.go
package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/configs"
	"tuitionpay_backend/internals/kvstore"
	"tuitionpay_backend/internals/middlewares/auth"
	"tuitionpay_backend/internals/processor"
	routeDetails "tuitionpay_backend/internals/route/details"
)

var startTime time.Time

type Deps struct {
	DB        *gorm.DB
	KV        kvstore.Store
	Processor processor.Client
	Config    configs.Config
	Log       *zap.Logger
}

func SetupRoutes(app *fiber.App, deps Deps) *routeDetails.Services {
	startTime = time.Now()
	log := deps.Log
	svc := routeDetails.NewServices(deps.DB, deps.KV, deps.Processor, deps.Config, log)

	BaseRoutes(app, deps.DB, deps.KV)
	api := app.Group("/api")

	// ===================== PUBLIC =====================
	log.Info("mounting webhook + enrollment routes")
	routeDetails.WebhookRoutes(api, svc)
	routeDetails.EnrollmentRoutes(api.Group("/enrollment"), svc)
	routeDetails.AdminLoginRoutes(api, svc)

	// ===================== ADMIN =====================
	log.Info("mounting admin routes")
	admin := api.Group("/admin",
		auth.AdminJWT(deps.Config.JWTSecret, deps.KV, log.Named("auth")),
		auth.OnlyRoles("", auth.RoleAdmin),
	)
	routeDetails.AdminRoutes(admin, svc)

	// ===================== CRON =====================
	log.Info("mounting cron routes")
	cron := api.Group("/cron", auth.CronSecret(deps.Config.CronSecret, log.Named("auth")))
	routeDetails.CronRoutes(cron, svc)

	return svc
}
