package route

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"tuitionpay_backend/internals/features/admin/controller"
	"tuitionpay_backend/internals/features/admin/service"
)

// AdminAuthRoutes must be mounted before the JWT gate.
func AdminAuthRoutes(api fiber.Router, svc *service.AdminService, secureCookie bool, loginLimiter fiber.Handler, log *zap.Logger) {
	ctrl := controller.NewAdminController(svc, secureCookie, log)
	api.Post("/admin/login", loginLimiter, ctrl.Login)
}

// AdminRoutes mounts under the JWT-gated /api/admin group.
func AdminRoutes(admin fiber.Router, svc *service.AdminService, secureCookie bool, log *zap.Logger) {
	ctrl := controller.NewAdminController(svc, secureCookie, log)
	admin.Get("/session", ctrl.Session)
	admin.Post("/logout", ctrl.Logout)
	admin.Post("/retry-payment", ctrl.RetryPayment)
}
