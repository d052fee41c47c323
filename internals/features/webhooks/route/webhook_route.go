package route

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/features/webhooks/controller"
	"tuitionpay_backend/internals/features/webhooks/service"
)

// WebhookPublicRoutes mounts the signature-verified ingress. It must see the
// raw body, so nothing in front of it may parse or rewrite the payload.
func WebhookPublicRoutes(api fiber.Router, db *gorm.DB, ingress *service.Ingress, log *zap.Logger) {
	ctrl := controller.NewWebhookController(db, ingress, log)
	api.Post("/webhook", ctrl.Receive)
}

func WebhookAdminRoutes(admin fiber.Router, db *gorm.DB, ingress *service.Ingress, log *zap.Logger) {
	ctrl := controller.NewWebhookController(db, ingress, log)

	events := admin.Group("/webhook-events")
	events.Get("/", ctrl.ListEvents)
	events.Get("/:id", ctrl.GetEvent)
}
