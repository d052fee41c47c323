package route

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/features/billing/controller"
	"tuitionpay_backend/internals/features/billing/service"
	"tuitionpay_backend/internals/processor"
)

// BillingAdminRoutes mounts under the JWT-gated /api/admin group.
func BillingAdminRoutes(admin fiber.Router, db *gorm.DB, proc processor.Client, subs *service.SubscriptionService, log *zap.Logger) {
	ctrl := controller.NewBillingController(db, proc, subs, log)

	subscriptions := admin.Group("/subscriptions")
	subscriptions.Get("/", ctrl.ListSubscriptions)
	subscriptions.Get("/:id", ctrl.GetSubscription)
	subscriptions.Post("/:id/cancel", ctrl.CancelSubscription)

	admin.Get("/payments", ctrl.ListStudentPayments)

	notifications := admin.Group("/notifications")
	notifications.Get("/", ctrl.ListNotifications)
	notifications.Delete("/", ctrl.ClearNotifications)
}
