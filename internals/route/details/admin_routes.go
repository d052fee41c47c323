// file: internals/route/details/admin_routes.go
package details

import (
	"github.com/gofiber/fiber/v2"

	AdminRoute "tuitionpay_backend/internals/features/admin/route"
	BillingRoute "tuitionpay_backend/internals/features/billing/route"
	ReconcileRoute "tuitionpay_backend/internals/features/reconcile/route"
	StudentRoute "tuitionpay_backend/internals/features/students/route"
	WebhookRoute "tuitionpay_backend/internals/features/webhooks/route"
)

func AdminRoutes(admin fiber.Router, s *Services) {
	AdminRoute.AdminRoutes(admin, s.Admin, s.Config.IsProduction(), s.Log.Named("admin"))
	StudentRoute.StudentAdminRoutes(admin, s.DB, s.Log.Named("students"))
	BillingRoute.BillingAdminRoutes(admin, s.DB, s.Processor, s.Subscriptions, s.Log.Named("billing"))
	ReconcileRoute.ReconcileAdminRoutes(admin, s.Reconcile, s.KV, s.Log.Named("reconcile"))
	WebhookRoute.WebhookAdminRoutes(admin, s.DB, s.Ingress, s.Log.Named("webhooks"))
}

func CronRoutes(cron fiber.Router, s *Services) {
	ReconcileRoute.ReconcileCronRoutes(cron, s.Reconcile, s.KV, s.Log.Named("cron"))
}
