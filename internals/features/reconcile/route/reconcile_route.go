package route

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"tuitionpay_backend/internals/features/reconcile/controller"
	"tuitionpay_backend/internals/features/reconcile/service"
	"tuitionpay_backend/internals/kvstore"
)

func ReconcileAdminRoutes(admin fiber.Router, svc *service.ReconcileService, kv kvstore.Store, log *zap.Logger) {
	ctrl := controller.NewReconcileController(svc, kv, log)
	admin.Post("/backfill-payments", ctrl.BackfillPayments)
	admin.Post("/reconcile-subscriptions", ctrl.SyncSubscriptions)
}

// ReconcileCronRoutes expects cron to be already behind the shared-secret gate.
func ReconcileCronRoutes(cron fiber.Router, svc *service.ReconcileService, kv kvstore.Store, log *zap.Logger) {
	ctrl := controller.NewReconcileController(svc, kv, log)
	cron.Post("/backfill-payments", ctrl.BackfillPayments)
	cron.Post("/reconcile-subscriptions", ctrl.SyncSubscriptions)
	cron.Post("/purge-kv", ctrl.PurgeKV)
}
