package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"tuitionpay_backend/internals/features/reconcile/service"
	helper "tuitionpay_backend/internals/helpers"
	"tuitionpay_backend/internals/kvstore"
)

// JobTimeout bounds a triggered job so a slow processor cannot pin a request forever.
const JobTimeout = 5 * time.Minute

type ReconcileController struct {
	Reconcile *service.ReconcileService
	KV        kvstore.Store
	Log       *zap.Logger
}

func NewReconcileController(svc *service.ReconcileService, kv kvstore.Store, log *zap.Logger) *ReconcileController {
	return &ReconcileController{Reconcile: svc, KV: kv, Log: log}
}

// jobContext detaches from the short per-request deadline.
func jobContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.UserContext()), JobTimeout)
}

// ======================
// POST /api/admin/backfill-payments
// POST /api/cron/backfill-payments
// ======================
func (ctrl *ReconcileController) BackfillPayments(c *fiber.Ctx) error {
	ctx, cancel := jobContext(c)
	defer cancel()

	sum, err := ctrl.Reconcile.BackfillPayments(ctx)
	if err != nil {
		ctrl.Log.Error("backfill aborted", zap.Error(err))
		return err
	}
	msg := fmt.Sprintf("Backfilled %d invoice(s) across %d subscription(s), %d new payment row(s)",
		sum.InvoicesProcessed, sum.Subscriptions, sum.RowsCreated)
	return helper.JsonOK(c, msg, sum)
}

// POST /api/admin/reconcile-subscriptions
func (ctrl *ReconcileController) SyncSubscriptions(c *fiber.Ctx) error {
	ctx, cancel := jobContext(c)
	defer cancel()

	sum, err := ctrl.Reconcile.SyncSubscriptionStatuses(ctx)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("Checked %d subscription(s), %d changed", sum.Checked, sum.Changed)
	return helper.JsonOK(c, msg, sum)
}

// POST /api/cron/purge-kv
func (ctrl *ReconcileController) PurgeKV(c *fiber.Ctx) error {
	n, err := kvstore.Purge(c.UserContext(), ctrl.KV)
	if err != nil {
		return err
	}
	return helper.JsonOK(c, "expired keys purged", fiber.Map{"purged": n})
}
