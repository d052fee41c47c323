// file: internals/route/details/services.go
package details

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	adminService "tuitionpay_backend/internals/features/admin/service"
	"tuitionpay_backend/internals/features/billing/retry"
	billingService "tuitionpay_backend/internals/features/billing/service"
	enrollmentService "tuitionpay_backend/internals/features/enrollment/service"
	reconcileService "tuitionpay_backend/internals/features/reconcile/service"
	studentService "tuitionpay_backend/internals/features/students/service"
	webhookService "tuitionpay_backend/internals/features/webhooks/service"

	"tuitionpay_backend/internals/configs"
	"tuitionpay_backend/internals/kvstore"
	"tuitionpay_backend/internals/processor"
)

// Services is the object graph shared by the HTTP server and the CLI.
type Services struct {
	DB        *gorm.DB
	KV        kvstore.Store
	Processor processor.Client
	Config    configs.Config
	Log       *zap.Logger

	Pricing       studentService.Pricing
	Notifier      *billingService.Notifier
	Subscriptions *billingService.SubscriptionService
	Enrollments   *enrollmentService.EnrollmentService
	Ingress       *webhookService.Ingress
	Reconcile     *reconcileService.ReconcileService
	Admin         *adminService.AdminService
}

func NewServices(db *gorm.DB, kv kvstore.Store, proc processor.Client, cfg configs.Config, log *zap.Logger) *Services {
	pricing := studentService.Pricing{BaseCents: cfg.BaseMonthlyRateCents, DiscountCents: cfg.SiblingDiscountCents}
	policy := retry.Policy{
		MaxAttempts:     cfg.RetryMaxAttempts,
		DelayDays:       cfg.RetryDelayDays,
		GracePeriodDays: cfg.GracePeriodDays,
	}.Normalize()

	notifier := billingService.NewNotifier(kv, log.Named("notifications"))
	subs := billingService.NewSubscriptionService(db, policy, notifier, log.Named("billing"))
	enrollments := enrollmentService.NewEnrollmentService(db, kv, proc, pricing, log.Named("enrollment"))
	handlers := webhookService.NewHandlers(enrollments, subs, log.Named("webhooks"))

	return &Services{
		DB:            db,
		KV:            kv,
		Processor:     proc,
		Config:        cfg,
		Log:           log,
		Pricing:       pricing,
		Notifier:      notifier,
		Subscriptions: subs,
		Enrollments:   enrollments,
		Ingress:       webhookService.NewIngress(db, kv, proc, handlers, log.Named("webhooks")),
		Reconcile:     reconcileService.NewReconcileService(db, proc, subs, log.Named("reconcile")),
		Admin: adminService.NewAdminService(db, kv, proc, subs, adminService.Credentials{
			Password:   cfg.AdminPassword,
			JWTSecret:  cfg.JWTSecret,
			SessionTTL: cfg.AdminSessionTTL,
		}, log.Named("admin")),
	}
}
