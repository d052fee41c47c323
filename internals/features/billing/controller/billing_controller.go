package controller

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/features/billing/dto"
	"tuitionpay_backend/internals/features/billing/model"
	"tuitionpay_backend/internals/features/billing/service"
	helper "tuitionpay_backend/internals/helpers"
	"tuitionpay_backend/internals/processor"
)

var validate = validator.New()

type BillingController struct {
	DB            *gorm.DB
	Processor     processor.Client
	Subscriptions *service.SubscriptionService
	Notifier      *service.Notifier
	Log           *zap.Logger
}

func NewBillingController(db *gorm.DB, proc processor.Client, subs *service.SubscriptionService, log *zap.Logger) *BillingController {
	return &BillingController{DB: db, Processor: proc, Subscriptions: subs, Notifier: subs.Notifier, Log: log}
}

// ======================
// GET /api/admin/subscriptions?status=
// ======================
func (ctrl *BillingController) ListSubscriptions(c *fiber.Ctx) error {
	p := helper.ResolvePaging(c, 25, 200)
	q := ctrl.DB.WithContext(c.UserContext()).Model(&model.SubscriptionModel{})

	if v := strings.TrimSpace(c.Query("status")); v != "" {
		if _, ok := model.ParseSubscriptionStatus(v); !ok {
			return fiber.NewError(fiber.StatusBadRequest, "unknown status")
		}
		q = q.Where("subscription_status = ?", v)
	}
	if v := strings.TrimSpace(c.Query("payer_id")); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "payer_id is not a valid uuid")
		}
		q = q.Where("subscription_payer_id = ?", id)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return err
	}
	var rows []model.SubscriptionModel
	if err := q.Order("subscription_created_at DESC").
		Offset(p.Offset).Limit(p.Limit).Find(&rows).Error; err != nil {
		return err
	}

	now := time.Now().UTC()
	out := make([]dto.SubscriptionResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, dto.FromSubscriptionModel(r, ctrl.Subscriptions.Policy.MaxAttempts, now))
	}
	return helper.JsonList(c, "ok", out, helper.BuildPagination(total, p, len(rows)))
}

// GET /api/admin/subscriptions/:id (local uuid or processor id)
func (ctrl *BillingController) GetSubscription(c *fiber.Ctx) error {
	sub, err := ctrl.findSubscription(c)
	if err != nil {
		return err
	}
	return helper.JsonOK(c, "ok", dto.FromSubscriptionModel(*sub, ctrl.Subscriptions.Policy.MaxAttempts, time.Now().UTC()))
}

// POST /api/admin/subscriptions/:id/cancel
// Cancels at the processor first; the local row follows the same path the
// customer.subscription.deleted webhook takes.
func (ctrl *BillingController) CancelSubscription(c *fiber.Ctx) error {
	sub, err := ctrl.findSubscription(c)
	if err != nil {
		return err
	}
	if sub.SubscriptionProcessorID == nil {
		return fiber.NewError(fiber.StatusConflict, "subscription has not been created at the processor yet")
	}
	if sub.SubscriptionStatus == model.SubscriptionStatusCanceled {
		return fiber.NewError(fiber.StatusConflict, "subscription already canceled")
	}
	ctx := c.UserContext()
	if _, err := ctrl.Processor.CancelSubscription(ctx, *sub.SubscriptionProcessorID); err != nil && !processor.IsNotFound(err) {
		return err
	}
	if _, err := ctrl.Subscriptions.MarkCanceled(ctx, *sub.SubscriptionProcessorID); err != nil {
		return err
	}
	ctrl.Log.Info("subscription canceled by admin", zap.String("subscription_id", *sub.SubscriptionProcessorID))
	return helper.JsonOK(c, "subscription canceled", fiber.Map{"subscription_id": *sub.SubscriptionProcessorID})
}

// GET /api/admin/payments?student_id=&year=&month=
func (ctrl *BillingController) ListStudentPayments(c *fiber.Ctx) error {
	var f dto.StudentPaymentFilter
	if err := c.QueryParser(&f); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid query")
	}
	if err := validate.Struct(f); err != nil {
		return helper.JsonValidationError(c, err)
	}

	p := helper.ResolvePaging(c, 50, 500)
	q := ctrl.DB.WithContext(c.UserContext()).Model(&model.StudentPaymentModel{})
	if f.StudentID != "" {
		q = q.Where("student_payment_student_id = ?", uuid.MustParse(f.StudentID))
	}
	if f.Year != 0 {
		q = q.Where("student_payment_year = ?", f.Year)
	}
	if f.Month != 0 {
		q = q.Where("student_payment_month = ?", f.Month)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return err
	}
	var rows []model.StudentPaymentModel
	if err := q.Order("student_payment_paid_at DESC").
		Offset(p.Offset).Limit(p.Limit).Find(&rows).Error; err != nil {
		return err
	}
	return helper.JsonList(c, "ok", dto.FromStudentPaymentModels(rows), helper.BuildPagination(total, p, len(rows)))
}

// GET /api/admin/notifications?limit=
func (ctrl *BillingController) ListNotifications(c *fiber.Ctx) error {
	notes, err := ctrl.Notifier.List(c.UserContext(), c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return helper.JsonOK(c, "ok", notes)
}

// DELETE /api/admin/notifications
func (ctrl *BillingController) ClearNotifications(c *fiber.Ctx) error {
	if err := ctrl.Notifier.Clear(c.UserContext()); err != nil {
		return err
	}
	return helper.JsonDeleted(c, "notifications cleared")
}

func (ctrl *BillingController) findSubscription(c *fiber.Ctx) (*model.SubscriptionModel, error) {
	raw := strings.TrimSpace(c.Params("id"))
	q := ctrl.DB.WithContext(c.UserContext())
	var sub model.SubscriptionModel
	var err error
	if id, perr := uuid.Parse(raw); perr == nil {
		err = q.First(&sub, "subscription_id = ?", id).Error
	} else {
		err = q.First(&sub, "subscription_processor_id = ?", raw).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, "subscription not found")
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
