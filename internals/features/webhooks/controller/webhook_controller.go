package controller

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/features/webhooks/dto"
	"tuitionpay_backend/internals/features/webhooks/model"
	"tuitionpay_backend/internals/features/webhooks/service"
	helper "tuitionpay_backend/internals/helpers"
	"tuitionpay_backend/internals/processor"
)

const SignatureHeader = "Stripe-Signature"

type WebhookController struct {
	DB      *gorm.DB
	Ingress *service.Ingress
	Log     *zap.Logger
}

func NewWebhookController(db *gorm.DB, ingress *service.Ingress, log *zap.Logger) *WebhookController {
	return &WebhookController{DB: db, Ingress: ingress, Log: log}
}

// ======================
// POST /api/webhook
// ======================
// Only a forged or malformed delivery is a 4xx. Every handler failure,
// including processor errors raised by a handler, answers 5xx so the
// processor redelivers.
func (ctrl *WebhookController) Receive(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	res, err := ctrl.Ingress.Receive(c.UserContext(), payload, c.Get(SignatureHeader))
	switch {
	case err == nil:
	case errors.Is(err, processor.ErrInvalidSignature):
		return fiber.NewError(fiber.StatusBadRequest, "invalid signature")
	case errors.Is(err, service.ErrMalformedEvent):
		return fiber.NewError(fiber.StatusBadRequest, "malformed event payload")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "webhook processing failed")
	}
	return c.JSON(fiber.Map{"received": true, "status": res.Status, "event_id": res.EventID})
}

// ======================
// GET /api/admin/webhook-events?status=&type=&start=&end=
// ======================
func (ctrl *WebhookController) ListEvents(c *fiber.Ctx) error {
	p := helper.ResolvePaging(c, 20, 200)
	q := ctrl.DB.WithContext(c.UserContext()).Model(&model.WebhookEventModel{})

	if v := strings.TrimSpace(c.Query("status")); v != "" {
		q = q.Where("webhook_event_status = ?", strings.ToLower(v))
	}
	if v := strings.TrimSpace(c.Query("type")); v != "" {
		q = q.Where("webhook_event_type = ?", v)
	}
	if v := strings.TrimSpace(c.Query("object_id")); v != "" {
		q = q.Where("webhook_event_object_id = ?", v)
	}
	if v := strings.TrimSpace(c.Query("start")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid start (use RFC3339)")
		}
		q = q.Where("webhook_event_received_at >= ?", t)
	}
	if v := strings.TrimSpace(c.Query("end")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid end (use RFC3339)")
		}
		q = q.Where("webhook_event_received_at < ?", t)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return err
	}
	var rows []model.WebhookEventModel
	if err := q.Order("webhook_event_received_at DESC").
		Offset(p.Offset).Limit(p.Limit).Find(&rows).Error; err != nil {
		return err
	}
	out := make([]dto.WebhookEventResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, dto.FromWebhookEventModel(r, false))
	}
	return helper.JsonList(c, "ok", out, helper.BuildPagination(total, p, len(rows)))
}

// GET /api/admin/webhook-events/:id (ledger uuid or processor event id)
func (ctrl *WebhookController) GetEvent(c *fiber.Ctx) error {
	raw := strings.TrimSpace(c.Params("id"))
	q := ctrl.DB.WithContext(c.UserContext())
	var m model.WebhookEventModel
	var err error
	if id, perr := uuid.Parse(raw); perr == nil {
		err = q.First(&m, "webhook_event_id = ?", id).Error
	} else {
		err = q.First(&m, "webhook_event_external_id = ?", raw).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "event not found")
	}
	if err != nil {
		return err
	}
	return helper.JsonOK(c, "ok", dto.FromWebhookEventModel(m, true))
}
