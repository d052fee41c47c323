package controller

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tuitionpay_backend/internals/features/enrollment/dto"
	"tuitionpay_backend/internals/features/enrollment/service"
	helper "tuitionpay_backend/internals/helpers"
)

var validate = validator.New()

type EnrollmentController struct {
	Enrollments *service.EnrollmentService
	Log         *zap.Logger
}

func NewEnrollmentController(svc *service.EnrollmentService, log *zap.Logger) *EnrollmentController {
	return &EnrollmentController{Enrollments: svc, Log: log}
}

// ======================
// POST /api/enrollment
// ======================
func (ctrl *EnrollmentController) Start(c *fiber.Ctx) error {
	var body dto.StartEnrollmentRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return helper.JsonValidationError(c, err)
	}
	res, err := ctrl.Enrollments.Start(c.UserContext(), body.ToInput())
	if err != nil {
		return err
	}
	return helper.JsonCreated(c, "enrollment started", res)
}

// POST /api/enrollment/verify-microdeposits
func (ctrl *EnrollmentController) VerifyMicrodeposits(c *fiber.Ctx) error {
	var body dto.VerifyMicrodepositsRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return helper.JsonValidationError(c, err)
	}
	res, err := ctrl.Enrollments.VerifyMicrodeposits(c.UserContext(), body.SetupIntentID, body.Amounts, strings.ToUpper(body.DescriptorCode))
	if err != nil {
		return err
	}
	return helper.JsonOK(c, "verification submitted", res)
}

// GET /api/enrollment/:setup_intent_id/status
func (ctrl *EnrollmentController) Status(c *fiber.Ctx) error {
	si := strings.TrimSpace(c.Params("setup_intent_id"))
	if si == "" {
		return fiber.NewError(fiber.StatusBadRequest, "setup_intent_id is required")
	}
	res, err := ctrl.Enrollments.Status(c.UserContext(), si)
	if err != nil {
		return err
	}
	return helper.JsonOK(c, "ok", res)
}

// GET /api/enrollment/students?batch=
func (ctrl *EnrollmentController) ListAvailableStudents(c *fiber.Ctx) error {
	var batchID *uuid.UUID
	if v := strings.TrimSpace(c.Query("batch")); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "batch is not a valid uuid")
		}
		batchID = &id
	}
	rows, err := ctrl.Enrollments.ListAvailableStudents(c.UserContext(), batchID)
	if err != nil {
		return err
	}
	return helper.JsonOK(c, "ok", rows)
}
