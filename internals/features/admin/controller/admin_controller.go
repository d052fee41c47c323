package controller

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"tuitionpay_backend/internals/features/admin/dto"
	"tuitionpay_backend/internals/features/admin/service"
	helper "tuitionpay_backend/internals/helpers"
	"tuitionpay_backend/internals/middlewares/auth"
)

var validate = validator.New()

type AdminController struct {
	Admin *service.AdminService
	// SecureCookie marks the session cookie Secure; off for local http.
	SecureCookie bool
	Log          *zap.Logger
}

func NewAdminController(svc *service.AdminService, secureCookie bool, log *zap.Logger) *AdminController {
	return &AdminController{Admin: svc, SecureCookie: secureCookie, Log: log}
}

// ======================
// POST /api/admin/login
// ======================
func (ctrl *AdminController) Login(c *fiber.Ctx) error {
	var body dto.LoginRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return helper.JsonValidationError(c, err)
	}

	sess, err := ctrl.Admin.Login(c.UserContext(), body.Password)
	if err != nil {
		return err
	}
	c.Cookie(&fiber.Cookie{
		Name:     auth.SessionCookie,
		Value:    sess.Token,
		Path:     "/api/admin",
		Expires:  sess.ExpiresAt,
		HTTPOnly: true,
		Secure:   ctrl.SecureCookie,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
	return helper.JsonOK(c, "logged in", sess)
}

// POST /api/admin/logout
func (ctrl *AdminController) Logout(c *fiber.Ctx) error {
	sessionID, _ := c.Locals(auth.LocalSessionID).(string)
	expiresAt, _ := c.Locals(auth.LocalExpiresAt).(time.Time)
	if err := ctrl.Admin.Logout(c.UserContext(), sessionID, expiresAt); err != nil {
		return err
	}
	c.Cookie(&fiber.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/api/admin",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   ctrl.SecureCookie,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
	return helper.JsonOK(c, "logged out", nil)
}

// GET /api/admin/session
func (ctrl *AdminController) Session(c *fiber.Ctx) error {
	return helper.JsonOK(c, "ok", fiber.Map{
		"role":       auth.RoleFrom(c),
		"session_id": c.Locals(auth.LocalSessionID),
	})
}

// ======================
// POST /api/admin/retry-payment
// ======================
func (ctrl *AdminController) RetryPayment(c *fiber.Ctx) error {
	var body dto.RetryPaymentRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return helper.JsonValidationError(c, err)
	}

	res, err := ctrl.Admin.RetryPayment(c.UserContext(), body.SubscriptionID)
	if err != nil {
		return err
	}
	return helper.JsonOK(c, res.Message, res)
}
