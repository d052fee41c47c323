package route

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"tuitionpay_backend/internals/features/enrollment/controller"
	"tuitionpay_backend/internals/features/enrollment/service"
)

// EnrollmentPublicRoutes mounts the unauthenticated enrollment wizard API.
// startLimiter and verifyLimiter sit on top of the global limiter.
func EnrollmentPublicRoutes(r fiber.Router, svc *service.EnrollmentService, startLimiter, verifyLimiter fiber.Handler, log *zap.Logger) {
	ctrl := controller.NewEnrollmentController(svc, log)

	r.Post("/", startLimiter, ctrl.Start)
	r.Get("/students", ctrl.ListAvailableStudents)
	r.Post("/verify-microdeposits", verifyLimiter, ctrl.VerifyMicrodeposits)
	r.Get("/:setup_intent_id/status", ctrl.Status)
}
