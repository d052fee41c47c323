// file: internals/route/details/public_routes.go
package details

import (
	"github.com/gofiber/fiber/v2"

	AdminRoute "tuitionpay_backend/internals/features/admin/route"
	EnrollmentRoute "tuitionpay_backend/internals/features/enrollment/route"
	WebhookRoute "tuitionpay_backend/internals/features/webhooks/route"
	"tuitionpay_backend/internals/middlewares"
)

// WebhookRoutes is mounted on /api with no auth; the signature is the gate.
func WebhookRoutes(api fiber.Router, s *Services) {
	WebhookRoute.WebhookPublicRoutes(api, s.DB, s.Ingress, s.Log.Named("webhooks"))
}

func EnrollmentRoutes(enrollment fiber.Router, s *Services) {
	EnrollmentRoute.EnrollmentPublicRoutes(enrollment, s.Enrollments,
		middlewares.EnrollmentRateLimiter(),
		middlewares.VerifyRateLimiter(),
		s.Log.Named("enrollment"))
}

// AdminLoginRoutes must run before the admin group installs its JWT gate.
func AdminLoginRoutes(api fiber.Router, s *Services) {
	AdminRoute.AdminAuthRoutes(api, s.Admin, s.Config.IsProduction(), middlewares.LoginRateLimiter(), s.Log.Named("admin"))
}
