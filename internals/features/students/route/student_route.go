package route

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/features/students/controller"
)

// StudentAdminRoutes mounts under the JWT-gated /api/admin group.
func StudentAdminRoutes(admin fiber.Router, db *gorm.DB, log *zap.Logger) {
	ctrl := controller.NewStudentController(db, log)

	students := admin.Group("/students")
	students.Get("/", ctrl.List)
	students.Post("/", ctrl.Create)
	students.Get("/:id", ctrl.Get)
	students.Patch("/:id", ctrl.Update)
	students.Post("/:id/withdraw", ctrl.Withdraw)

	batches := admin.Group("/batches")
	batches.Get("/", ctrl.ListBatches)
	batches.Post("/", ctrl.CreateBatch)

	groups := admin.Group("/sibling-groups")
	groups.Get("/", ctrl.ListSiblingGroups)
	groups.Post("/", ctrl.CreateSiblingGroup)
	groups.Delete("/:id", ctrl.DeleteSiblingGroup)
	groups.Post("/:id/members", ctrl.AddSiblingMember)
	groups.Delete("/:id/members/:student_id", ctrl.RemoveSiblingMember)
}
