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

	"tuitionpay_backend/internals/features/students/dto"
	"tuitionpay_backend/internals/features/students/model"
	"tuitionpay_backend/internals/features/students/service"
	helper "tuitionpay_backend/internals/helpers"
)

var validate = validator.New()

type StudentController struct {
	DB       *gorm.DB
	Siblings *service.SiblingService
	Log      *zap.Logger
}

func NewStudentController(db *gorm.DB, log *zap.Logger) *StudentController {
	return &StudentController{DB: db, Siblings: service.NewSiblingService(db), Log: log}
}

// ======================
// GET /api/admin/students?batch_id=&status=&q=
// ======================
func (ctrl *StudentController) List(c *fiber.Ctx) error {
	p := helper.ResolvePaging(c, 25, 200)
	q := ctrl.DB.WithContext(c.UserContext()).Model(&model.StudentModel{})

	if v := strings.TrimSpace(c.Query("batch_id")); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "batch_id is not a valid uuid")
		}
		q = q.Where("student_batch_id = ?", id)
	}
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		if !model.StudentStatus(v).Valid() {
			return fiber.NewError(fiber.StatusBadRequest, "unknown status")
		}
		q = q.Where("student_status = ?", v)
	}
	if v := strings.TrimSpace(c.Query("q")); v != "" {
		like := "%" + strings.ToLower(v) + "%"
		q = q.Where("LOWER(student_first_name) LIKE ? OR LOWER(student_last_name) LIKE ?", like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return err
	}
	var rows []model.StudentModel
	if err := q.Order("student_last_name ASC, student_first_name ASC").
		Offset(p.Offset).Limit(p.Limit).Find(&rows).Error; err != nil {
		return err
	}
	return helper.JsonList(c, "ok", dto.FromStudentModels(rows), helper.BuildPagination(total, p, len(rows)))
}

// GET /api/admin/students/:id
func (ctrl *StudentController) Get(c *fiber.Ctx) error {
	id, err := helper.ParseUUIDParam(c, "id", "student id")
	if err != nil {
		return err
	}
	var st model.StudentModel
	if err := ctrl.DB.WithContext(c.UserContext()).First(&st, "student_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "student not found")
		}
		return err
	}
	return helper.JsonOK(c, "ok", dto.FromStudentModel(st))
}

// POST /api/admin/students
func (ctrl *StudentController) Create(c *fiber.Ctx) error {
	var body dto.CreateStudentRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return helper.JsonValidationError(c, err)
	}
	st := body.ToModel()
	if err := ctrl.DB.WithContext(c.UserContext()).Create(&st).Error; err != nil {
		return err
	}
	ctrl.Log.Info("student created", zap.String("student_id", st.StudentID.String()))
	return helper.JsonCreated(c, "student created", dto.FromStudentModel(st))
}

// PATCH /api/admin/students/:id
func (ctrl *StudentController) Update(c *fiber.Ctx) error {
	id, err := helper.ParseUUIDParam(c, "id", "student id")
	if err != nil {
		return err
	}
	var body dto.UpdateStudentRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return helper.JsonValidationError(c, err)
	}

	db := ctrl.DB.WithContext(c.UserContext())
	updates := body.ToUpdates(time.Now().UTC())
	if len(updates) > 0 {
		res := db.Model(&model.StudentModel{}).Where("student_id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fiber.NewError(fiber.StatusNotFound, "student not found")
		}
	}
	var st model.StudentModel
	if err := db.First(&st, "student_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "student not found")
		}
		return err
	}
	return helper.JsonUpdated(c, "student updated", dto.FromStudentModel(st))
}

// POST /api/admin/students/:id/withdraw
// The student also leaves any sibling group so the group invariant holds.
func (ctrl *StudentController) Withdraw(c *fiber.Ctx) error {
	id, err := helper.ParseUUIDParam(c, "id", "student id")
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	var st model.StudentModel
	if err := ctrl.DB.WithContext(ctx).First(&st, "student_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "student not found")
		}
		return err
	}
	if st.StudentSiblingGroupID != nil {
		if _, err := ctrl.Siblings.RemoveMember(ctx, *st.StudentSiblingGroupID, id); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	if err := ctrl.DB.WithContext(ctx).Model(&model.StudentModel{}).
		Where("student_id = ?", id).
		Updates(map[string]any{
			"student_status":       model.StudentStatusWithdrawn,
			"student_withdrawn_at": now,
		}).Error; err != nil {
		return err
	}
	ctrl.Log.Info("student withdrawn", zap.String("student_id", id.String()))
	return helper.JsonUpdated(c, "student withdrawn", fiber.Map{"id": id, "status": model.StudentStatusWithdrawn})
}

// ======================
// Batches
// ======================

func (ctrl *StudentController) ListBatches(c *fiber.Ctx) error {
	var rows []model.BatchModel
	if err := ctrl.DB.WithContext(c.UserContext()).Order("batch_name ASC").Find(&rows).Error; err != nil {
		return err
	}
	return helper.JsonOK(c, "ok", rows)
}

func (ctrl *StudentController) CreateBatch(c *fiber.Ctx) error {
	var body dto.CreateBatchRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return helper.JsonValidationError(c, err)
	}
	db := ctrl.DB.WithContext(c.UserContext())
	name := strings.TrimSpace(body.Name)

	var exists int64
	if err := db.Model(&model.BatchModel{}).Where("batch_name = ?", name).Count(&exists).Error; err != nil {
		return err
	}
	if exists > 0 {
		return fiber.NewError(fiber.StatusConflict, "batch name already exists")
	}
	b := model.BatchModel{BatchName: name, BatchDescription: body.Description}
	if err := db.Create(&b).Error; err != nil {
		return err
	}
	return helper.JsonCreated(c, "batch created", b)
}
