package controller

import (
	"github.com/gofiber/fiber/v2"

	"tuitionpay_backend/internals/features/students/dto"
	helper "tuitionpay_backend/internals/helpers"
)

// GET /api/admin/sibling-groups
func (ctrl *StudentController) ListSiblingGroups(c *fiber.Ctx) error {
	groups, err := ctrl.Siblings.List(c.UserContext())
	if err != nil {
		return err
	}
	return helper.JsonOK(c, "ok", groups)
}

// POST /api/admin/sibling-groups
func (ctrl *StudentController) CreateSiblingGroup(c *fiber.Ctx) error {
	var body dto.CreateSiblingGroupRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return helper.JsonValidationError(c, err)
	}
	g, err := ctrl.Siblings.CreateGroup(c.UserContext(), body.Name, body.StudentIDs)
	if err != nil {
		return err
	}
	return helper.JsonCreated(c, "sibling group created", g)
}

// POST /api/admin/sibling-groups/:id/members
func (ctrl *StudentController) AddSiblingMember(c *fiber.Ctx) error {
	groupID, err := helper.ParseUUIDParam(c, "id", "sibling group id")
	if err != nil {
		return err
	}
	var body dto.SiblingMemberRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return helper.JsonValidationError(c, err)
	}
	if err := ctrl.Siblings.AddMember(c.UserContext(), groupID, body.StudentID); err != nil {
		return err
	}
	return helper.JsonUpdated(c, "member added", fiber.Map{"sibling_group_id": groupID, "student_id": body.StudentID})
}

// DELETE /api/admin/sibling-groups/:id/members/:student_id
func (ctrl *StudentController) RemoveSiblingMember(c *fiber.Ctx) error {
	groupID, err := helper.ParseUUIDParam(c, "id", "sibling group id")
	if err != nil {
		return err
	}
	studentID, err := helper.ParseUUIDParam(c, "student_id", "student id")
	if err != nil {
		return err
	}
	dissolved, err := ctrl.Siblings.RemoveMember(c.UserContext(), groupID, studentID)
	if err != nil {
		return err
	}
	return helper.JsonUpdated(c, "member removed", fiber.Map{"group_deleted": dissolved})
}

// DELETE /api/admin/sibling-groups/:id
func (ctrl *StudentController) DeleteSiblingGroup(c *fiber.Ctx) error {
	groupID, err := helper.ParseUUIDParam(c, "id", "sibling group id")
	if err != nil {
		return err
	}
	if err := ctrl.Siblings.DeleteGroup(c.UserContext(), groupID); err != nil {
		return err
	}
	return helper.JsonDeleted(c, "sibling group deleted")
}
