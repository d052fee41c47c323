package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/features/students/model"
)

// SiblingService keeps the group invariant: a group exists only while it has
// at least two members. Every mutation runs in one transaction.
type SiblingService struct {
	DB *gorm.DB
}

func NewSiblingService(db *gorm.DB) *SiblingService {
	return &SiblingService{DB: db}
}

func (s *SiblingService) CreateGroup(ctx context.Context, name *string, studentIDs []uuid.UUID) (*model.SiblingGroupModel, error) {
	ids := uniqueIDs(studentIDs)
	if len(ids) < model.MinSiblingGroupSize {
		return nil, fiber.NewError(fiber.StatusBadRequest, "a sibling group needs at least 2 students")
	}

	var group model.SiblingGroupModel
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var students []model.StudentModel
		if err := tx.Where("student_id IN ?", ids).Find(&students).Error; err != nil {
			return err
		}
		if len(students) != len(ids) {
			return fiber.NewError(fiber.StatusNotFound, "one or more students not found")
		}

		group = model.SiblingGroupModel{SiblingGroupName: name}
		if err := tx.Create(&group).Error; err != nil {
			return err
		}
		for _, st := range students {
			if st.StudentSiblingGroupID != nil {
				if err := detach(tx, *st.StudentSiblingGroupID, st.StudentID); err != nil {
					return err
				}
			}
		}
		return tx.Model(&model.StudentModel{}).
			Where("student_id IN ?", ids).
			Update("student_sibling_group_id", group.SiblingGroupID).Error
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *SiblingService) AddMember(ctx context.Context, groupID, studentID uuid.UUID) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model.SiblingGroupModel{}, "sibling_group_id = ?", groupID).Error; err != nil {
			return notFound(err, "sibling group not found")
		}
		var st model.StudentModel
		if err := tx.First(&st, "student_id = ?", studentID).Error; err != nil {
			return notFound(err, "student not found")
		}
		if st.StudentSiblingGroupID != nil {
			if *st.StudentSiblingGroupID == groupID {
				return nil
			}
			if err := detach(tx, *st.StudentSiblingGroupID, studentID); err != nil {
				return err
			}
		}
		return tx.Model(&model.StudentModel{}).
			Where("student_id = ?", studentID).
			Update("student_sibling_group_id", groupID).Error
	})
}

// RemoveMember reports whether the group was dissolved as a result.
func (s *SiblingService) RemoveMember(ctx context.Context, groupID, studentID uuid.UUID) (bool, error) {
	var dissolved bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var st model.StudentModel
		if err := tx.First(&st, "student_id = ?", studentID).Error; err != nil {
			return notFound(err, "student not found")
		}
		if st.StudentSiblingGroupID == nil || *st.StudentSiblingGroupID != groupID {
			return fiber.NewError(fiber.StatusNotFound, "student is not in this sibling group")
		}
		if err := tx.Model(&model.StudentModel{}).
			Where("student_id = ?", studentID).
			Update("student_sibling_group_id", nil).Error; err != nil {
			return err
		}
		var err error
		dissolved, err = dissolveIfSmall(tx, groupID)
		return err
	})
	return dissolved, err
}

func (s *SiblingService) DeleteGroup(ctx context.Context, groupID uuid.UUID) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.StudentModel{}).
			Where("student_sibling_group_id = ?", groupID).
			Update("student_sibling_group_id", nil).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.SiblingGroupModel{}, "sibling_group_id = ?", groupID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fiber.NewError(fiber.StatusNotFound, "sibling group not found")
		}
		return nil
	})
}

// GroupView is a group with its member ids.
type GroupView struct {
	Group   model.SiblingGroupModel `json:"group"`
	Members []model.StudentModel    `json:"members"`
}

func (s *SiblingService) List(ctx context.Context) ([]GroupView, error) {
	db := s.DB.WithContext(ctx)
	var groups []model.SiblingGroupModel
	if err := db.Order("sibling_group_created_at DESC").Find(&groups).Error; err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return []GroupView{}, nil
	}
	ids := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.SiblingGroupID)
	}
	var members []model.StudentModel
	if err := db.Where("student_sibling_group_id IN ?", ids).
		Order("student_created_at ASC").
		Find(&members).Error; err != nil {
		return nil, err
	}
	byGroup := map[uuid.UUID][]model.StudentModel{}
	for _, m := range members {
		byGroup[*m.StudentSiblingGroupID] = append(byGroup[*m.StudentSiblingGroupID], m)
	}
	out := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupView{Group: g, Members: byGroup[g.SiblingGroupID]})
	}
	return out, nil
}

// detach takes studentID out of groupID and dissolves the group if needed.
func detach(tx *gorm.DB, groupID, studentID uuid.UUID) error {
	if err := tx.Model(&model.StudentModel{}).
		Where("student_id = ?", studentID).
		Update("student_sibling_group_id", nil).Error; err != nil {
		return err
	}
	_, err := dissolveIfSmall(tx, groupID)
	return err
}

func dissolveIfSmall(tx *gorm.DB, groupID uuid.UUID) (bool, error) {
	var remaining int64
	if err := tx.Model(&model.StudentModel{}).
		Where("student_sibling_group_id = ?", groupID).
		Count(&remaining).Error; err != nil {
		return false, err
	}
	if remaining >= model.MinSiblingGroupSize {
		return false, nil
	}
	if err := tx.Model(&model.StudentModel{}).
		Where("student_sibling_group_id = ?", groupID).
		Update("student_sibling_group_id", nil).Error; err != nil {
		return false, err
	}
	if err := tx.Delete(&model.SiblingGroupModel{}, "sibling_group_id = ?", groupID).Error; err != nil {
		return false, fmt.Errorf("delete sibling group: %w", err)
	}
	return true, nil
}

func uniqueIDs(in []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(in))
	out := make([]uuid.UUID, 0, len(in))
	for _, id := range in {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func notFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.NewError(fiber.StatusNotFound, msg)
	}
	return err
}
