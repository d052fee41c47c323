package dto

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"tuitionpay_backend/internals/features/students/model"
)

// ====================
// Request DTO
// ====================

type CreateStudentRequest struct {
	FirstName        string     `json:"first_name" validate:"required,min=1,max=120"`
	LastName         string     `json:"last_name" validate:"required,min=1,max=120"`
	Email            *string    `json:"email" validate:"omitempty,email"`
	Grade            *string    `json:"grade" validate:"omitempty,max=40"`
	School           *string    `json:"school" validate:"omitempty,max=200"`
	MonthlyRateCents *int64     `json:"monthly_rate_cents" validate:"omitempty,gt=0"`
	BatchID          *uuid.UUID `json:"batch_id"`
}

type UpdateStudentRequest struct {
	FirstName        *string    `json:"first_name" validate:"omitempty,min=1,max=120"`
	LastName         *string    `json:"last_name" validate:"omitempty,min=1,max=120"`
	Email            *string    `json:"email" validate:"omitempty,email"`
	Grade            *string    `json:"grade" validate:"omitempty,max=40"`
	School           *string    `json:"school" validate:"omitempty,max=200"`
	MonthlyRateCents *int64     `json:"monthly_rate_cents" validate:"omitempty,gte=0"`
	BatchID          *uuid.UUID `json:"batch_id"`
	Status           *string    `json:"status" validate:"omitempty,oneof=registered enrolled withdrawn"`
}

type CreateBatchRequest struct {
	Name        string  `json:"name" validate:"required,min=1,max=120"`
	Description *string `json:"description"`
}

type CreateSiblingGroupRequest struct {
	Name       *string     `json:"name"`
	StudentIDs []uuid.UUID `json:"student_ids" validate:"required,min=2,dive,required"`
}

type SiblingMemberRequest struct {
	StudentID uuid.UUID `json:"student_id" validate:"required"`
}

// ====================
// Response DTO
// ====================

type StudentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	FullName           string     `json:"full_name"`
	Email              *string    `json:"email,omitempty"`
	Grade              *string    `json:"grade,omitempty"`
	School             *string    `json:"school,omitempty"`
	MonthlyRateCents   *int64     `json:"monthly_rate_cents,omitempty"`
	BatchID            *uuid.UUID `json:"batch_id,omitempty"`
	SiblingGroupID     *uuid.UUID `json:"sibling_group_id,omitempty"`
	PayerID            *uuid.UUID `json:"payer_id,omitempty"`
	SubscriptionID     *string    `json:"subscription_id,omitempty"`
	SubscriptionStatus *string    `json:"subscription_status,omitempty"`
	Status             string     `json:"status"`
	EnrolledAt         *time.Time `json:"enrolled_at,omitempty"`
	WithdrawnAt        *time.Time `json:"withdrawn_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func FromStudentModel(m model.StudentModel) StudentResponse {
	return StudentResponse{
		ID:                 m.StudentID,
		FirstName:          m.StudentFirstName,
		LastName:           m.StudentLastName,
		FullName:           m.FullName(),
		Email:              m.StudentEmail,
		Grade:              m.StudentGrade,
		School:             m.StudentSchool,
		MonthlyRateCents:   m.StudentMonthlyRateCents,
		BatchID:            m.StudentBatchID,
		SiblingGroupID:     m.StudentSiblingGroupID,
		PayerID:            m.StudentPayerID,
		SubscriptionID:     m.StudentSubscriptionID,
		SubscriptionStatus: m.StudentSubscriptionStatus,
		Status:             string(m.StudentStatus),
		EnrolledAt:         m.StudentEnrolledAt,
		WithdrawnAt:        m.StudentWithdrawnAt,
		CreatedAt:          m.StudentCreatedAt,
	}
}

func FromStudentModels(list []model.StudentModel) []StudentResponse {
	out := make([]StudentResponse, 0, len(list))
	for _, m := range list {
		out = append(out, FromStudentModel(m))
	}
	return out
}

// ====================
// Converter: Request → Model
// ====================

func (r CreateStudentRequest) ToModel() model.StudentModel {
	return model.StudentModel{
		StudentFirstName:        strings.TrimSpace(r.FirstName),
		StudentLastName:         strings.TrimSpace(r.LastName),
		StudentEmail:            r.Email,
		StudentGrade:            r.Grade,
		StudentSchool:           r.School,
		StudentMonthlyRateCents: r.MonthlyRateCents,
		StudentBatchID:          r.BatchID,
		StudentStatus:           model.StudentStatusRegistered,
	}
}

// ToUpdates builds a column map so only fields present in the body change.
func (r UpdateStudentRequest) ToUpdates(now time.Time) map[string]any {
	up := map[string]any{}
	if r.FirstName != nil {
		up["student_first_name"] = strings.TrimSpace(*r.FirstName)
	}
	if r.LastName != nil {
		up["student_last_name"] = strings.TrimSpace(*r.LastName)
	}
	if r.Email != nil {
		up["student_email"] = *r.Email
	}
	if r.Grade != nil {
		up["student_grade"] = *r.Grade
	}
	if r.School != nil {
		up["student_school"] = *r.School
	}
	if r.MonthlyRateCents != nil {
		if *r.MonthlyRateCents == 0 {
			up["student_monthly_rate_cents"] = nil
		} else {
			up["student_monthly_rate_cents"] = *r.MonthlyRateCents
		}
	}
	if r.BatchID != nil {
		up["student_batch_id"] = *r.BatchID
	}
	if r.Status != nil {
		up["student_status"] = *r.Status
		if model.StudentStatus(*r.Status) == model.StudentStatusWithdrawn {
			up["student_withdrawn_at"] = now
		}
	}
	return up
}
