package dto

import (
	"strings"

	"github.com/google/uuid"

	"tuitionpay_backend/internals/features/enrollment/service"
)

// ====================
// Request DTO
// ====================

type PayerRequest struct {
	FirstName    string  `json:"first_name" validate:"required,min=1,max=120"`
	LastName     string  `json:"last_name" validate:"required,min=1,max=120"`
	Email        string  `json:"email" validate:"required,email"`
	Phone        *string `json:"phone" validate:"omitempty,max=40"`
	Relationship string  `json:"relationship" validate:"omitempty,oneof=guardian parent self other"`
}

type StartEnrollmentRequest struct {
	StudentIDs []uuid.UUID  `json:"student_ids" validate:"required,min=1,max=10,dive,required"`
	Payer      PayerRequest `json:"payer" validate:"required"`
}

func (r StartEnrollmentRequest) ToInput() service.StartInput {
	return service.StartInput{
		StudentIDs: r.StudentIDs,
		Payer: service.PayerInput{
			FirstName:    strings.TrimSpace(r.Payer.FirstName),
			LastName:     strings.TrimSpace(r.Payer.LastName),
			Email:        strings.TrimSpace(r.Payer.Email),
			Phone:        r.Payer.Phone,
			Relationship: r.Payer.Relationship,
		},
	}
}

// Either the two deposit amounts (cents) or the descriptor code is required.
type VerifyMicrodepositsRequest struct {
	SetupIntentID  string  `json:"setup_intent_id" validate:"required,startswith=seti_"`
	Amounts        []int64 `json:"amounts" validate:"omitempty,len=2,dive,gt=0,lt=100"`
	DescriptorCode string  `json:"descriptor_code" validate:"omitempty,len=6"`
}
