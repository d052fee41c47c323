// file: internals/features/students/model/student_model.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type StudentStatus string

const (
	StudentStatusRegistered StudentStatus = "registered"
	StudentStatusEnrolled   StudentStatus = "enrolled"
	StudentStatusWithdrawn  StudentStatus = "withdrawn"
)

func (s StudentStatus) Valid() bool {
	switch s {
	case StudentStatusRegistered, StudentStatusEnrolled, StudentStatusWithdrawn:
		return true
	}
	return false
}

/*
  students = people who can be enrolled in autopay
  - subscription id & status are a cache of the processor
  - nil monthly rate = base rate (minus sibling discount)
*/

type StudentModel struct {
	StudentID uuid.UUID `gorm:"column:student_id;type:uuid;primaryKey" json:"student_id"`

	StudentFirstName string  `gorm:"column:student_first_name;type:varchar(120);not null" json:"student_first_name"`
	StudentLastName  string  `gorm:"column:student_last_name;type:varchar(120);not null" json:"student_last_name"`
	StudentEmail     *string `gorm:"column:student_email;type:varchar(200)" json:"student_email,omitempty"`
	StudentGrade     *string `gorm:"column:student_grade;type:varchar(40)" json:"student_grade,omitempty"`
	StudentSchool    *string `gorm:"column:student_school;type:varchar(200)" json:"student_school,omitempty"`

	StudentMonthlyRateCents *int64 `gorm:"column:student_monthly_rate_cents" json:"student_monthly_rate_cents,omitempty"`

	StudentBatchID        *uuid.UUID `gorm:"column:student_batch_id;type:uuid;index" json:"student_batch_id,omitempty"`
	StudentSiblingGroupID *uuid.UUID `gorm:"column:student_sibling_group_id;type:uuid;index" json:"student_sibling_group_id,omitempty"`
	StudentPayerID        *uuid.UUID `gorm:"column:student_payer_id;type:uuid;index" json:"student_payer_id,omitempty"`

	StudentSubscriptionID     *string `gorm:"column:student_subscription_id;type:varchar(100);index" json:"student_subscription_id,omitempty"`
	StudentSubscriptionStatus *string `gorm:"column:student_subscription_status;type:varchar(40)" json:"student_subscription_status,omitempty"`

	StudentStatus      StudentStatus `gorm:"column:student_status;type:varchar(20);not null;default:'registered';index" json:"student_status"`
	StudentEnrolledAt  *time.Time    `gorm:"column:student_enrolled_at" json:"student_enrolled_at,omitempty"`
	StudentWithdrawnAt *time.Time    `gorm:"column:student_withdrawn_at" json:"student_withdrawn_at,omitempty"`

	StudentCreatedAt time.Time `gorm:"column:student_created_at;autoCreateTime" json:"student_created_at"`
	StudentUpdatedAt time.Time `gorm:"column:student_updated_at;autoUpdateTime" json:"student_updated_at"`
}

func (StudentModel) TableName() string { return "students" }

func (m *StudentModel) BeforeCreate(tx *gorm.DB) error {
	if m.StudentID == uuid.Nil {
		m.StudentID = uuid.New()
	}
	if m.StudentStatus == "" {
		m.StudentStatus = StudentStatusRegistered
	}
	return nil
}

func (m StudentModel) FullName() string {
	if m.StudentLastName == "" {
		return m.StudentFirstName
	}
	return m.StudentFirstName + " " + m.StudentLastName
}
