package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EnrollmentStatus string

const (
	EnrollmentPendingSetup        EnrollmentStatus = "pending_setup"
	EnrollmentPendingVerification EnrollmentStatus = "pending_verification"
	EnrollmentSetupFailed         EnrollmentStatus = "setup_failed"
	EnrollmentCompleted           EnrollmentStatus = "completed"
)

/*
  enrollments = one payer signing up one or more students for autopay
  - keyed by the processor setup intent; completes once the bank account is verified
  - students + rates are frozen at signup in enrollment_students
*/

type EnrollmentModel struct {
	EnrollmentID uuid.UUID `gorm:"column:enrollment_id;type:uuid;primaryKey" json:"enrollment_id"`

	EnrollmentPayerID       uuid.UUID `gorm:"column:enrollment_payer_id;type:uuid;not null;index" json:"enrollment_payer_id"`
	EnrollmentCustomerID    string    `gorm:"column:enrollment_customer_id;type:varchar(100);not null;index" json:"enrollment_customer_id"`
	EnrollmentSetupIntentID string    `gorm:"column:enrollment_setup_intent_id;type:varchar(100);not null;uniqueIndex" json:"enrollment_setup_intent_id"`

	EnrollmentStatus      EnrollmentStatus `gorm:"column:enrollment_status;type:varchar(30);not null;index" json:"enrollment_status"`
	EnrollmentAmountCents int64            `gorm:"column:enrollment_amount_cents;not null" json:"enrollment_amount_cents"`
	EnrollmentLastError   *string          `gorm:"column:enrollment_last_error;type:text" json:"enrollment_last_error,omitempty"`

	EnrollmentCompletedAt *time.Time `gorm:"column:enrollment_completed_at" json:"enrollment_completed_at,omitempty"`
	EnrollmentCreatedAt   time.Time  `gorm:"column:enrollment_created_at;autoCreateTime" json:"enrollment_created_at"`
	EnrollmentUpdatedAt   time.Time  `gorm:"column:enrollment_updated_at;autoUpdateTime" json:"enrollment_updated_at"`

	Students []EnrollmentStudentModel `gorm:"foreignKey:EnrollmentStudentEnrollmentID;references:EnrollmentID" json:"students,omitempty"`
}

func (EnrollmentModel) TableName() string { return "enrollments" }

func (m *EnrollmentModel) BeforeCreate(tx *gorm.DB) error {
	if m.EnrollmentID == uuid.Nil {
		m.EnrollmentID = uuid.New()
	}
	if m.EnrollmentStatus == "" {
		m.EnrollmentStatus = EnrollmentPendingSetup
	}
	return nil
}

type EnrollmentStudentModel struct {
	EnrollmentStudentID           uuid.UUID `gorm:"column:enrollment_student_id;type:uuid;primaryKey" json:"enrollment_student_id"`
	EnrollmentStudentEnrollmentID uuid.UUID `gorm:"column:enrollment_student_enrollment_id;type:uuid;not null;uniqueIndex:uq_enrollment_student,priority:1" json:"enrollment_student_enrollment_id"`
	EnrollmentStudentStudentID    uuid.UUID `gorm:"column:enrollment_student_student_id;type:uuid;not null;uniqueIndex:uq_enrollment_student,priority:2;index" json:"enrollment_student_student_id"`
	EnrollmentStudentRateCents    int64     `gorm:"column:enrollment_student_rate_cents;not null" json:"enrollment_student_rate_cents"`
	EnrollmentStudentPosition     int       `gorm:"column:enrollment_student_position;not null;default:0" json:"enrollment_student_position"`
}

func (EnrollmentStudentModel) TableName() string { return "enrollment_students" }

func (m *EnrollmentStudentModel) BeforeCreate(tx *gorm.DB) error {
	if m.EnrollmentStudentID == uuid.Nil {
		m.EnrollmentStudentID = uuid.New()
	}
	return nil
}
