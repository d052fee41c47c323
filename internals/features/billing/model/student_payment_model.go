package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentSource string

const (
	PaymentSourceWebhook  PaymentSource = "webhook"
	PaymentSourceBackfill PaymentSource = "backfill"
)

// StudentPaymentModel is append-only. (student_id, invoice_id) is unique so
// webhook replays and backfill re-runs never add a second row.
type StudentPaymentModel struct {
	StudentPaymentID uuid.UUID `gorm:"column:student_payment_id;type:uuid;primaryKey" json:"student_payment_id"`

	StudentPaymentStudentID      uuid.UUID `gorm:"column:student_payment_student_id;type:uuid;not null;uniqueIndex:uq_student_payment_invoice,priority:1;index" json:"student_payment_student_id"`
	StudentPaymentInvoiceID      string    `gorm:"column:student_payment_invoice_id;type:varchar(100);not null;uniqueIndex:uq_student_payment_invoice,priority:2" json:"student_payment_invoice_id"`
	StudentPaymentSubscriptionID string    `gorm:"column:student_payment_subscription_id;type:varchar(100);not null;index" json:"student_payment_subscription_id"`

	StudentPaymentYear  int `gorm:"column:student_payment_year;not null;index:idx_student_payment_period,priority:1" json:"student_payment_year"`
	StudentPaymentMonth int `gorm:"column:student_payment_month;not null;index:idx_student_payment_period,priority:2" json:"student_payment_month"`

	StudentPaymentAmountCents    int64 `gorm:"column:student_payment_amount_cents;not null" json:"student_payment_amount_cents"`
	StudentPaymentRemainderCents int64 `gorm:"column:student_payment_remainder_cents;not null;default:0" json:"student_payment_remainder_cents"`
	StudentPaymentInvoiceTotal   int64 `gorm:"column:student_payment_invoice_total;not null" json:"student_payment_invoice_total"`

	StudentPaymentSource PaymentSource `gorm:"column:student_payment_source;type:varchar(20);not null" json:"student_payment_source"`
	StudentPaymentPaidAt time.Time     `gorm:"column:student_payment_paid_at;not null" json:"student_payment_paid_at"`

	StudentPaymentCreatedAt time.Time `gorm:"column:student_payment_created_at;autoCreateTime" json:"student_payment_created_at"`
}

func (StudentPaymentModel) TableName() string { return "student_payments" }

func (m *StudentPaymentModel) BeforeCreate(tx *gorm.DB) error {
	if m.StudentPaymentID == uuid.Nil {
		m.StudentPaymentID = uuid.New()
	}
	return nil
}
