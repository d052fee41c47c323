// file: internals/features/billing/model/subscription_model.go
package model

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive              SubscriptionStatus = "active"
	SubscriptionStatusPastDue             SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled            SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid              SubscriptionStatus = "unpaid"
	SubscriptionStatusIncomplete          SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired   SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusTrialing            SubscriptionStatus = "trialing"
	SubscriptionStatusPaused              SubscriptionStatus = "paused"
	SubscriptionStatusPendingVerification SubscriptionStatus = "pending_verification"
)

// ParseSubscriptionStatus accepts processor status strings; unknown values are rejected.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, bool) {
	switch st := SubscriptionStatus(s); st {
	case SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCanceled,
		SubscriptionStatusUnpaid, SubscriptionStatusIncomplete, SubscriptionStatusIncompleteExpired,
		SubscriptionStatusTrialing, SubscriptionStatusPaused, SubscriptionStatusPendingVerification:
		return st, true
	}
	return "", false
}

// Terminal statuses are never overwritten by a late failure.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusIncompleteExpired
}

/*
  subscriptions = local mirror of a processor subscription
  - status is a cache; the processor event stream is the source of truth
  - retry bookkeeping is keyed by the last failure event id so replays are no-ops
*/

type SubscriptionModel struct {
	SubscriptionID uuid.UUID `gorm:"column:subscription_id;type:uuid;primaryKey" json:"subscription_id"`

	// Nil while the enrollment waits for bank verification.
	SubscriptionProcessorID *string `gorm:"column:subscription_processor_id;type:varchar(100);uniqueIndex" json:"subscription_processor_id,omitempty"`

	SubscriptionPayerID      uuid.UUID  `gorm:"column:subscription_payer_id;type:uuid;not null;index" json:"subscription_payer_id"`
	SubscriptionEnrollmentID *uuid.UUID `gorm:"column:subscription_enrollment_id;type:uuid;uniqueIndex" json:"subscription_enrollment_id,omitempty"`
	SubscriptionCustomerID   string     `gorm:"column:subscription_customer_id;type:varchar(100);not null;index" json:"subscription_customer_id"`

	SubscriptionStatus      SubscriptionStatus `gorm:"column:subscription_status;type:varchar(30);not null;index" json:"subscription_status"`
	SubscriptionAmountCents int64              `gorm:"column:subscription_amount_cents;not null" json:"subscription_amount_cents"`
	SubscriptionStudentIDs  datatypes.JSON     `gorm:"column:subscription_student_ids;type:jsonb" json:"subscription_student_ids"`

	SubscriptionPeriodStart       *time.Time `gorm:"column:subscription_period_start" json:"subscription_period_start,omitempty"`
	SubscriptionPeriodEnd         *time.Time `gorm:"column:subscription_period_end" json:"subscription_period_end,omitempty"`
	SubscriptionCancelAtPeriodEnd bool       `gorm:"column:subscription_cancel_at_period_end;not null;default:false" json:"subscription_cancel_at_period_end"`

	SubscriptionRetryCount         int        `gorm:"column:subscription_retry_count;not null;default:0" json:"subscription_retry_count"`
	SubscriptionLastError          *string    `gorm:"column:subscription_last_error;type:text" json:"subscription_last_error,omitempty"`
	SubscriptionLastFailedAt       *time.Time `gorm:"column:subscription_last_failed_at" json:"subscription_last_failed_at,omitempty"`
	SubscriptionNextRetryAt        *time.Time `gorm:"column:subscription_next_retry_at" json:"subscription_next_retry_at,omitempty"`
	SubscriptionGraceEndsAt        *time.Time `gorm:"column:subscription_grace_ends_at" json:"subscription_grace_ends_at,omitempty"`
	SubscriptionLastFailureEventID *string    `gorm:"column:subscription_last_failure_event_id;type:varchar(100)" json:"subscription_last_failure_event_id,omitempty"`
	SubscriptionLastInvoiceID      *string    `gorm:"column:subscription_last_invoice_id;type:varchar(100)" json:"subscription_last_invoice_id,omitempty"`
	SubscriptionLastPaymentAt      *time.Time `gorm:"column:subscription_last_payment_at" json:"subscription_last_payment_at,omitempty"`

	SubscriptionCanceledAt *time.Time `gorm:"column:subscription_canceled_at" json:"subscription_canceled_at,omitempty"`
	SubscriptionSyncedAt   *time.Time `gorm:"column:subscription_synced_at" json:"subscription_synced_at,omitempty"`

	SubscriptionCreatedAt time.Time `gorm:"column:subscription_created_at;autoCreateTime" json:"subscription_created_at"`
	SubscriptionUpdatedAt time.Time `gorm:"column:subscription_updated_at;autoUpdateTime" json:"subscription_updated_at"`
}

func (SubscriptionModel) TableName() string { return "subscriptions" }

func (m *SubscriptionModel) BeforeCreate(tx *gorm.DB) error {
	if m.SubscriptionID == uuid.Nil {
		m.SubscriptionID = uuid.New()
	}
	return nil
}

// StudentIDs decodes the covered student ids; bad json yields nil.
func (m SubscriptionModel) StudentIDs() []uuid.UUID {
	var ids []uuid.UUID
	if len(m.SubscriptionStudentIDs) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(m.SubscriptionStudentIDs, &ids); err != nil {
		return nil
	}
	return ids
}
