package dto

import (
	"time"

	"github.com/google/uuid"

	"tuitionpay_backend/internals/features/billing/model"
)

// ====================
// Request DTO
// ====================

type StudentPaymentFilter struct {
	StudentID string `query:"student_id" validate:"omitempty,uuid"`
	Year      int    `query:"year" validate:"omitempty,gte=2000,lte=2100"`
	Month     int    `query:"month" validate:"omitempty,gte=1,lte=12"`
}

// ====================
// Response DTO
// ====================

type SubscriptionResponse struct {
	ID                uuid.UUID   `json:"id"`
	ProcessorID       *string     `json:"processor_subscription_id,omitempty"`
	PayerID           uuid.UUID   `json:"payer_id"`
	EnrollmentID      *uuid.UUID  `json:"enrollment_id,omitempty"`
	CustomerID        string      `json:"customer_id"`
	Status            string      `json:"status"`
	AmountCents       int64       `json:"amount_cents"`
	StudentIDs        []uuid.UUID `json:"student_ids"`
	PeriodStart       *time.Time  `json:"current_period_start,omitempty"`
	PeriodEnd         *time.Time  `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool        `json:"cancel_at_period_end"`
	RetryCount        int         `json:"retry_count"`
	LastError         *string     `json:"last_error,omitempty"`
	NextRetryAt       *time.Time  `json:"next_retry_at,omitempty"`
	GraceEndsAt       *time.Time  `json:"grace_ends_at,omitempty"`
	LastInvoiceID     *string     `json:"last_invoice_id,omitempty"`
	LastPaymentAt     *time.Time  `json:"last_payment_at,omitempty"`
	CanceledAt        *time.Time  `json:"canceled_at,omitempty"`
	SyncedAt          *time.Time  `json:"synced_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	InGracePeriod     bool        `json:"in_grace_period"`
	RetryAttemptsLeft int         `json:"retry_attempts_left"`
}

// FromSubscriptionModel renders m; maxAttempts and now feed the derived fields.
func FromSubscriptionModel(m model.SubscriptionModel, maxAttempts int, now time.Time) SubscriptionResponse {
	ids := m.StudentIDs()
	if ids == nil {
		ids = []uuid.UUID{}
	}
	left := maxAttempts - m.SubscriptionRetryCount
	if left < 0 {
		left = 0
	}
	return SubscriptionResponse{
		ID:                m.SubscriptionID,
		ProcessorID:       m.SubscriptionProcessorID,
		PayerID:           m.SubscriptionPayerID,
		EnrollmentID:      m.SubscriptionEnrollmentID,
		CustomerID:        m.SubscriptionCustomerID,
		Status:            string(m.SubscriptionStatus),
		AmountCents:       m.SubscriptionAmountCents,
		StudentIDs:        ids,
		PeriodStart:       m.SubscriptionPeriodStart,
		PeriodEnd:         m.SubscriptionPeriodEnd,
		CancelAtPeriodEnd: m.SubscriptionCancelAtPeriodEnd,
		RetryCount:        m.SubscriptionRetryCount,
		LastError:         m.SubscriptionLastError,
		NextRetryAt:       m.SubscriptionNextRetryAt,
		GraceEndsAt:       m.SubscriptionGraceEndsAt,
		LastInvoiceID:     m.SubscriptionLastInvoiceID,
		LastPaymentAt:     m.SubscriptionLastPaymentAt,
		CanceledAt:        m.SubscriptionCanceledAt,
		SyncedAt:          m.SubscriptionSyncedAt,
		CreatedAt:         m.SubscriptionCreatedAt,
		InGracePeriod:     m.SubscriptionGraceEndsAt != nil && now.Before(*m.SubscriptionGraceEndsAt),
		RetryAttemptsLeft: left,
	}
}

type StudentPaymentResponse struct {
	ID             uuid.UUID `json:"id"`
	StudentID      uuid.UUID `json:"student_id"`
	InvoiceID      string    `json:"invoice_id"`
	SubscriptionID string    `json:"subscription_id"`
	Year           int       `json:"year"`
	Month          int       `json:"month"`
	AmountCents    int64     `json:"amount_cents"`
	RemainderCents int64     `json:"remainder_cents"`
	InvoiceTotal   int64     `json:"invoice_total_cents"`
	Source         string    `json:"source"`
	PaidAt         time.Time `json:"paid_at"`
}

func FromStudentPaymentModels(rows []model.StudentPaymentModel) []StudentPaymentResponse {
	out := make([]StudentPaymentResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, StudentPaymentResponse{
			ID:             r.StudentPaymentID,
			StudentID:      r.StudentPaymentStudentID,
			InvoiceID:      r.StudentPaymentInvoiceID,
			SubscriptionID: r.StudentPaymentSubscriptionID,
			Year:           r.StudentPaymentYear,
			Month:          r.StudentPaymentMonth,
			AmountCents:    r.StudentPaymentAmountCents,
			RemainderCents: r.StudentPaymentRemainderCents,
			InvoiceTotal:   r.StudentPaymentInvoiceTotal,
			Source:         string(r.StudentPaymentSource),
			PaidAt:         r.StudentPaymentPaidAt,
		})
	}
	return out
}
