package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tuitionpay_backend/internals/features/billing/model"
	studentModel "tuitionpay_backend/internals/features/students/model"
	"tuitionpay_backend/internals/processor"
)

// SplitAmount divides total evenly across n students. Each share is the floor
// of total/n; the remainder is returned separately so it is never lost.
func SplitAmount(total int64, n int) (share, remainder int64) {
	if n <= 0 || total <= 0 {
		return 0, 0
	}
	share = total / int64(n)
	return share, total - share*int64(n)
}

// CoveredStudents returns the students a subscription bills for, in a stable order.
func CoveredStudents(ctx context.Context, tx *gorm.DB, sub model.SubscriptionModel) ([]uuid.UUID, error) {
	ids := sub.StudentIDs()
	if len(ids) == 0 && sub.SubscriptionProcessorID != nil {
		if err := tx.WithContext(ctx).Model(&studentModel.StudentModel{}).
			Where("student_subscription_id = ?", *sub.SubscriptionProcessorID).
			Order("student_created_at ASC").
			Pluck("student_id", &ids).Error; err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// RecordInvoicePayment writes one StudentPayment row per covered student for
// a paid invoice. Rows that already exist are left alone, so it returns only
// the number of rows this call created.
func RecordInvoicePayment(ctx context.Context, tx *gorm.DB, sub model.SubscriptionModel, inv processor.Invoice, source model.PaymentSource) (int, error) {
	students, err := CoveredStudents(ctx, tx, sub)
	if err != nil {
		return 0, err
	}
	if len(students) == 0 {
		return 0, nil
	}
	amount := inv.AmountPaid
	if amount <= 0 {
		amount = inv.AmountDue
	}
	share, remainder := SplitAmount(amount, len(students))
	paidAt := inv.PaidAt.UTC()
	if inv.PaidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	subID := inv.SubscriptionID
	if subID == "" && sub.SubscriptionProcessorID != nil {
		subID = *sub.SubscriptionProcessorID
	}

	created := 0
	for i, studentID := range students {
		row := model.StudentPaymentModel{
			StudentPaymentStudentID:      studentID,
			StudentPaymentInvoiceID:      inv.ID,
			StudentPaymentSubscriptionID: subID,
			StudentPaymentYear:           paidAt.Year(),
			StudentPaymentMonth:          int(paidAt.Month()),
			StudentPaymentAmountCents:    share,
			StudentPaymentInvoiceTotal:   amount,
			StudentPaymentSource:         source,
			StudentPaymentPaidAt:         paidAt,
		}
		if i == 0 {
			row.StudentPaymentRemainderCents = remainder
		}
		res := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "student_payment_student_id"},
				{Name: "student_payment_invoice_id"},
			},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return created, fmt.Errorf("record payment for student %s: %w", studentID, res.Error)
		}
		created += int(res.RowsAffected)
	}
	return created, nil
}

// InvoiceRecorded reports whether any StudentPayment exists for the invoice.
func InvoiceRecorded(ctx context.Context, tx *gorm.DB, invoiceID string) (bool, error) {
	var n int64
	err := tx.WithContext(ctx).Model(&model.StudentPaymentModel{}).
		Where("student_payment_invoice_id = ?", invoiceID).
		Count(&n).Error
	return n > 0, err
}
