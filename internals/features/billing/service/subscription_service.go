package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/features/billing/model"
	"tuitionpay_backend/internals/features/billing/retry"
	studentModel "tuitionpay_backend/internals/features/students/model"
	"tuitionpay_backend/internals/processor"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

// SubscriptionService owns every status transition of the local subscription
// mirror. Each transition is keyed by immutable ids (event, invoice) so
// replays and out-of-order deliveries leave the same final state.
type SubscriptionService struct {
	DB       *gorm.DB
	Policy   retry.Policy
	Notifier *Notifier
	Log      *zap.Logger
	Now      func() time.Time
}

func NewSubscriptionService(db *gorm.DB, policy retry.Policy, notifier *Notifier, log *zap.Logger) *SubscriptionService {
	return &SubscriptionService{
		DB:       db,
		Policy:   policy.Normalize(),
		Notifier: notifier,
		Log:      log,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *SubscriptionService) FindByProcessorID(ctx context.Context, tx *gorm.DB, processorID string) (*model.SubscriptionModel, error) {
	var sub model.SubscriptionModel
	err := tx.WithContext(ctx).First(&sub, "subscription_processor_id = ?", processorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, processorID)
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ======================
// payment succeeded
// ======================

type PaymentResult struct {
	RowsCreated int
}

func (s *SubscriptionService) ApplyPaymentSucceeded(ctx context.Context, eventID string, inv processor.Invoice) (PaymentResult, error) {
	var (
		res PaymentResult
		sub *model.SubscriptionModel
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = s.FindByProcessorID(ctx, tx, inv.SubscriptionID)
		if err != nil {
			return err
		}
		res.RowsCreated, err = RecordInvoicePayment(ctx, tx, *sub, inv, model.PaymentSourceWebhook)
		if err != nil {
			return err
		}

		paidAt := inv.PaidAt
		if paidAt.IsZero() {
			paidAt = s.Now()
		}
		updates := map[string]any{
			"subscription_retry_count":           0,
			"subscription_last_error":            nil,
			"subscription_next_retry_at":         nil,
			"subscription_grace_ends_at":         nil,
			"subscription_last_failure_event_id": nil,
			"subscription_last_invoice_id":       inv.ID,
			"subscription_last_payment_at":       paidAt,
		}
		status := sub.SubscriptionStatus
		if !status.Terminal() {
			status = model.SubscriptionStatusActive
			updates["subscription_status"] = status
		}
		if err := tx.Model(&model.SubscriptionModel{}).
			Where("subscription_id = ?", sub.SubscriptionID).
			Updates(updates).Error; err != nil {
			return err
		}
		return syncStudentStatus(tx, inv.SubscriptionID, status)
	})
	if err != nil {
		return res, err
	}
	// invoice.paid and invoice.payment_succeeded both arrive for one payment
	if res.RowsCreated == 0 {
		return res, nil
	}

	s.notify(ctx, Notification{
		EventID:        eventID,
		Kind:           NotificationSucceeded,
		SubscriptionID: inv.SubscriptionID,
		InvoiceID:      inv.ID,
		CustomerID:     sub.SubscriptionCustomerID,
		AmountCents:    inv.AmountPaid,
		Message:        fmt.Sprintf("Payment of $%.2f received", float64(inv.AmountPaid)/100),
	})
	return res, nil
}

// ======================
// payment failed
// ======================

type FailureOutcome string

const (
	FailureRecorded  FailureOutcome = "recorded"
	FailureExhausted FailureOutcome = "exhausted"
	FailureDuplicate FailureOutcome = "duplicate"
	FailureStale     FailureOutcome = "stale"
)

type FailureResult struct {
	Outcome     FailureOutcome
	RetryCount  int
	NextRetryAt *time.Time
	GraceEndsAt *time.Time
}

// ApplyPaymentFailed bumps the retry count once per failure event. A failure
// for an invoice that is already recorded as paid, or for a canceled
// subscription, arrived late and changes nothing.
func (s *SubscriptionService) ApplyPaymentFailed(ctx context.Context, eventID string, inv processor.Invoice, reason string, failedAt time.Time) (FailureResult, error) {
	if failedAt.IsZero() {
		failedAt = s.Now()
	}
	var (
		res FailureResult
		sub *model.SubscriptionModel
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = s.FindByProcessorID(ctx, tx, inv.SubscriptionID)
		if err != nil {
			return err
		}
		res.RetryCount = sub.SubscriptionRetryCount

		if eventID != "" && sub.SubscriptionLastFailureEventID != nil && *sub.SubscriptionLastFailureEventID == eventID {
			res.Outcome = FailureDuplicate
			return nil
		}
		paid, err := InvoiceRecorded(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		if paid || sub.SubscriptionStatus.Terminal() {
			res.Outcome = FailureStale
			return nil
		}

		count := sub.SubscriptionRetryCount + 1
		if count > s.Policy.MaxAttempts {
			count = s.Policy.MaxAttempts
		}
		res.RetryCount = count

		updates := map[string]any{
			"subscription_retry_count":           count,
			"subscription_last_error":            reason,
			"subscription_last_failed_at":        failedAt,
			"subscription_last_failure_event_id": eventID,
			"subscription_last_invoice_id":       inv.ID,
		}
		var status model.SubscriptionStatus
		if s.Policy.IsExhausted(count) {
			status = model.SubscriptionStatusUnpaid
			res.Outcome = FailureExhausted
			updates["subscription_next_retry_at"] = nil
		} else {
			status = model.SubscriptionStatusPastDue
			res.Outcome = FailureRecorded
			next := s.Policy.NextRetryAt(failedAt)
			res.NextRetryAt = &next
			updates["subscription_next_retry_at"] = next
		}
		updates["subscription_status"] = status

		// grace runs from the first failure of the streak
		grace := s.Policy.GracePeriodEnd(failedAt)
		if sub.SubscriptionGraceEndsAt != nil && sub.SubscriptionRetryCount > 0 {
			grace = *sub.SubscriptionGraceEndsAt
		}
		res.GraceEndsAt = &grace
		updates["subscription_grace_ends_at"] = grace

		if err := tx.Model(&model.SubscriptionModel{}).
			Where("subscription_id = ?", sub.SubscriptionID).
			Updates(updates).Error; err != nil {
			return err
		}
		return syncStudentStatus(tx, inv.SubscriptionID, status)
	})
	if err != nil {
		return res, err
	}
	if res.Outcome == FailureDuplicate || res.Outcome == FailureStale {
		return res, nil
	}

	msg := fmt.Sprintf("Payment failed (attempt %d of %d)", res.RetryCount, s.Policy.MaxAttempts)
	if res.NextRetryAt != nil {
		msg += ", next attempt around " + res.NextRetryAt.Format("2006-01-02")
	} else {
		msg += ", no further automatic retries"
	}
	s.notify(ctx, Notification{
		EventID:        eventID,
		Kind:           NotificationFailed,
		SubscriptionID: inv.SubscriptionID,
		InvoiceID:      inv.ID,
		CustomerID:     sub.SubscriptionCustomerID,
		AmountCents:    inv.AmountDue,
		Attempt:        res.RetryCount,
		MaxAttempts:    s.Policy.MaxAttempts,
		NextAttemptAt:  res.NextRetryAt,
		Message:        msg,
	})
	return res, nil
}

// ======================
// processor mirror
// ======================

// MirrorProcessorSubscription copies status and period boundaries from the
// processor. It reports whether the local status changed.
func (s *SubscriptionService) MirrorProcessorSubscription(ctx context.Context, ps processor.Subscription) (bool, error) {
	status, ok := model.ParseSubscriptionStatus(ps.Status)
	if !ok {
		return false, fmt.Errorf("unknown subscription status %q", ps.Status)
	}
	if status == model.SubscriptionStatusCanceled {
		return s.MarkCanceled(ctx, ps.ID)
	}

	changed := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.FindByProcessorID(ctx, tx, ps.ID)
		if err != nil {
			return err
		}
		// terminal rows never come back; late updates are stale
		if sub.SubscriptionStatus.Terminal() {
			s.Log.Info("ignoring update for terminal subscription",
				zap.String("subscription_id", ps.ID),
				zap.String("local_status", string(sub.SubscriptionStatus)),
				zap.String("processor_status", ps.Status))
			return nil
		}
		changed = sub.SubscriptionStatus != status
		now := s.Now()
		updates := map[string]any{
			"subscription_status":               status,
			"subscription_cancel_at_period_end": ps.CancelAtPeriodEnd,
			"subscription_synced_at":            now,
		}
		if !ps.CurrentPeriodStart.IsZero() {
			updates["subscription_period_start"] = ps.CurrentPeriodStart
		}
		if !ps.CurrentPeriodEnd.IsZero() {
			updates["subscription_period_end"] = ps.CurrentPeriodEnd
		}
		if status == model.SubscriptionStatusActive {
			updates["subscription_next_retry_at"] = nil
			updates["subscription_grace_ends_at"] = nil
		}
		if err := tx.Model(&model.SubscriptionModel{}).
			Where("subscription_id = ?", sub.SubscriptionID).
			Updates(updates).Error; err != nil {
			return err
		}
		return syncStudentStatus(tx, ps.ID, status)
	})
	return changed, err
}

// MarkCanceled is terminal: the subscription is canceled and its students
// are unlinked so they can be enrolled again.
func (s *SubscriptionService) MarkCanceled(ctx context.Context, processorID string) (bool, error) {
	changed := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.FindByProcessorID(ctx, tx, processorID)
		if err != nil {
			return err
		}
		if sub.SubscriptionStatus == model.SubscriptionStatusCanceled {
			return nil
		}
		changed = true
		now := s.Now()
		if err := tx.Model(&model.SubscriptionModel{}).
			Where("subscription_id = ?", sub.SubscriptionID).
			Updates(map[string]any{
				"subscription_status":        model.SubscriptionStatusCanceled,
				"subscription_canceled_at":   now,
				"subscription_next_retry_at": nil,
				"subscription_grace_ends_at": nil,
				"subscription_synced_at":     now,
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&studentModel.StudentModel{}).
			Where("student_subscription_id = ? AND student_status = ?", processorID, studentModel.StudentStatusEnrolled).
			Update("student_status", studentModel.StudentStatusRegistered).Error; err != nil {
			return err
		}
		return tx.Model(&studentModel.StudentModel{}).
			Where("student_subscription_id = ?", processorID).
			Updates(map[string]any{
				"student_subscription_id":     nil,
				"student_subscription_status": string(model.SubscriptionStatusCanceled),
			}).Error
	})
	return changed, err
}

func (s *SubscriptionService) notify(ctx context.Context, n Notification) {
	if s.Notifier == nil {
		return
	}
	// the payment row is already committed; a lost notification is acceptable
	if err := s.Notifier.Push(ctx, n); err != nil {
		s.Log.Warn("notification push failed",
			zap.String("event_id", n.EventID),
			zap.String("type", string(n.Kind)),
			zap.Error(err))
	}
}

func syncStudentStatus(tx *gorm.DB, processorID string, status model.SubscriptionStatus) error {
	return tx.Model(&studentModel.StudentModel{}).
		Where("student_subscription_id = ?", processorID).
		Update("student_subscription_status", string(status)).Error
}
