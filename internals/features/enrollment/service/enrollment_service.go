package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	billingModel "tuitionpay_backend/internals/features/billing/model"
	"tuitionpay_backend/internals/features/enrollment/model"
	studentModel "tuitionpay_backend/internals/features/students/model"
	studentService "tuitionpay_backend/internals/features/students/service"
	"tuitionpay_backend/internals/kvstore"
	"tuitionpay_backend/internals/processor"
)

var (
	ErrEnrollmentNotFound      = fiber.NewError(fiber.StatusNotFound, "enrollment not found")
	ErrVerificationLocked      = fiber.NewError(fiber.StatusTooManyRequests, "too many verification attempts, please restart enrollment")
	ErrEnrollmentInProgress    = fiber.NewError(fiber.StatusConflict, "an enrollment for one or more students is already in progress")
	ErrStudentsAlreadyEnrolled = fiber.NewError(fiber.StatusConflict, "one or more students are already enrolled")
)

// An unfinished enrollment holds its students for these windows. After that
// the payer may start over; CompleteSetup still refuses double billing.
const (
	PendingSetupHold        = 24 * time.Hour
	PendingVerificationHold = 10 * 24 * time.Hour
)

type EnrollmentService struct {
	DB        *gorm.DB
	KV        kvstore.Store
	Processor processor.Client
	Pricing   studentService.Pricing
	Log       *zap.Logger
	Now       func() time.Time
}

func NewEnrollmentService(db *gorm.DB, kv kvstore.Store, proc processor.Client, pricing studentService.Pricing, log *zap.Logger) *EnrollmentService {
	return &EnrollmentService{
		DB:        db,
		KV:        kv,
		Processor: proc,
		Pricing:   pricing,
		Log:       log,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// ======================
// start
// ======================

type PayerInput struct {
	FirstName    string
	LastName     string
	Email        string
	Phone        *string
	Relationship string
}

type StartInput struct {
	StudentIDs []uuid.UUID
	Payer      PayerInput
}

type StudentRate struct {
	StudentID uuid.UUID `json:"student_id"`
	Name      string    `json:"name"`
	RateCents int64     `json:"monthly_rate_cents"`
}

type StartResult struct {
	EnrollmentID  uuid.UUID     `json:"enrollment_id"`
	PayerID       uuid.UUID     `json:"payer_id"`
	CustomerID    string        `json:"customer_id"`
	SetupIntentID string        `json:"setup_intent_id"`
	ClientSecret  string        `json:"client_secret"`
	AmountCents   int64         `json:"monthly_amount_cents"`
	Students      []StudentRate `json:"students"`
}

// Start creates the payer, the processor customer and a bank setup intent for
// the chosen students. Nothing is charged until the bank account is verified.
func (s *EnrollmentService) Start(ctx context.Context, in StartInput) (*StartResult, error) {
	ids := uniqueIDs(in.StudentIDs)
	if len(ids) == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "at least one student is required")
	}

	var students []studentModel.StudentModel
	if err := s.DB.WithContext(ctx).
		Where("student_id IN ?", ids).
		Order("student_created_at ASC").
		Find(&students).Error; err != nil {
		return nil, err
	}
	if len(students) != len(ids) {
		return nil, fiber.NewError(fiber.StatusNotFound, "one or more students not found")
	}
	for _, st := range students {
		if st.StudentStatus != studentModel.StudentStatusRegistered || st.StudentSubscriptionID != nil {
			return nil, fiber.NewError(fiber.StatusConflict, fmt.Sprintf("%s is not available for enrollment", st.FullName()))
		}
	}
	if err := s.ensureNotHeld(ctx, ids); err != nil {
		return nil, err
	}

	rates, err := s.Pricing.Rates(ctx, s.DB, students)
	if err != nil {
		return nil, err
	}
	res := &StartResult{Students: make([]StudentRate, 0, len(students))}
	for _, st := range students {
		rate := rates[st.StudentID]
		res.AmountCents += rate
		res.Students = append(res.Students, StudentRate{StudentID: st.StudentID, Name: st.FullName(), RateCents: rate})
	}
	if res.AmountCents <= 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "combined monthly amount must be positive")
	}

	enrollmentID := uuid.New()
	res.EnrollmentID = enrollmentID
	meta := map[string]string{
		"enrollment_id": enrollmentID.String(),
		"student_ids":   joinIDs(ids),
	}

	phone := ""
	if in.Payer.Phone != nil {
		phone = *in.Payer.Phone
	}
	customerID, err := s.Processor.CreateCustomer(ctx, processor.CustomerInput{
		Name:     strings.TrimSpace(in.Payer.FirstName + " " + in.Payer.LastName),
		Email:    in.Payer.Email,
		Phone:    phone,
		Metadata: meta,
	})
	if err != nil {
		return nil, err
	}
	si, err := s.Processor.CreateBankSetupIntent(ctx, customerID, meta)
	if err != nil {
		return nil, err
	}
	res.CustomerID = customerID
	res.SetupIntentID = si.ID
	res.ClientSecret = si.ClientSecret

	relationship := in.Payer.Relationship
	if relationship == "" {
		relationship = "guardian"
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payer := studentModel.PayerModel{
			PayerFirstName:    in.Payer.FirstName,
			PayerLastName:     in.Payer.LastName,
			PayerEmail:        strings.ToLower(strings.TrimSpace(in.Payer.Email)),
			PayerPhone:        in.Payer.Phone,
			PayerRelationship: relationship,
			PayerCustomerID:   &customerID,
		}
		if err := tx.Create(&payer).Error; err != nil {
			return err
		}
		res.PayerID = payer.PayerID

		enr := model.EnrollmentModel{
			EnrollmentID:            enrollmentID,
			EnrollmentPayerID:       payer.PayerID,
			EnrollmentCustomerID:    customerID,
			EnrollmentSetupIntentID: si.ID,
			EnrollmentStatus:        model.EnrollmentPendingSetup,
			EnrollmentAmountCents:   res.AmountCents,
			EnrollmentCreatedAt:     s.Now(),
		}
		if err := tx.Create(&enr).Error; err != nil {
			return err
		}
		rows := make([]model.EnrollmentStudentModel, 0, len(res.Students))
		for i, r := range res.Students {
			rows = append(rows, model.EnrollmentStudentModel{
				EnrollmentStudentEnrollmentID: enrollmentID,
				EnrollmentStudentStudentID:    r.StudentID,
				EnrollmentStudentRateCents:    r.RateCents,
				EnrollmentStudentPosition:     i,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		return tx.Model(&studentModel.StudentModel{}).
			Where("student_id IN ?", ids).
			Update("student_payer_id", payer.PayerID).Error
	})
	if err != nil {
		return nil, err
	}

	s.cache(ctx, kvstore.PaymentSetupKey(customerID), setupCache{
		Status:        string(model.EnrollmentPendingSetup),
		SetupIntentID: si.ID,
		EnrollmentID:  enrollmentID.String(),
	}, kvstore.PaymentSetupTTL)

	s.Log.Info("enrollment started",
		zap.String("enrollment_id", enrollmentID.String()),
		zap.String("setup_intent_id", si.ID),
		zap.Int("students", len(ids)),
		zap.Int64("amount_cents", res.AmountCents))
	return res, nil
}

// ======================
// microdeposit verification
// ======================

type VerifyResult struct {
	SetupIntentID     string `json:"setup_intent_id"`
	Status            string `json:"status"`
	AttemptsRemaining int    `json:"attempts_remaining"`
	SubscriptionID    string `json:"subscription_id,omitempty"`
}

// VerifyMicrodeposits allows MaxVerifyAttempts tries per setup intent. After
// that the intent is locked and the payer has to start over.
func (s *EnrollmentService) VerifyMicrodeposits(ctx context.Context, setupIntentID string, amounts []int64, descriptorCode string) (*VerifyResult, error) {
	if len(amounts) == 0 && descriptorCode == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "amounts or descriptor_code is required")
	}
	locked, err := kvstore.Exists(ctx, s.KV, kvstore.VerifyFailedKey(setupIntentID))
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, ErrVerificationLocked
	}
	enr, err := s.findBySetupIntent(ctx, s.DB, setupIntentID)
	if err != nil {
		return nil, err
	}
	if enr.EnrollmentStatus == model.EnrollmentSetupFailed {
		return nil, fiber.NewError(fiber.StatusConflict, "bank setup failed, please restart enrollment")
	}

	n, err := s.KV.Incr(ctx, kvstore.VerifyAttemptKey(setupIntentID), kvstore.VerifyAttemptTTL)
	if err != nil {
		return nil, err
	}
	if n > kvstore.MaxVerifyAttempts {
		s.lockVerification(ctx, setupIntentID)
		s.failEnrollment(ctx, enr.EnrollmentID, "verification attempts exhausted")
		return nil, ErrVerificationLocked
	}

	si, err := s.Processor.VerifyMicrodeposits(ctx, setupIntentID, amounts, descriptorCode)
	if err != nil {
		if n >= kvstore.MaxVerifyAttempts {
			s.lockVerification(ctx, setupIntentID)
			s.failEnrollment(ctx, enr.EnrollmentID, "verification attempts exhausted")
			s.Log.Warn("microdeposit verification locked",
				zap.String("setup_intent_id", setupIntentID), zap.Error(err))
			return nil, ErrVerificationLocked
		}
		return nil, err
	}

	res := &VerifyResult{
		SetupIntentID:     si.ID,
		Status:            si.Status,
		AttemptsRemaining: kvstore.MaxVerifyAttempts - int(n),
	}
	if si.Status == processor.SetupStatusSucceeded {
		if err := s.KV.Del(ctx, kvstore.VerifyAttemptKey(setupIntentID)); err != nil {
			s.Log.Warn("could not clear verification attempts", zap.String("setup_intent_id", setupIntentID), zap.Error(err))
		}
		// the setup_intent.succeeded webhook takes the same idempotent path
		sub, _, err := s.CompleteSetup(ctx, si)
		if errors.Is(err, ErrStudentsAlreadyEnrolled) {
			return nil, err
		}
		if err != nil {
			s.Log.Warn("complete setup after verification failed; webhook will retry",
				zap.String("setup_intent_id", setupIntentID), zap.Error(err))
		} else if sub.SubscriptionProcessorID != nil {
			res.SubscriptionID = *sub.SubscriptionProcessorID
		}
	}
	return res, nil
}

func (s *EnrollmentService) lockVerification(ctx context.Context, setupIntentID string) {
	if err := s.KV.Set(ctx, kvstore.VerifyFailedKey(setupIntentID), "1", kvstore.VerifyFailedTTL); err != nil {
		s.Log.Warn("could not lock verification", zap.String("setup_intent_id", setupIntentID), zap.Error(err))
	}
}

// ======================
// setup intent transitions (webhooks)
// ======================

// MarkPendingVerification records that the bank account waits for microdeposits.
func (s *EnrollmentService) MarkPendingVerification(ctx context.Context, setupIntentID string) error {
	var customerID string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		enr, err := s.findBySetupIntent(ctx, tx, setupIntentID)
		if err != nil {
			return err
		}
		customerID = enr.EnrollmentCustomerID
		if enr.EnrollmentStatus != model.EnrollmentPendingSetup {
			return nil
		}
		return tx.Model(&model.EnrollmentModel{}).
			Where("enrollment_id = ?", enr.EnrollmentID).
			Update("enrollment_status", model.EnrollmentPendingVerification).Error
	})
	if err != nil {
		return err
	}
	s.cache(ctx, kvstore.PaymentSetupKey(customerID), setupCache{
		Status:        string(model.EnrollmentPendingVerification),
		SetupIntentID: setupIntentID,
	}, kvstore.PaymentSetupTTL)
	return nil
}

// MarkSetupFailed ends the enrollment; the payer has to start again.
func (s *EnrollmentService) MarkSetupFailed(ctx context.Context, setupIntentID, reason string) error {
	res := s.DB.WithContext(ctx).Model(&model.EnrollmentModel{}).
		Where("enrollment_setup_intent_id = ? AND enrollment_status <> ?", setupIntentID, model.EnrollmentCompleted).
		Updates(map[string]any{
			"enrollment_status":     model.EnrollmentSetupFailed,
			"enrollment_last_error": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.findBySetupIntent(ctx, s.DB, setupIntentID); err != nil {
			return err
		}
	}
	s.lockVerification(ctx, setupIntentID)
	return nil
}

// CompleteSetup turns a verified setup intent into exactly one processor
// subscription and one local Subscription row. It is safe to call from both
// the verification endpoint and the webhook, any number of times.
func (s *EnrollmentService) CompleteSetup(ctx context.Context, si processor.SetupIntent) (*billingModel.SubscriptionModel, bool, error) {
	enr, err := s.findBySetupIntent(ctx, s.DB, si.ID)
	if err != nil {
		return nil, false, err
	}
	if existing, err := s.subscriptionFor(ctx, s.DB, enr.EnrollmentID); err != nil || existing != nil {
		return existing, false, err
	}

	first, err := s.KV.SetNX(ctx, kvstore.ProcessedSetupKey(si.ID), s.Now().Format(time.RFC3339), kvstore.ProcessedSetupTTL)
	if err != nil {
		return nil, false, err
	}
	if !first {
		// an earlier run may have died between the processor call and the
		// insert; the idempotency key makes retrying the create safe
		s.Log.Info("setup already claimed, resuming", zap.String("setup_intent_id", si.ID))
	}

	var links []model.EnrollmentStudentModel
	if err := s.DB.WithContext(ctx).
		Where("enrollment_student_enrollment_id = ?", enr.EnrollmentID).
		Order("enrollment_student_position ASC").
		Find(&links).Error; err != nil {
		return nil, false, err
	}
	if len(links) == 0 {
		return nil, false, fmt.Errorf("enrollment %s has no students", enr.EnrollmentID)
	}
	studentIDs := make([]uuid.UUID, 0, len(links))
	for _, l := range links {
		studentIDs = append(studentIDs, l.EnrollmentStudentStudentID)
	}

	taken, err := s.linkedElsewhere(ctx, s.DB, enr.EnrollmentID, "", studentIDs)
	if err != nil {
		return nil, false, err
	}
	if taken > 0 {
		return nil, false, s.rejectSetup(ctx, enr, "")
	}

	paymentMethod := si.PaymentMethodID
	if paymentMethod == "" {
		return nil, false, fmt.Errorf("setup intent %s has no payment method", si.ID)
	}
	ps, err := s.Processor.CreateSubscription(ctx, processor.SubscriptionInput{
		CustomerID:      enr.EnrollmentCustomerID,
		PaymentMethodID: paymentMethod,
		AmountCents:     enr.EnrollmentAmountCents,
		Description:     fmt.Sprintf("Monthly tuition for %d student(s)", len(studentIDs)),
		IdempotencyKey:  "sub-" + si.ID,
		Metadata: map[string]string{
			"enrollment_id": enr.EnrollmentID.String(),
			"student_ids":   joinIDs(studentIDs),
		},
	})
	if err != nil {
		return nil, false, err
	}

	status, ok := billingModel.ParseSubscriptionStatus(ps.Status)
	if !ok {
		status = billingModel.SubscriptionStatusIncomplete
	}
	rawIDs, err := sonic.Marshal(studentIDs)
	if err != nil {
		return nil, false, err
	}

	now := s.Now()
	created := false
	var sub billingModel.SubscriptionModel
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		enrollmentID := enr.EnrollmentID
		processorID := ps.ID
		// a concurrent enrollment may have linked the students since the check above
		taken, err := s.linkedElsewhere(ctx, tx, enrollmentID, processorID, studentIDs)
		if err != nil {
			return err
		}
		if taken > 0 {
			return ErrStudentsAlreadyEnrolled
		}
		sub = billingModel.SubscriptionModel{
			SubscriptionProcessorID:  &processorID,
			SubscriptionPayerID:      enr.EnrollmentPayerID,
			SubscriptionEnrollmentID: &enrollmentID,
			SubscriptionCustomerID:   enr.EnrollmentCustomerID,
			SubscriptionStatus:       status,
			SubscriptionAmountCents:  enr.EnrollmentAmountCents,
			SubscriptionStudentIDs:   datatypes.JSON(rawIDs),
			SubscriptionSyncedAt:     &now,
		}
		if !ps.CurrentPeriodStart.IsZero() {
			start := ps.CurrentPeriodStart
			sub.SubscriptionPeriodStart = &start
		}
		if !ps.CurrentPeriodEnd.IsZero() {
			end := ps.CurrentPeriodEnd
			sub.SubscriptionPeriodEnd = &end
		}
		ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&sub)
		if ins.Error != nil {
			return ins.Error
		}
		if ins.RowsAffected == 0 {
			existing, err := s.subscriptionFor(ctx, tx, enrollmentID)
			if err != nil {
				return err
			}
			if existing == nil {
				return fmt.Errorf("subscription %s conflicts with another enrollment", ps.ID)
			}
			sub = *existing
			return nil
		}
		created = true

		statusStr := string(status)
		if err := tx.Model(&studentModel.StudentModel{}).
			Where("student_id IN ?", studentIDs).
			Updates(map[string]any{
				"student_status":              studentModel.StudentStatusEnrolled,
				"student_enrolled_at":         now,
				"student_subscription_id":     processorID,
				"student_subscription_status": statusStr,
				"student_payer_id":            enr.EnrollmentPayerID,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&model.EnrollmentModel{}).
			Where("enrollment_id = ?", enrollmentID).
			Updates(map[string]any{
				"enrollment_status":       model.EnrollmentCompleted,
				"enrollment_completed_at": now,
				"enrollment_last_error":   nil,
			}).Error
	})
	if errors.Is(err, ErrStudentsAlreadyEnrolled) {
		return nil, false, s.rejectSetup(ctx, enr, ps.ID)
	}
	if err != nil {
		return nil, false, err
	}

	if created {
		s.cache(ctx, kvstore.PaymentSetupKey(enr.EnrollmentCustomerID), setupCache{
			Status:         string(model.EnrollmentCompleted),
			SetupIntentID:  si.ID,
			EnrollmentID:   enr.EnrollmentID.String(),
			SubscriptionID: ps.ID,
		}, kvstore.PaymentSetupTTL)
		s.cache(ctx, kvstore.BankAccountKey(enr.EnrollmentCustomerID), bankAccountCache{
			PaymentMethodID: paymentMethod,
			Status:          "verified",
			VerifiedAt:      now,
		}, kvstore.BankAccountTTL)
		s.Log.Info("subscription created",
			zap.String("enrollment_id", enr.EnrollmentID.String()),
			zap.String("subscription_id", ps.ID),
			zap.Int64("amount_cents", enr.EnrollmentAmountCents))
	}
	return &sub, created, nil
}

// ensureNotHeld rejects students that another unfinished enrollment can still
// complete for.
func (s *EnrollmentService) ensureNotHeld(ctx context.Context, ids []uuid.UUID) error {
	now := s.Now()
	var held int64
	err := s.DB.WithContext(ctx).Model(&model.EnrollmentStudentModel{}).
		Joins("JOIN enrollments ON enrollments.enrollment_id = enrollment_students.enrollment_student_enrollment_id").
		Where("enrollment_students.enrollment_student_student_id IN ?", ids).
		Where("((enrollments.enrollment_status = ? AND enrollments.enrollment_created_at > ?) OR (enrollments.enrollment_status = ? AND enrollments.enrollment_created_at > ?))",
			model.EnrollmentPendingSetup, now.Add(-PendingSetupHold),
			model.EnrollmentPendingVerification, now.Add(-PendingVerificationHold)).
		Count(&held).Error
	if err != nil {
		return err
	}
	if held > 0 {
		return ErrEnrollmentInProgress
	}
	return nil
}

// linkedElsewhere counts students already billed by a subscription that this
// enrollment did not create.
func (s *EnrollmentService) linkedElsewhere(ctx context.Context, tx *gorm.DB, enrollmentID uuid.UUID, ownSubscriptionID string, studentIDs []uuid.UUID) (int64, error) {
	own := tx.Model(&billingModel.SubscriptionModel{}).
		Select("subscription_processor_id").
		Where("subscription_enrollment_id = ? AND subscription_processor_id IS NOT NULL", enrollmentID)
	var n int64
	err := tx.WithContext(ctx).Model(&studentModel.StudentModel{}).
		Where("student_id IN ?", studentIDs).
		Where("student_subscription_id IS NOT NULL AND student_subscription_id <> ?", ownSubscriptionID).
		Where("student_subscription_id NOT IN (?)", own).
		Count(&n).Error
	return n, err
}

// rejectSetup ends an enrollment whose students were enrolled by another one
// and cancels the processor subscription it already created, if any.
func (s *EnrollmentService) rejectSetup(ctx context.Context, enr *model.EnrollmentModel, subscriptionID string) error {
	reason := ErrStudentsAlreadyEnrolled.Message
	if subscriptionID != "" {
		if _, err := s.Processor.CancelSubscription(ctx, subscriptionID); err != nil && !processor.IsNotFound(err) {
			s.Log.Error("could not cancel duplicate subscription",
				zap.String("enrollment_id", enr.EnrollmentID.String()),
				zap.String("subscription_id", subscriptionID),
				zap.Error(err))
			reason = fmt.Sprintf("%s; subscription %s must be canceled manually", reason, subscriptionID)
		}
	}
	s.failEnrollment(ctx, enr.EnrollmentID, reason)
	s.Log.Warn("setup refused, students already enrolled",
		zap.String("enrollment_id", enr.EnrollmentID.String()),
		zap.String("setup_intent_id", enr.EnrollmentSetupIntentID))
	return ErrStudentsAlreadyEnrolled
}

func (s *EnrollmentService) failEnrollment(ctx context.Context, enrollmentID uuid.UUID, reason string) {
	if err := s.DB.WithContext(ctx).Model(&model.EnrollmentModel{}).
		Where("enrollment_id = ? AND enrollment_status <> ?", enrollmentID, model.EnrollmentCompleted).
		Updates(map[string]any{
			"enrollment_status":     model.EnrollmentSetupFailed,
			"enrollment_last_error": reason,
		}).Error; err != nil {
		s.Log.Warn("could not fail enrollment", zap.String("enrollment_id", enrollmentID.String()), zap.Error(err))
	}
}

// ======================
// reads
// ======================

type StatusResult struct {
	Enrollment        model.EnrollmentModel           `json:"enrollment"`
	Subscription      *billingModel.SubscriptionModel `json:"subscription,omitempty"`
	PaymentSetup      map[string]any                  `json:"payment_setup,omitempty"`
	BankAccount       map[string]any                  `json:"bank_account,omitempty"`
	VerifyLocked      bool                            `json:"verify_locked"`
	AttemptsRemaining int                             `json:"attempts_remaining"`
}

func (s *EnrollmentService) Status(ctx context.Context, setupIntentID string) (*StatusResult, error) {
	db := s.DB.WithContext(ctx)
	var enr model.EnrollmentModel
	err := db.Preload("Students", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("enrollment_student_position ASC")
	}).First(&enr, "enrollment_setup_intent_id = ?", setupIntentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, err
	}

	out := &StatusResult{Enrollment: enr, AttemptsRemaining: kvstore.MaxVerifyAttempts}
	if out.Subscription, err = s.subscriptionFor(ctx, s.DB, enr.EnrollmentID); err != nil {
		return nil, err
	}
	out.PaymentSetup = s.cached(ctx, kvstore.PaymentSetupKey(enr.EnrollmentCustomerID))
	out.BankAccount = s.cached(ctx, kvstore.BankAccountKey(enr.EnrollmentCustomerID))
	if out.VerifyLocked, err = kvstore.Exists(ctx, s.KV, kvstore.VerifyFailedKey(setupIntentID)); err != nil {
		return nil, err
	}
	if raw, err := s.KV.Get(ctx, kvstore.VerifyAttemptKey(setupIntentID)); err == nil {
		var used int
		_, _ = fmt.Sscanf(raw, "%d", &used)
		out.AttemptsRemaining = max(kvstore.MaxVerifyAttempts-used, 0)
	}
	if out.VerifyLocked {
		out.AttemptsRemaining = 0
	}
	return out, nil
}

type AvailableStudent struct {
	StudentID      uuid.UUID  `json:"student_id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Grade          *string    `json:"grade,omitempty"`
	BatchID        *uuid.UUID `json:"batch_id,omitempty"`
	SiblingGroupID *uuid.UUID `json:"sibling_group_id,omitempty"`
	RateCents      int64      `json:"monthly_rate_cents"`
}

// ListAvailableStudents returns registered students without a subscription,
// with the rate they would be billed.
func (s *EnrollmentService) ListAvailableStudents(ctx context.Context, batchID *uuid.UUID) ([]AvailableStudent, error) {
	q := s.DB.WithContext(ctx).
		Where("student_status = ?", studentModel.StudentStatusRegistered).
		Where("student_subscription_id IS NULL")
	if batchID != nil {
		q = q.Where("student_batch_id = ?", *batchID)
	}
	var rows []studentModel.StudentModel
	if err := q.Order("student_last_name ASC, student_first_name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	rates, err := s.Pricing.Rates(ctx, s.DB, rows)
	if err != nil {
		return nil, err
	}
	out := make([]AvailableStudent, 0, len(rows))
	for _, st := range rows {
		out = append(out, AvailableStudent{
			StudentID:      st.StudentID,
			FirstName:      st.StudentFirstName,
			LastName:       st.StudentLastName,
			Grade:          st.StudentGrade,
			BatchID:        st.StudentBatchID,
			SiblingGroupID: st.StudentSiblingGroupID,
			RateCents:      rates[st.StudentID],
		})
	}
	return out, nil
}

// ======================
// helpers
// ======================

type setupCache struct {
	Status         string `json:"status"`
	SetupIntentID  string `json:"setup_intent_id"`
	EnrollmentID   string `json:"enrollment_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

type bankAccountCache struct {
	PaymentMethodID string    `json:"payment_method_id"`
	Status          string    `json:"status"`
	VerifiedAt      time.Time `json:"verified_at"`
}

// cache writes are advisory; the database stays authoritative.
func (s *EnrollmentService) cache(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := sonic.MarshalString(v)
	if err == nil {
		err = s.KV.Set(ctx, key, raw, ttl)
	}
	if err != nil {
		s.Log.Warn("kv cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *EnrollmentService) cached(ctx context.Context, key string) map[string]any {
	raw, err := s.KV.Get(ctx, key)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := sonic.UnmarshalString(raw, &out); err != nil {
		return nil
	}
	return out
}

func (s *EnrollmentService) findBySetupIntent(ctx context.Context, tx *gorm.DB, setupIntentID string) (*model.EnrollmentModel, error) {
	var enr model.EnrollmentModel
	err := tx.WithContext(ctx).First(&enr, "enrollment_setup_intent_id = ?", setupIntentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &enr, nil
}

func (s *EnrollmentService) subscriptionFor(ctx context.Context, tx *gorm.DB, enrollmentID uuid.UUID) (*billingModel.SubscriptionModel, error) {
	var sub billingModel.SubscriptionModel
	err := tx.WithContext(ctx).First(&sub, "subscription_enrollment_id = ?", enrollmentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
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

func joinIDs(ids []uuid.UUID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
