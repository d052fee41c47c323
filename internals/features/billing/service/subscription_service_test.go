package service

import (
	"context"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/databases/dbtest"
	"tuitionpay_backend/internals/features/billing/model"
	"tuitionpay_backend/internals/features/billing/retry"
	studentModel "tuitionpay_backend/internals/features/students/model"
	"tuitionpay_backend/internals/kvstore"
	"tuitionpay_backend/internals/processor"
)

type fixture struct {
	db       *gorm.DB
	svc      *SubscriptionService
	notifier *Notifier
	sub      model.SubscriptionModel
	students []studentModel.StudentModel
	now      time.Time
}

const testSubID = "sub_test_1"

func newFixture(t *testing.T, studentCount int) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	log := zap.NewNop()
	notifier := NewNotifier(kvstore.NewGormStore(db), log)
	svc := NewSubscriptionService(db, retry.Default, notifier, log)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }

	payer := studentModel.PayerModel{PayerFirstName: "Dana", PayerLastName: "Reyes", PayerEmail: "dana@example.com"}
	require.NoError(t, db.Create(&payer).Error)

	processorID := testSubID
	status := string(model.SubscriptionStatusActive)
	var students []studentModel.StudentModel
	var ids []uuid.UUID
	for i := 0; i < studentCount; i++ {
		st := studentModel.StudentModel{
			StudentFirstName:          "Kid",
			StudentLastName:           string(rune('A' + i)),
			StudentPayerID:            &payer.PayerID,
			StudentSubscriptionID:     &processorID,
			StudentSubscriptionStatus: &status,
			StudentStatus:             studentModel.StudentStatusEnrolled,
			StudentCreatedAt:          now.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.Create(&st).Error)
		students = append(students, st)
		ids = append(ids, st.StudentID)
	}

	sub := model.SubscriptionModel{
		SubscriptionProcessorID: &processorID,
		SubscriptionPayerID:     payer.PayerID,
		SubscriptionCustomerID:  "cus_test_1",
		SubscriptionStatus:      model.SubscriptionStatusActive,
		SubscriptionAmountCents: 29000,
		SubscriptionStudentIDs:  datatypes.JSON(mustJSON(t, ids)),
	}
	require.NoError(t, db.Create(&sub).Error)

	return &fixture{db: db, svc: svc, notifier: notifier, sub: sub, students: students, now: now}
}

func mustJSON(t *testing.T, ids []uuid.UUID) []byte {
	t.Helper()
	raw, err := sonic.Marshal(ids)
	require.NoError(t, err)
	return raw
}

func (f *fixture) reload(t *testing.T) model.SubscriptionModel {
	t.Helper()
	var sub model.SubscriptionModel
	require.NoError(t, f.db.First(&sub, "subscription_id = ?", f.sub.SubscriptionID).Error)
	return sub
}

func paidInvoice(id string, amount int64, paidAt time.Time) processor.Invoice {
	return processor.Invoice{
		ID:             id,
		SubscriptionID: testSubID,
		CustomerID:     "cus_test_1",
		Status:         processor.InvoiceStatusPaid,
		AmountPaid:     amount,
		AmountDue:      amount,
		PaidAt:         paidAt,
	}
}

func TestSplitAmount(t *testing.T) {
	tests := []struct {
		total     int64
		n         int
		share     int64
		remainder int64
	}{
		{30000, 3, 10000, 0},
		{100, 3, 33, 1},
		{29000, 2, 14500, 0},
		{5, 0, 0, 0},
		{0, 2, 0, 0},
	}
	for _, tt := range tests {
		share, rem := SplitAmount(tt.total, tt.n)
		assert.Equal(t, tt.share, share, "share of %d/%d", tt.total, tt.n)
		assert.Equal(t, tt.remainder, rem, "remainder of %d/%d", tt.total, tt.n)
		if tt.n > 0 {
			assert.Equal(t, tt.total, share*int64(tt.n)+rem)
		}
	}
}

func TestApplyPaymentSucceeded_IsIdempotent(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	inv := paidInvoice("in_1", 100, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))

	res, err := f.svc.ApplyPaymentSucceeded(ctx, "evt_1", inv)
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowsCreated)

	res, err = f.svc.ApplyPaymentSucceeded(ctx, "evt_1", inv)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RowsCreated)

	var rows []model.StudentPaymentModel
	require.NoError(t, f.db.Order("student_payment_remainder_cents DESC").Find(&rows).Error)
	require.Len(t, rows, 3)
	var sum int64
	for _, r := range rows {
		assert.Equal(t, int64(33), r.StudentPaymentAmountCents)
		assert.Equal(t, 2026, r.StudentPaymentYear)
		assert.Equal(t, 2, r.StudentPaymentMonth)
		sum += r.StudentPaymentAmountCents + r.StudentPaymentRemainderCents
	}
	assert.Equal(t, int64(1), rows[0].StudentPaymentRemainderCents)
	assert.Equal(t, int64(100), sum)

	notes, err := f.notifier.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, NotificationSucceeded, notes[0].Kind)
}

func TestApplyPaymentFailed_CountsEachEventOnce(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	inv := processor.Invoice{ID: "in_2", SubscriptionID: testSubID, Status: processor.InvoiceStatusOpen, AmountDue: 29000}

	res, err := f.svc.ApplyPaymentFailed(ctx, "evt_f1", inv, "insufficient_funds", f.now)
	require.NoError(t, err)
	assert.Equal(t, FailureRecorded, res.Outcome)
	assert.Equal(t, 1, res.RetryCount)

	res, err = f.svc.ApplyPaymentFailed(ctx, "evt_f1", inv, "insufficient_funds", f.now)
	require.NoError(t, err)
	assert.Equal(t, FailureDuplicate, res.Outcome)

	sub := f.reload(t)
	assert.Equal(t, 1, sub.SubscriptionRetryCount)
	assert.Equal(t, model.SubscriptionStatusPastDue, sub.SubscriptionStatus)
	require.NotNil(t, sub.SubscriptionNextRetryAt)
	assert.True(t, sub.SubscriptionNextRetryAt.Equal(f.now.AddDate(0, 0, 3)))
	require.NotNil(t, sub.SubscriptionGraceEndsAt)
	assert.True(t, sub.SubscriptionGraceEndsAt.Equal(f.now.AddDate(0, 0, 7)))

	var st studentModel.StudentModel
	require.NoError(t, f.db.First(&st, "student_id = ?", f.students[0].StudentID).Error)
	require.NotNil(t, st.StudentSubscriptionStatus)
	assert.Equal(t, "past_due", *st.StudentSubscriptionStatus)
}

func TestApplyPaymentFailed_ExhaustsAtMaxAttempts(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	inv := processor.Invoice{ID: "in_3", SubscriptionID: testSubID, Status: processor.InvoiceStatusOpen, AmountDue: 15000}

	for i, evt := range []string{"evt_a", "evt_b", "evt_c", "evt_d"} {
		_, err := f.svc.ApplyPaymentFailed(ctx, evt, inv, "declined", f.now.AddDate(0, 0, 3*i))
		require.NoError(t, err)
	}

	sub := f.reload(t)
	assert.Equal(t, 3, sub.SubscriptionRetryCount)
	assert.Equal(t, model.SubscriptionStatusUnpaid, sub.SubscriptionStatus)
	assert.Nil(t, sub.SubscriptionNextRetryAt)
	require.NotNil(t, sub.SubscriptionGraceEndsAt)
	assert.True(t, sub.SubscriptionGraceEndsAt.Equal(f.now.AddDate(0, 0, 7)), "grace is anchored at the first failure")
}

func TestApplyPaymentFailed_LateFailureAfterSuccessIsIgnored(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	inv := paidInvoice("in_4", 29000, f.now)

	_, err := f.svc.ApplyPaymentSucceeded(ctx, "evt_ok", inv)
	require.NoError(t, err)

	res, err := f.svc.ApplyPaymentFailed(ctx, "evt_late", inv, "declined", f.now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, FailureStale, res.Outcome)

	sub := f.reload(t)
	assert.Equal(t, model.SubscriptionStatusActive, sub.SubscriptionStatus)
	assert.Equal(t, 0, sub.SubscriptionRetryCount)
}

func TestApplyPaymentSucceeded_ClearsRetryState(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	open := processor.Invoice{ID: "in_5", SubscriptionID: testSubID, Status: processor.InvoiceStatusOpen, AmountDue: 15000}

	_, err := f.svc.ApplyPaymentFailed(ctx, "evt_fail", open, "declined", f.now)
	require.NoError(t, err)
	_, err = f.svc.ApplyPaymentSucceeded(ctx, "evt_paid", paidInvoice("in_5", 15000, f.now.AddDate(0, 0, 3)))
	require.NoError(t, err)

	sub := f.reload(t)
	assert.Equal(t, model.SubscriptionStatusActive, sub.SubscriptionStatus)
	assert.Equal(t, 0, sub.SubscriptionRetryCount)
	assert.Nil(t, sub.SubscriptionNextRetryAt)
	assert.Nil(t, sub.SubscriptionGraceEndsAt)
	assert.Nil(t, sub.SubscriptionLastFailureEventID)
}

func TestMarkCanceled_UnlinksStudents(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	changed, err := f.svc.MarkCanceled(ctx, testSubID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.svc.MarkCanceled(ctx, testSubID)
	require.NoError(t, err)
	assert.False(t, changed)

	sub := f.reload(t)
	assert.Equal(t, model.SubscriptionStatusCanceled, sub.SubscriptionStatus)
	assert.NotNil(t, sub.SubscriptionCanceledAt)

	var students []studentModel.StudentModel
	require.NoError(t, f.db.Find(&students).Error)
	for _, st := range students {
		assert.Nil(t, st.StudentSubscriptionID)
		assert.Equal(t, studentModel.StudentStatusRegistered, st.StudentStatus)
	}

	// a failure after cancellation never resurrects the subscription
	_, err = f.svc.ApplyPaymentFailed(ctx, "evt_after", processor.Invoice{ID: "in_x", SubscriptionID: testSubID}, "declined", f.now)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionStatusCanceled, f.reload(t).SubscriptionStatus)
}

func TestMirrorProcessorSubscription(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	changed, err := f.svc.MirrorProcessorSubscription(ctx, processor.Subscription{
		ID:                 testSubID,
		Status:             "past_due",
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	assert.True(t, changed)

	sub := f.reload(t)
	assert.Equal(t, model.SubscriptionStatusPastDue, sub.SubscriptionStatus)
	require.NotNil(t, sub.SubscriptionPeriodEnd)
	assert.True(t, sub.SubscriptionPeriodEnd.Equal(start.AddDate(0, 1, 0)))

	_, err = f.svc.MirrorProcessorSubscription(ctx, processor.Subscription{ID: testSubID, Status: "bogus"})
	assert.Error(t, err)

	_, err = f.svc.MirrorProcessorSubscription(ctx, processor.Subscription{ID: "sub_unknown", Status: "active"})
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestMirrorProcessorSubscription_IgnoresUpdatesAfterCancel(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.svc.MarkCanceled(ctx, testSubID)
	require.NoError(t, err)

	changed, err := f.svc.MirrorProcessorSubscription(ctx, processor.Subscription{ID: testSubID, Status: "active"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.SubscriptionStatusCanceled, f.reload(t).SubscriptionStatus)

	var students []studentModel.StudentModel
	require.NoError(t, f.db.Find(&students).Error)
	for _, st := range students {
		assert.Nil(t, st.StudentSubscriptionID)
		require.NotNil(t, st.StudentSubscriptionStatus)
		assert.Equal(t, string(model.SubscriptionStatusCanceled), *st.StudentSubscriptionStatus)
	}
}

func TestNotifier_DedupesByEvent(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.notifier.Push(ctx, Notification{EventID: "evt_same", Kind: NotificationFailed, Message: "x"}))
	}
	require.NoError(t, f.notifier.Push(ctx, Notification{EventID: "evt_other", Kind: NotificationSucceeded, Message: "y"}))

	notes, err := f.notifier.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "evt_other", notes[0].EventID)

	require.NoError(t, f.notifier.Clear(ctx))
	notes, err = f.notifier.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, notes)
}
