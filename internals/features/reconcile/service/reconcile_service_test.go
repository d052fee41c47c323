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
	billingModel "tuitionpay_backend/internals/features/billing/model"
	"tuitionpay_backend/internals/features/billing/retry"
	billingService "tuitionpay_backend/internals/features/billing/service"
	studentModel "tuitionpay_backend/internals/features/students/model"
	"tuitionpay_backend/internals/kvstore"
	"tuitionpay_backend/internals/processor"
	"tuitionpay_backend/internals/processor/processortest"
)

type env struct {
	db    *gorm.DB
	fake  *processortest.Fake
	svc   *ReconcileService
	payer studentModel.PayerModel
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := dbtest.Open(t)
	log := zap.NewNop()
	fake := processortest.NewFake()
	subs := billingService.NewSubscriptionService(db, retry.Default, billingService.NewNotifier(kvstore.NewGormStore(db), log), log)

	payer := studentModel.PayerModel{PayerFirstName: "Lee", PayerLastName: "Park", PayerEmail: "lee@example.com"}
	require.NoError(t, db.Create(&payer).Error)
	return &env{db: db, fake: fake, svc: NewReconcileService(db, fake, subs, log), payer: payer}
}

func (e *env) student(t *testing.T, name, subID string) studentModel.StudentModel {
	t.Helper()
	st := studentModel.StudentModel{
		StudentFirstName:      name,
		StudentLastName:       "Park",
		StudentPayerID:        &e.payer.PayerID,
		StudentSubscriptionID: &subID,
		StudentStatus:         studentModel.StudentStatusEnrolled,
	}
	require.NoError(t, e.db.Create(&st).Error)
	return st
}

func (e *env) subscription(t *testing.T, subID string, students ...studentModel.StudentModel) {
	t.Helper()
	ids := make([]uuid.UUID, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.StudentID)
	}
	raw, err := sonic.Marshal(ids)
	require.NoError(t, err)
	processorID := subID
	sub := billingModel.SubscriptionModel{
		SubscriptionProcessorID: &processorID,
		SubscriptionPayerID:     e.payer.PayerID,
		SubscriptionCustomerID:  "cus_park",
		SubscriptionStatus:      billingModel.SubscriptionStatusActive,
		SubscriptionAmountCents: 29000,
		SubscriptionStudentIDs:  datatypes.JSON(raw),
	}
	require.NoError(t, e.db.Create(&sub).Error)
}

func paid(id, subID string, amount int64, at time.Time) processor.Invoice {
	return processor.Invoice{ID: id, SubscriptionID: subID, Status: processor.InvoiceStatusPaid, AmountPaid: amount, AmountDue: amount, PaidAt: at}
}

func TestBackfill_RecordsPaidInvoicesAndIsRerunnable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.student(t, "Ari", "sub_family")
	b := e.student(t, "Bo", "sub_family")
	e.subscription(t, "sub_family", a, b)

	e.fake.AddSubscription(processor.Subscription{ID: "sub_family", Status: "active"})
	jan := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	e.fake.AddInvoice(paid("in_jan", "sub_family", 29001, jan))
	e.fake.AddInvoice(paid("in_feb", "sub_family", 29000, jan.AddDate(0, 1, 0)))
	e.fake.AddInvoice(processor.Invoice{ID: "in_mar", SubscriptionID: "sub_family", Status: processor.InvoiceStatusOpen, AmountDue: 29000})

	sum, err := e.svc.BackfillPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Subscriptions)
	assert.Equal(t, 2, sum.InvoicesProcessed)
	assert.Equal(t, 4, sum.RowsCreated)

	var jans []billingModel.StudentPaymentModel
	require.NoError(t, e.db.Where("student_payment_invoice_id = ?", "in_jan").Find(&jans).Error)
	require.Len(t, jans, 2)
	var total int64
	for _, p := range jans {
		assert.Equal(t, int64(14500), p.StudentPaymentAmountCents)
		assert.Equal(t, billingModel.PaymentSourceBackfill, p.StudentPaymentSource)
		assert.Equal(t, 1, p.StudentPaymentMonth)
		total += p.StudentPaymentAmountCents + p.StudentPaymentRemainderCents
	}
	assert.Equal(t, int64(29001), total)

	again, err := e.svc.BackfillPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, again.InvoicesProcessed)
	assert.Zero(t, again.RowsCreated)

	var count int64
	e.db.Model(&billingModel.StudentPaymentModel{}).Count(&count)
	assert.Equal(t, int64(4), count)
}

func TestBackfill_SkipsSubscriptionsMissingOnProcessor(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// a test-mode subscription the live processor has never heard of
	stale := e.student(t, "Cy", "sub_testmode")
	e.subscription(t, "sub_testmode", stale)

	// referenced only by a student row, no local subscription record
	legacy := e.student(t, "Di", "sub_legacy")
	e.fake.AddSubscription(processor.Subscription{ID: "sub_legacy", Status: "active"})
	e.fake.AddInvoice(paid("in_legacy", "sub_legacy", 15000, time.Now().UTC()))

	sum, err := e.svc.BackfillPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Subscriptions)
	assert.Equal(t, []string{"sub_testmode"}, sum.SkippedNotFound)
	assert.Equal(t, 1, sum.InvoicesProcessed)
	assert.Equal(t, 1, sum.RowsCreated)

	var row billingModel.StudentPaymentModel
	require.NoError(t, e.db.First(&row, "student_payment_invoice_id = ?", "in_legacy").Error)
	assert.Equal(t, legacy.StudentID, row.StudentPaymentStudentID)
	assert.Equal(t, int64(15000), row.StudentPaymentAmountCents)
}

func TestSyncSubscriptionStatuses_SettlesAll(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.student(t, "Ari", "sub_a")
	b := e.student(t, "Bo", "sub_b")
	c := e.student(t, "Cy", "sub_c")
	e.subscription(t, "sub_a", a)
	e.subscription(t, "sub_b", b)
	e.subscription(t, "sub_c", c)

	e.fake.AddSubscription(processor.Subscription{ID: "sub_a", Status: "past_due"})
	e.fake.AddSubscription(processor.Subscription{ID: "sub_c", Status: "active"})
	e.fake.GetErr["sub_c"] = &processor.Error{HTTPStatus: 503, Type: "api_error", Message: "upstream"}

	sum, err := e.svc.SyncSubscriptionStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Checked)
	assert.Equal(t, 1, sum.Changed)
	assert.Equal(t, []string{"sub_b"}, sum.NotFound)
	assert.Equal(t, []string{"sub_c"}, sum.Failed)

	var sub billingModel.SubscriptionModel
	require.NoError(t, e.db.First(&sub, "subscription_processor_id = ?", "sub_a").Error)
	assert.Equal(t, billingModel.SubscriptionStatusPastDue, sub.SubscriptionStatus)
	assert.NotNil(t, sub.SubscriptionSyncedAt)
}

func TestKnownSubscriptionIDs_Union(t *testing.T) {
	e := newEnv(t)
	a := e.student(t, "Ari", "sub_x")
	e.student(t, "Bo", "sub_x")
	e.student(t, "Cy", "sub_y")
	e.subscription(t, "sub_x", a)
	e.subscription(t, "sub_z")

	ids, err := e.svc.KnownSubscriptionIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_x", "sub_y", "sub_z"}, ids)
}
