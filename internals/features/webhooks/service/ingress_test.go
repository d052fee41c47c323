package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/databases/dbtest"
	billingModel "tuitionpay_backend/internals/features/billing/model"
	"tuitionpay_backend/internals/features/billing/retry"
	billingService "tuitionpay_backend/internals/features/billing/service"
	enrollmentService "tuitionpay_backend/internals/features/enrollment/service"
	studentModel "tuitionpay_backend/internals/features/students/model"
	studentService "tuitionpay_backend/internals/features/students/service"
	"tuitionpay_backend/internals/features/webhooks/model"
	"tuitionpay_backend/internals/kvstore"
	"tuitionpay_backend/internals/processor"
	"tuitionpay_backend/internals/processor/processortest"
)

type rig struct {
	db       *gorm.DB
	fake     *processortest.Fake
	ingress  *Ingress
	enroll   *enrollmentService.EnrollmentService
	notifier *billingService.Notifier
}

func newRig(t *testing.T) *rig {
	t.Helper()
	db := dbtest.Open(t)
	kv := kvstore.NewGormStore(db)
	fake := processortest.NewFake()
	log := zap.NewNop()

	enroll := enrollmentService.NewEnrollmentService(db, kv, fake, studentService.Pricing{BaseCents: 15000, DiscountCents: 1000}, log)
	notifier := billingService.NewNotifier(kv, log)
	subs := billingService.NewSubscriptionService(db, retry.Default, notifier, log)
	ingress := NewIngress(db, kv, fake, NewHandlers(enroll, subs, log), log)
	return &rig{db: db, fake: fake, ingress: ingress, enroll: enroll, notifier: notifier}
}

func (r *rig) send(t *testing.T, id, eventType string, object any) (*Result, error) {
	t.Helper()
	payload := processortest.EventPayload(id, eventType, object)
	return r.ingress.Receive(context.Background(), payload, processortest.Sign(payload, processortest.WebhookSecret))
}

func (r *rig) ledger(t *testing.T, eventID string) model.WebhookEventModel {
	t.Helper()
	var row model.WebhookEventModel
	require.NoError(t, r.db.First(&row, "webhook_event_external_id = ?", eventID).Error)
	return row
}

// enrolled runs a two-sibling enrollment through setup_intent.succeeded and
// returns the processor subscription id.
func (r *rig) enrolled(t *testing.T) (string, []uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	a := studentModel.StudentModel{StudentFirstName: "Ana", StudentLastName: "Lopez", StudentCreatedAt: base}
	b := studentModel.StudentModel{StudentFirstName: "Ben", StudentLastName: "Lopez", StudentCreatedAt: base.Add(time.Hour)}
	require.NoError(t, r.db.Create(&a).Error)
	require.NoError(t, r.db.Create(&b).Error)
	ids := []uuid.UUID{a.StudentID, b.StudentID}
	_, err := studentService.NewSiblingService(r.db).CreateGroup(ctx, nil, ids)
	require.NoError(t, err)

	start, err := r.enroll.Start(ctx, enrollmentService.StartInput{
		StudentIDs: ids,
		Payer:      enrollmentService.PayerInput{FirstName: "Maria", LastName: "Lopez", Email: "maria@example.com"},
	})
	require.NoError(t, err)

	si := r.fake.SetupIntents[start.SetupIntentID]
	res, err := r.send(t, "evt_setup_ok", TypeSetupIntentSucceeded, map[string]any{
		"id":             si.ID,
		"object":         "setup_intent",
		"status":         "succeeded",
		"customer":       si.CustomerID,
		"payment_method": si.PaymentMethodID,
	})
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, res.Status)
	require.Len(t, r.fake.CreatedSubscriptions, 1)

	var sub billingModel.SubscriptionModel
	require.NoError(t, r.db.First(&sub).Error)
	require.NotNil(t, sub.SubscriptionProcessorID)
	return *sub.SubscriptionProcessorID, ids
}

func invoicePayload(id, subID string, amount int64, status string) map[string]any {
	return map[string]any{
		"id":            id,
		"object":        "invoice",
		"status":        status,
		"customer":      "cus_x",
		"amount_paid":   amount,
		"amount_due":    amount,
		"attempt_count": 1,
		"parent": map[string]any{
			"subscription_details": map[string]any{"subscription": subID},
		},
		"status_transitions": map[string]any{"paid_at": time.Now().Unix()},
	}
}

func TestIngress_RejectsBadSignature(t *testing.T) {
	r := newRig(t)
	payload := processortest.EventPayload("evt_forged", TypeInvoicePaid, map[string]any{"id": "in_1"})

	_, err := r.ingress.Receive(context.Background(), payload, processortest.Sign(payload, "whsec_wrong"))
	assert.ErrorIs(t, err, processor.ErrInvalidSignature)

	_, err = r.ingress.Receive(context.Background(), payload, "")
	assert.ErrorIs(t, err, processor.ErrInvalidSignature)

	var count int64
	r.db.Model(&model.WebhookEventModel{}).Count(&count)
	assert.Zero(t, count)
}

func TestIngress_IgnoresUnknownTypes(t *testing.T) {
	r := newRig(t)
	res, err := r.send(t, "evt_charge", "charge.refunded", map[string]any{"id": "ch_1"})
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, res.Status)

	row := r.ledger(t, "evt_charge")
	assert.Equal(t, model.WebhookEventIgnored, row.WebhookEventStatus)
	require.NotNil(t, row.WebhookEventObjectID)
	assert.Equal(t, "ch_1", *row.WebhookEventObjectID)

	res, err = r.send(t, "evt_charge", "charge.refunded", map[string]any{"id": "ch_1"})
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res.Status)
}

func TestIngress_MalformedEventFailsLedgerRow(t *testing.T) {
	r := newRig(t)
	_, err := r.send(t, "evt_bad", TypeInvoicePaid, map[string]any{"object": "invoice"})
	assert.ErrorIs(t, err, ErrMalformedEvent)

	row := r.ledger(t, "evt_bad")
	assert.Equal(t, model.WebhookEventFailed, row.WebhookEventStatus)
	require.NotNil(t, row.WebhookEventError)
}

func TestIngress_SetupSucceededCreatesSubscriptionOnce(t *testing.T) {
	r := newRig(t)
	subID, ids := r.enrolled(t)
	assert.NotEmpty(t, subID)

	var students []studentModel.StudentModel
	require.NoError(t, r.db.Where("student_id IN ?", ids).Find(&students).Error)
	for _, st := range students {
		assert.Equal(t, studentModel.StudentStatusEnrolled, st.StudentStatus)
	}

	// redelivery of the same event is acknowledged without side effects
	var row model.WebhookEventModel
	require.NoError(t, r.db.First(&row, "webhook_event_external_id = ?", "evt_setup_ok").Error)
	payload := append([]byte(nil), row.WebhookEventPayload...)
	res, err := r.ingress.Receive(context.Background(), payload, processortest.Sign(payload, processortest.WebhookSecret))
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res.Status)
	assert.Len(t, r.fake.CreatedSubscriptions, 1)
	assert.Equal(t, 2, r.ledger(t, "evt_setup_ok").WebhookEventAttempts)
}

func TestIngress_InvoicePaidIsIdempotent(t *testing.T) {
	r := newRig(t)
	subID, _ := r.enrolled(t)

	res, err := r.send(t, "evt_paid_1", TypeInvoicePaymentSucceeded, invoicePayload("in_1", subID, 29000, "paid"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	// invoice.paid arrives for the same payment under a different event id
	res, err = r.send(t, "evt_paid_2", TypeInvoicePaid, invoicePayload("in_1", subID, 29000, "paid"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)

	var rows []billingModel.StudentPaymentModel
	require.NoError(t, r.db.Find(&rows).Error)
	require.Len(t, rows, 2)
	var total int64
	for _, p := range rows {
		total += p.StudentPaymentAmountCents
	}
	assert.Equal(t, int64(29000), total)

	notes, err := r.notifier.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestIngress_LateFailureAfterSuccessIsIgnored(t *testing.T) {
	r := newRig(t)
	subID, _ := r.enrolled(t)

	_, err := r.send(t, "evt_paid", TypeInvoicePaid, invoicePayload("in_1", subID, 29000, "paid"))
	require.NoError(t, err)
	res, err := r.send(t, "evt_failed_late", TypeInvoicePaymentFailed, invoicePayload("in_1", subID, 29000, "open"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)

	var sub billingModel.SubscriptionModel
	require.NoError(t, r.db.First(&sub, "subscription_processor_id = ?", subID).Error)
	assert.Equal(t, 0, sub.SubscriptionRetryCount)
}

func TestIngress_FailureCountedOncePerEvent(t *testing.T) {
	r := newRig(t)
	subID, _ := r.enrolled(t)

	for i := 0; i < 2; i++ {
		_, err := r.send(t, "evt_failed_1", TypeInvoicePaymentFailed, invoicePayload("in_2", subID, 29000, "open"))
		require.NoError(t, err)
	}

	var sub billingModel.SubscriptionModel
	require.NoError(t, r.db.First(&sub, "subscription_processor_id = ?", subID).Error)
	assert.Equal(t, 1, sub.SubscriptionRetryCount)
	assert.Equal(t, billingModel.SubscriptionStatusPastDue, sub.SubscriptionStatus)
	assert.NotNil(t, sub.SubscriptionNextRetryAt)
	assert.Equal(t, 2, r.ledger(t, "evt_failed_1").WebhookEventAttempts)
}

func TestIngress_SubscriptionDeletedCancels(t *testing.T) {
	r := newRig(t)
	subID, ids := r.enrolled(t)

	res, err := r.send(t, "evt_deleted", TypeSubscriptionDeleted, map[string]any{
		"id":       subID,
		"object":   "subscription",
		"status":   "canceled",
		"customer": "cus_x",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	var sub billingModel.SubscriptionModel
	require.NoError(t, r.db.First(&sub, "subscription_processor_id = ?", subID).Error)
	assert.Equal(t, billingModel.SubscriptionStatusCanceled, sub.SubscriptionStatus)

	var students []studentModel.StudentModel
	require.NoError(t, r.db.Where("student_id IN ?", ids).Find(&students).Error)
	for _, st := range students {
		assert.Nil(t, st.StudentSubscriptionID)
		assert.Equal(t, studentModel.StudentStatusRegistered, st.StudentStatus)
	}
}

func TestIngress_LateUpdateAfterDeleteIsIgnored(t *testing.T) {
	r := newRig(t)
	subID, ids := r.enrolled(t)

	_, err := r.send(t, "evt_deleted", TypeSubscriptionDeleted, map[string]any{
		"id": subID, "object": "subscription", "status": "canceled", "customer": "cus_x",
	})
	require.NoError(t, err)

	res, err := r.send(t, "evt_updated_late", TypeSubscriptionUpdated, map[string]any{
		"id": subID, "object": "subscription", "status": "active", "customer": "cus_x",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, OutcomeNoop, res.Outcome)

	var sub billingModel.SubscriptionModel
	require.NoError(t, r.db.First(&sub, "subscription_processor_id = ?", subID).Error)
	assert.Equal(t, billingModel.SubscriptionStatusCanceled, sub.SubscriptionStatus)

	var linked int64
	require.NoError(t, r.db.Model(&studentModel.StudentModel{}).
		Where("student_id IN ? AND student_subscription_id IS NOT NULL", ids).
		Count(&linked).Error)
	assert.Zero(t, linked)
}

func TestIngress_UnknownSubscriptionIsAcknowledged(t *testing.T) {
	r := newRig(t)
	res, err := r.send(t, "evt_foreign", TypeInvoicePaid, invoicePayload("in_9", "sub_elsewhere", 5000, "paid"))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, OutcomeUnknownSubscription, res.Outcome)
	assert.Equal(t, model.WebhookEventProcessed, r.ledger(t, "evt_foreign").WebhookEventStatus)
}
