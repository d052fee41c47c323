package controller

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
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
	"tuitionpay_backend/internals/features/webhooks/service"
	helper "tuitionpay_backend/internals/helpers"
	"tuitionpay_backend/internals/kvstore"
	"tuitionpay_backend/internals/processor"
	"tuitionpay_backend/internals/processor/processortest"
)

type webhookApp struct {
	app    *fiber.App
	db     *gorm.DB
	fake   *processortest.Fake
	enroll *enrollmentService.EnrollmentService
}

func newWebhookApp(t *testing.T) *webhookApp {
	t.Helper()
	db := dbtest.Open(t)
	kv := kvstore.NewGormStore(db)
	fake := processortest.NewFake()
	log := zap.NewNop()

	enroll := enrollmentService.NewEnrollmentService(db, kv, fake, studentService.Pricing{BaseCents: 15000, DiscountCents: 1000}, log)
	subs := billingService.NewSubscriptionService(db, retry.Default, billingService.NewNotifier(kv, log), log)
	ingress := service.NewIngress(db, kv, fake, service.NewHandlers(enroll, subs, log), log)
	ctrl := NewWebhookController(db, ingress, log)

	app := fiber.New(fiber.Config{ErrorHandler: helper.ErrorHandler(log)})
	app.Post("/api/webhook", ctrl.Receive)
	return &webhookApp{app: app, db: db, fake: fake, enroll: enroll}
}

func (wa *webhookApp) post(t *testing.T, payload []byte, signature string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	resp, err := wa.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, sonic.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func (wa *webhookApp) signed(t *testing.T, id, eventType string, object any) (int, map[string]any) {
	t.Helper()
	payload := processortest.EventPayload(id, eventType, object)
	return wa.post(t, payload, processortest.Sign(payload, processortest.WebhookSecret))
}

func (wa *webhookApp) startEnrollment(t *testing.T) processor.SetupIntent {
	t.Helper()
	st := studentModel.StudentModel{StudentFirstName: "Ana", StudentLastName: "Lopez", StudentCreatedAt: time.Now().UTC()}
	require.NoError(t, wa.db.Create(&st).Error)
	res, err := wa.enroll.Start(context.Background(), enrollmentService.StartInput{
		StudentIDs: []uuid.UUID{st.StudentID},
		Payer:      enrollmentService.PayerInput{FirstName: "Maria", LastName: "Lopez", Email: "maria@example.com"},
	})
	require.NoError(t, err)
	return wa.fake.SetupIntents[res.SetupIntentID]
}

func setupSucceeded(si processor.SetupIntent) map[string]any {
	return map[string]any{
		"id":             si.ID,
		"object":         "setup_intent",
		"status":         "succeeded",
		"customer":       si.CustomerID,
		"payment_method": si.PaymentMethodID,
	}
}

func TestReceive_RejectsForgedAndMalformedDeliveries(t *testing.T) {
	wa := newWebhookApp(t)
	payload := processortest.EventPayload("evt_1", service.TypeInvoicePaid, map[string]any{"id": "in_1"})

	status, _ := wa.post(t, payload, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = wa.post(t, payload, processortest.Sign(payload, "whsec_wrong"))
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = wa.signed(t, "evt_bad", service.TypeInvoicePaid, map[string]any{"object": "invoice"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReceive_AcknowledgesDuplicates(t *testing.T) {
	wa := newWebhookApp(t)

	status, body := wa.signed(t, "evt_charge", "charge.refunded", map[string]any{"id": "ch_1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["received"])
	assert.Equal(t, string(service.StatusIgnored), body["status"])

	status, body = wa.signed(t, "evt_charge", "charge.refunded", map[string]any{"id": "ch_1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(service.StatusDuplicate), body["status"])
	assert.Equal(t, "evt_charge", body["event_id"])
}

func TestReceive_HandlerFailureAsksForRedelivery(t *testing.T) {
	wa := newWebhookApp(t)
	si := wa.startEnrollment(t)

	// a processor 4xx inside a handler is still our failure to process
	wa.fake.CreateErr = &processor.Error{HTTPStatus: http.StatusBadRequest, Type: "invalid_request_error", Message: "No such price"}
	status, _ := wa.signed(t, "evt_setup", service.TypeSetupIntentSucceeded, setupSucceeded(si))
	assert.Equal(t, http.StatusInternalServerError, status)

	var row model.WebhookEventModel
	require.NoError(t, wa.db.First(&row, "webhook_event_external_id = ?", "evt_setup").Error)
	assert.Equal(t, model.WebhookEventFailed, row.WebhookEventStatus)

	// the redelivery succeeds once the processor recovers
	wa.fake.CreateErr = nil
	status, body := wa.signed(t, "evt_setup", service.TypeSetupIntentSucceeded, setupSucceeded(si))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(service.StatusProcessed), body["status"])

	var count int64
	require.NoError(t, wa.db.Model(&billingModel.SubscriptionModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
