package controller

import (
	"bytes"
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
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/databases/dbtest"
	"tuitionpay_backend/internals/features/admin/service"
	billingModel "tuitionpay_backend/internals/features/billing/model"
	"tuitionpay_backend/internals/features/billing/retry"
	billingService "tuitionpay_backend/internals/features/billing/service"
	studentModel "tuitionpay_backend/internals/features/students/model"
	helper "tuitionpay_backend/internals/helpers"
	"tuitionpay_backend/internals/kvstore"
	"tuitionpay_backend/internals/middlewares/auth"
	"tuitionpay_backend/internals/processor"
	"tuitionpay_backend/internals/processor/processortest"
)

const (
	testSecret   = "jwt-test-secret"
	testPassword = "correct horse"
)

type testApp struct {
	app  *fiber.App
	db   *gorm.DB
	fake *processortest.Fake
}

func newTestApp(t *testing.T, password string) *testApp {
	t.Helper()
	db := dbtest.Open(t)
	log := zap.NewNop()
	fake := processortest.NewFake()
	kv := kvstore.NewGormStore(db)
	subs := billingService.NewSubscriptionService(db, retry.Default, billingService.NewNotifier(kv, log), log)
	svc := service.NewAdminService(db, kv, fake, subs, service.Credentials{
		Password:   password,
		JWTSecret:  testSecret,
		SessionTTL: time.Hour,
	}, log)
	ctrl := NewAdminController(svc, false, log)

	app := fiber.New(fiber.Config{ErrorHandler: helper.ErrorHandler(log)})
	app.Post("/api/admin/login", ctrl.Login)
	admin := app.Group("/api/admin", auth.AdminJWT(testSecret, kv, log))
	admin.Get("/session", ctrl.Session)
	admin.Post("/logout", ctrl.Logout)
	admin.Post("/retry-payment", ctrl.RetryPayment)
	return &testApp{app: app, db: db, fake: fake}
}

func (ta *testApp) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := sonic.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ta.app.Test(req, -1)
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

func (ta *testApp) login(t *testing.T) string {
	t.Helper()
	status, body := ta.do(t, http.MethodPost, "/api/admin/login", "", map[string]string{"password": testPassword})
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	return data["token"].(string)
}

func (ta *testApp) seedSubscription(t *testing.T, subID string) {
	t.Helper()
	payer := studentModel.PayerModel{PayerFirstName: "Sam", PayerLastName: "Ito", PayerEmail: "sam@example.com"}
	require.NoError(t, ta.db.Create(&payer).Error)
	st := studentModel.StudentModel{
		StudentFirstName:      "Yui",
		StudentLastName:       "Ito",
		StudentPayerID:        &payer.PayerID,
		StudentSubscriptionID: &subID,
		StudentStatus:         studentModel.StudentStatusEnrolled,
	}
	require.NoError(t, ta.db.Create(&st).Error)
	ids, err := sonic.Marshal([]uuid.UUID{st.StudentID})
	require.NoError(t, err)

	failedAt := time.Now().UTC().AddDate(0, 0, -1)
	sub := billingModel.SubscriptionModel{
		SubscriptionProcessorID:  &subID,
		SubscriptionPayerID:      payer.PayerID,
		SubscriptionCustomerID:   "cus_ito",
		SubscriptionStatus:       billingModel.SubscriptionStatusPastDue,
		SubscriptionAmountCents:  15000,
		SubscriptionStudentIDs:   datatypes.JSON(ids),
		SubscriptionRetryCount:   1,
		SubscriptionLastFailedAt: &failedAt,
	}
	require.NoError(t, ta.db.Create(&sub).Error)
	ta.fake.AddSubscription(processor.Subscription{ID: subID, Status: "past_due"})
}

func TestLogin(t *testing.T) {
	ta := newTestApp(t, testPassword)

	status, body := ta.do(t, http.MethodPost, "/api/admin/login", "", map[string]string{"password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, false, body["success"])

	status, _ = ta.do(t, http.MethodPost, "/api/admin/login", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)

	token := ta.login(t)
	assert.NotEmpty(t, token)
}

func TestLogin_BcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	ta := newTestApp(t, string(hash))

	token := ta.login(t)
	status, body := ta.do(t, http.MethodGet, "/api/admin/session", token, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, auth.RoleAdmin, body["data"].(map[string]any)["role"])
}

func TestAdminGate(t *testing.T) {
	ta := newTestApp(t, testPassword)

	status, _ := ta.do(t, http.MethodGet, "/api/admin/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	forged, _, err := auth.IssueAdminToken("some-other-secret", time.Hour, time.Now())
	require.NoError(t, err)
	status, _ = ta.do(t, http.MethodGet, "/api/admin/session", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	expired, _, err := auth.IssueAdminToken(testSecret, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	status, _ = ta.do(t, http.MethodGet, "/api/admin/session", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	token := ta.login(t)
	status, _ = ta.do(t, http.MethodGet, "/api/admin/session", token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = ta.do(t, http.MethodPost, "/api/admin/logout", token, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = ta.do(t, http.MethodGet, "/api/admin/session", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRetryPayment_PaysLatestOpenInvoice(t *testing.T) {
	ta := newTestApp(t, testPassword)
	token := ta.login(t)
	ta.seedSubscription(t, "sub_retry")
	ta.fake.AddInvoice(processor.Invoice{ID: "in_open", SubscriptionID: "sub_retry", Status: processor.InvoiceStatusOpen, AmountDue: 15000})

	status, body := ta.do(t, http.MethodPost, "/api/admin/retry-payment", token, map[string]string{"subscriptionId": "sub_retry"})
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["success"])
	assert.Equal(t, "in_open", data["invoice_id"])
	assert.EqualValues(t, 1, data["rows_created"])
	assert.Equal(t, []string{"in_open"}, ta.fake.PaidInvoices)

	var sub billingModel.SubscriptionModel
	require.NoError(t, ta.db.First(&sub, "subscription_processor_id = ?", "sub_retry").Error)
	assert.Equal(t, billingModel.SubscriptionStatusActive, sub.SubscriptionStatus)
	assert.Equal(t, 0, sub.SubscriptionRetryCount)
}

func TestRetryPayment_Errors(t *testing.T) {
	ta := newTestApp(t, testPassword)
	token := ta.login(t)

	status, _ := ta.do(t, http.MethodPost, "/api/admin/retry-payment", token, map[string]string{"subscriptionId": "sub_unknown"})
	assert.Equal(t, http.StatusNotFound, status)

	ta.seedSubscription(t, "sub_clean")
	status, body := ta.do(t, http.MethodPost, "/api/admin/retry-payment", token, map[string]string{"subscriptionId": "sub_clean"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "no open invoice for this subscription", body["message"])

	ta.fake.AddInvoice(processor.Invoice{ID: "in_declined", SubscriptionID: "sub_clean", Status: processor.InvoiceStatusOpen, AmountDue: 15000})
	ta.fake.PayErr = &processor.Error{HTTPStatus: http.StatusPaymentRequired, Type: "card_error", Code: "insufficient_funds", Message: "Insufficient funds"}
	status, body = ta.do(t, http.MethodPost, "/api/admin/retry-payment", token, map[string]string{"subscriptionId": "sub_clean"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Insufficient funds", body["message"])

	status, _ = ta.do(t, http.MethodPost, "/api/admin/retry-payment", token, map[string]string{"subscriptionId": "not-a-sub"})
	assert.Equal(t, http.StatusBadRequest, status)
}
