package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/features/billing/retry"
	billingService "tuitionpay_backend/internals/features/billing/service"
	"tuitionpay_backend/internals/kvstore"
	"tuitionpay_backend/internals/middlewares/auth"
	"tuitionpay_backend/internals/processor"
)

var (
	ErrInvalidCredentials = fiber.NewError(fiber.StatusUnauthorized, "invalid password")
	ErrLoginDisabled      = fiber.NewError(fiber.StatusServiceUnavailable, "admin login is not configured")
	ErrNoOpenInvoice      = fiber.NewError(fiber.StatusNotFound, "no open invoice for this subscription")
)

type Credentials struct {
	// Password is either plain text or a bcrypt hash ("$2a$..." etc.).
	Password   string
	JWTSecret  string
	SessionTTL time.Duration
}

type AdminService struct {
	DB            *gorm.DB
	KV            kvstore.Store
	Processor     processor.Client
	Subscriptions *billingService.SubscriptionService
	Policy        retry.Policy
	Creds         Credentials
	Log           *zap.Logger
	Now           func() time.Time
}

func NewAdminService(db *gorm.DB, kv kvstore.Store, proc processor.Client, subs *billingService.SubscriptionService, creds Credentials, log *zap.Logger) *AdminService {
	if creds.SessionTTL <= 0 {
		creds.SessionTTL = 12 * time.Hour
	}
	return &AdminService{
		DB:            db,
		KV:            kv,
		Processor:     proc,
		Subscriptions: subs,
		Policy:        subs.Policy,
		Creds:         creds,
		Log:           log,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// ======================
// session
// ======================

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *AdminService) Login(ctx context.Context, password string) (*Session, error) {
	if s.Creds.Password == "" || s.Creds.JWTSecret == "" {
		return nil, ErrLoginDisabled
	}
	if !PasswordMatches(s.Creds.Password, password) {
		s.Log.Warn("admin login rejected")
		return nil, ErrInvalidCredentials
	}
	token, exp, err := auth.IssueAdminToken(s.Creds.JWTSecret, s.Creds.SessionTTL, s.Now())
	if err != nil {
		return nil, err
	}
	s.Log.Info("admin session issued", zap.Time("expires_at", exp))
	return &Session{Token: token, ExpiresAt: exp}, nil
}

// Logout revokes the session until expiresAt; after that the token is dead anyway.
func (s *AdminService) Logout(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if sessionID == "" {
		return nil
	}
	ttl := expiresAt.Sub(s.Now())
	if ttl <= 0 {
		return nil
	}
	return s.KV.Set(ctx, kvstore.RevokedSessionKey(sessionID), s.Now().Format(time.RFC3339), ttl)
}

// PasswordMatches compares against a bcrypt hash when configured with one,
// otherwise in constant time against the plain value.
func PasswordMatches(configured, given string) bool {
	if given == "" {
		return false
	}
	if strings.HasPrefix(configured, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(given)) == 1
}

// ======================
// retry payment
// ======================

type RetryResult struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id"`
	InvoiceID      string `json:"invoice_id"`
	InvoiceStatus  string `json:"invoice_status"`
	AmountCents    int64  `json:"amount_cents"`
	HostedURL      string `json:"hosted_invoice_url,omitempty"`
	// PolicyAllows reports whether automatic dunning would have retried yet;
	// an admin retry ignores it.
	PolicyAllows bool   `json:"policy_allows"`
	RowsCreated  int    `json:"rows_created"`
	Message      string `json:"message"`
}

// RetryPayment charges the latest open invoice against the default payment
// method. A paid result is recorded right away; the later webhook for the
// same invoice is then a no-op.
func (s *AdminService) RetryPayment(ctx context.Context, subscriptionID string) (*RetryResult, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	sub, err := s.Subscriptions.FindByProcessorID(ctx, s.DB, subscriptionID)
	if errors.Is(err, billingService.ErrSubscriptionNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, "subscription not found")
	}
	if err != nil {
		return nil, err
	}
	if sub.SubscriptionStatus.Terminal() {
		return nil, fiber.NewError(fiber.StatusConflict, "subscription is "+string(sub.SubscriptionStatus))
	}

	log := s.Log.With(zap.String("subscription_id", subscriptionID))
	inv, err := s.Processor.LatestOpenInvoice(ctx, subscriptionID)
	if errors.Is(err, processor.ErrNoOpenInvoice) {
		return nil, ErrNoOpenInvoice
	}
	if err != nil {
		return nil, err
	}

	res := &RetryResult{
		SubscriptionID: subscriptionID,
		InvoiceID:      inv.ID,
		AmountCents:    inv.AmountDue,
	}
	if sub.SubscriptionLastFailedAt != nil {
		res.PolicyAllows = s.Policy.ShouldProcessRetry(sub.SubscriptionRetryCount, *sub.SubscriptionLastFailedAt, s.Now())
	}

	paid, err := s.Processor.PayInvoice(ctx, inv.ID)
	if err != nil {
		log.Warn("admin retry failed", zap.String("invoice_id", inv.ID), zap.Error(err))
		return nil, err
	}
	res.InvoiceStatus = paid.Status
	res.HostedURL = paid.HostedURL
	if paid.SubscriptionID == "" {
		paid.SubscriptionID = subscriptionID
	}

	if paid.Status != processor.InvoiceStatusPaid {
		// bank debits settle asynchronously; the webhook finishes the job
		res.Success = true
		res.Message = "Payment submitted, waiting for the bank to settle"
		log.Info("admin retry submitted", zap.String("invoice_id", inv.ID), zap.String("status", paid.Status))
		return res, nil
	}

	pr, err := s.Subscriptions.ApplyPaymentSucceeded(ctx, "admin-retry:"+paid.ID, paid)
	if err != nil {
		return nil, err
	}
	res.Success = true
	res.RowsCreated = pr.RowsCreated
	res.Message = "Payment succeeded"
	log.Info("admin retry paid", zap.String("invoice_id", paid.ID), zap.Int("rows_created", pr.RowsCreated))
	return res, nil
}
