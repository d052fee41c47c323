// Package processor hides the payment processor SDK behind a small interface
// so services and tests never touch the SDK types directly.
package processor

import (
	"context"
	"encoding/json"
	"time"
)

// Client is constructed once on startup and shared by every service.
type Client interface {
	CreateCustomer(ctx context.Context, in CustomerInput) (string, error)
	CreateBankSetupIntent(ctx context.Context, customerID string, metadata map[string]string) (SetupIntent, error)
	VerifyMicrodeposits(ctx context.Context, setupIntentID string, amounts []int64, descriptorCode string) (SetupIntent, error)

	CreateSubscription(ctx context.Context, in SubscriptionInput) (Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (Subscription, error)

	// ListPaidInvoices walks every paid invoice of a subscription, pageSize at a time.
	// Returning an error from fn stops the walk.
	ListPaidInvoices(ctx context.Context, subscriptionID string, pageSize int, fn func(Invoice) error) error
	LatestOpenInvoice(ctx context.Context, subscriptionID string) (Invoice, error)
	PayInvoice(ctx context.Context, invoiceID string) (Invoice, error)

	ConstructEvent(payload []byte, signatureHeader string) (Event, error)
}

type CustomerInput struct {
	Name     string
	Email    string
	Phone    string
	Metadata map[string]string
}

type SetupIntent struct {
	ID              string
	ClientSecret    string
	Status          string
	CustomerID      string
	PaymentMethodID string
	NextActionType  string
	Metadata        map[string]string
}

type SubscriptionInput struct {
	CustomerID      string
	PaymentMethodID string
	AmountCents     int64
	Description     string
	IdempotencyKey  string
	Metadata        map[string]string
}

type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	Metadata           map[string]string
}

type Invoice struct {
	ID                 string
	SubscriptionID     string
	CustomerID         string
	Status             string
	AmountPaid         int64
	AmountDue          int64
	AttemptCount       int64
	PaidAt             time.Time
	NextPaymentAttempt *time.Time
	HostedURL          string
}

// Event is a verified webhook envelope. Object holds the raw data.object.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Object  json.RawMessage
}

// Setup intent statuses used by the enrollment flow.
const (
	SetupStatusSucceeded        = "succeeded"
	SetupStatusRequiresAction   = "requires_action"
	SetupStatusProcessing       = "processing"
	SetupStatusRequiresPMethod  = "requires_payment_method"
	NextActionVerifyWithDeposit = "verify_with_microdeposits"
)

// Invoice statuses.
const (
	InvoiceStatusPaid  = "paid"
	InvoiceStatusOpen  = "open"
	InvoiceStatusDraft = "draft"
)

func unixOrZero(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
