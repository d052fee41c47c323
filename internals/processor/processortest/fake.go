// Package processortest provides an in-memory processor.Client and helpers to
// sign webhook payloads the same way the processor does.
package processortest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stripe/stripe-go/v82/webhook"

	"tuitionpay_backend/internals/processor"
)

const WebhookSecret = "whsec_test_secret"

type Fake struct {
	mu sync.Mutex

	seq           int
	Customers     map[string]processor.CustomerInput
	SetupIntents  map[string]processor.SetupIntent
	Subscriptions map[string]processor.Subscription
	// Invoices per subscription id, oldest first.
	Invoices map[string][]processor.Invoice

	// CreatedSubscriptions records every CreateSubscription input.
	CreatedSubscriptions []processor.SubscriptionInput
	// PaidInvoices records PayInvoice calls.
	PaidInvoices []string

	// CreateErr, when set, is returned by CreateSubscription.
	CreateErr error
	// VerifyErr, when set, is returned by VerifyMicrodeposits.
	VerifyErr error
	// PayErr, when set, is returned by PayInvoice.
	PayErr error
	// GetErr overrides GetSubscription per id.
	GetErr map[string]error

	Secret string
}

func NewFake() *Fake {
	return &Fake{
		Customers:     map[string]processor.CustomerInput{},
		SetupIntents:  map[string]processor.SetupIntent{},
		Subscriptions: map[string]processor.Subscription{},
		Invoices:      map[string][]processor.Invoice{},
		GetErr:        map[string]error{},
		Secret:        WebhookSecret,
	}
}

var _ processor.Client = (*Fake)(nil)

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_test_%d", prefix, f.seq)
}

func NotFound(object string) error {
	return &processor.Error{
		HTTPStatus: http.StatusNotFound,
		Type:       "invalid_request_error",
		Code:       "resource_missing",
		Message:    "No such " + object,
	}
}

func (f *Fake) CreateCustomer(ctx context.Context, in processor.CustomerInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("cus")
	f.Customers[id] = in
	return id, nil
}

func (f *Fake) CreateBankSetupIntent(ctx context.Context, customerID string, metadata map[string]string) (processor.SetupIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("seti")
	si := processor.SetupIntent{
		ID:              id,
		ClientSecret:    id + "_secret",
		Status:          processor.SetupStatusRequiresPMethod,
		CustomerID:      customerID,
		PaymentMethodID: f.nextID("pm"),
		Metadata:        metadata,
	}
	f.SetupIntents[id] = si
	return si, nil
}

func (f *Fake) VerifyMicrodeposits(ctx context.Context, setupIntentID string, amounts []int64, descriptorCode string) (processor.SetupIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	si, ok := f.SetupIntents[setupIntentID]
	if !ok {
		return processor.SetupIntent{}, NotFound("setup_intent")
	}
	if f.VerifyErr != nil {
		return processor.SetupIntent{}, f.VerifyErr
	}
	si.Status = processor.SetupStatusSucceeded
	si.NextActionType = ""
	f.SetupIntents[setupIntentID] = si
	return si, nil
}

func (f *Fake) CreateSubscription(ctx context.Context, in processor.SubscriptionInput) (processor.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return processor.Subscription{}, f.CreateErr
	}
	f.CreatedSubscriptions = append(f.CreatedSubscriptions, in)
	now := time.Now().UTC().Truncate(time.Second)
	sub := processor.Subscription{
		ID:                 f.nextID("sub"),
		CustomerID:         in.CustomerID,
		Status:             "active",
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		Metadata:           in.Metadata,
	}
	f.Subscriptions[sub.ID] = sub
	return sub, nil
}

func (f *Fake) GetSubscription(ctx context.Context, subscriptionID string) (processor.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.GetErr[subscriptionID]; err != nil {
		return processor.Subscription{}, err
	}
	sub, ok := f.Subscriptions[subscriptionID]
	if !ok {
		return processor.Subscription{}, NotFound("subscription")
	}
	return sub, nil
}

func (f *Fake) CancelSubscription(ctx context.Context, subscriptionID string) (processor.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.Subscriptions[subscriptionID]
	if !ok {
		return processor.Subscription{}, NotFound("subscription")
	}
	sub.Status = "canceled"
	f.Subscriptions[subscriptionID] = sub
	return sub, nil
}

func (f *Fake) ListPaidInvoices(ctx context.Context, subscriptionID string, pageSize int, fn func(processor.Invoice) error) error {
	f.mu.Lock()
	if _, ok := f.Subscriptions[subscriptionID]; !ok {
		f.mu.Unlock()
		return NotFound("subscription")
	}
	var paid []processor.Invoice
	for _, inv := range f.Invoices[subscriptionID] {
		if inv.Status == processor.InvoiceStatusPaid {
			paid = append(paid, inv)
		}
	}
	f.mu.Unlock()

	for _, inv := range paid {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(inv); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) LatestOpenInvoice(ctx context.Context, subscriptionID string) (processor.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var open []processor.Invoice
	for _, inv := range f.Invoices[subscriptionID] {
		if inv.Status == processor.InvoiceStatusOpen {
			open = append(open, inv)
		}
	}
	if len(open) == 0 {
		return processor.Invoice{}, processor.ErrNoOpenInvoice
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].PaidAt.After(open[j].PaidAt) })
	return open[0], nil
}

func (f *Fake) PayInvoice(ctx context.Context, invoiceID string) (processor.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PaidInvoices = append(f.PaidInvoices, invoiceID)
	if f.PayErr != nil {
		return processor.Invoice{}, f.PayErr
	}
	for subID, list := range f.Invoices {
		for i, inv := range list {
			if inv.ID == invoiceID {
				inv.Status = processor.InvoiceStatusPaid
				inv.AmountPaid = inv.AmountDue
				inv.PaidAt = time.Now().UTC()
				f.Invoices[subID][i] = inv
				return inv, nil
			}
		}
	}
	return processor.Invoice{}, NotFound("invoice")
}

func (f *Fake) ConstructEvent(payload []byte, signatureHeader string) (processor.Event, error) {
	return processor.VerifyEvent(payload, signatureHeader, f.Secret)
}

// AddSubscription seeds a processor-side subscription.
func (f *Fake) AddSubscription(sub processor.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Subscriptions[sub.ID] = sub
}

// AddInvoice seeds an invoice under its subscription.
func (f *Fake) AddInvoice(inv processor.Invoice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Invoices[inv.SubscriptionID] = append(f.Invoices[inv.SubscriptionID], inv)
}

// ==========================
// signed payloads
// ==========================

// EventPayload builds a webhook envelope around object.
func EventPayload(id, eventType string, object any) []byte {
	body, err := sonic.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": "2025-03-31.basil",
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		panic(err)
	}
	return body
}

// Sign returns the signature header for payload.
func Sign(payload []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Header
}
