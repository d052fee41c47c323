package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeClient implements Client on top of an injected stripe-go client
// instead of the package-level stripe.Key.
type StripeClient struct {
	api           *client.API
	webhookSecret string
	productID     string
	currency      string
}

func NewStripeClient(secretKey, webhookSecret, productID string) *StripeClient {
	return &StripeClient{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		productID:     productID,
		currency:      string(stripe.CurrencyUSD),
	}
}

func (s *StripeClient) CreateCustomer(ctx context.Context, in CustomerInput) (string, error) {
	params := &stripe.CustomerParams{
		Name:  optString(in.Name),
		Email: optString(in.Email),
		Phone: optString(in.Phone),
	}
	params.Context = ctx
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", wrapStripeError(err)
	}
	return c.ID, nil
}

func (s *StripeClient) CreateBankSetupIntent(ctx context.Context, customerID string, metadata map[string]string) (SetupIntent, error) {
	params := &stripe.SetupIntentParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: []*string{stripe.String("us_bank_account")},
		Usage:              stripe.String("off_session"),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	si, err := s.api.SetupIntents.New(params)
	if err != nil {
		return SetupIntent{}, wrapStripeError(err)
	}
	return toSetupIntent(si), nil
}

func (s *StripeClient) VerifyMicrodeposits(ctx context.Context, setupIntentID string, amounts []int64, descriptorCode string) (SetupIntent, error) {
	params := &stripe.SetupIntentVerifyMicrodepositsParams{}
	params.Context = ctx
	if descriptorCode != "" {
		params.DescriptorCode = stripe.String(descriptorCode)
	} else {
		for _, a := range amounts {
			params.Amounts = append(params.Amounts, stripe.Int64(a))
		}
	}
	si, err := s.api.SetupIntents.VerifyMicrodeposits(setupIntentID, params)
	if err != nil {
		return SetupIntent{}, wrapStripeError(err)
	}
	return toSetupIntent(si), nil
}

func (s *StripeClient) CreateSubscription(ctx context.Context, in SubscriptionInput) (Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer:             stripe.String(in.CustomerID),
		DefaultPaymentMethod: optString(in.PaymentMethodID),
		Description:          optString(in.Description),
		Items: []*stripe.SubscriptionItemsParams{{
			PriceData: &stripe.SubscriptionItemPriceDataParams{
				Currency:   stripe.String(s.currency),
				Product:    stripe.String(s.productID),
				UnitAmount: stripe.Int64(in.AmountCents),
				Recurring: &stripe.SubscriptionItemPriceDataRecurringParams{
					Interval: stripe.String("month"),
				},
			},
		}},
	}
	params.Context = ctx
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	sub, err := s.api.Subscriptions.New(params)
	if err != nil {
		return Subscription{}, wrapStripeError(err)
	}
	return toSubscription(sub), nil
}

func (s *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := s.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return Subscription{}, wrapStripeError(err)
	}
	return toSubscription(sub), nil
}

func (s *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) (Subscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	sub, err := s.api.Subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		return Subscription{}, wrapStripeError(err)
	}
	return toSubscription(sub), nil
}

func (s *StripeClient) ListPaidInvoices(ctx context.Context, subscriptionID string, pageSize int, fn func(Invoice) error) error {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	params := &stripe.InvoiceListParams{
		Subscription: stripe.String(subscriptionID),
		Status:       stripe.String(InvoiceStatusPaid),
	}
	params.Limit = stripe.Int64(int64(pageSize))
	params.Context = ctx

	it := s.api.Invoices.List(params)
	for it.Next() {
		inv := toInvoice(it.Invoice())
		if inv.SubscriptionID == "" {
			inv.SubscriptionID = subscriptionID
		}
		if err := fn(inv); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return wrapStripeError(err)
	}
	return nil
}

func (s *StripeClient) LatestOpenInvoice(ctx context.Context, subscriptionID string) (Invoice, error) {
	params := &stripe.InvoiceListParams{
		Subscription: stripe.String(subscriptionID),
		Status:       stripe.String(InvoiceStatusOpen),
	}
	params.Limit = stripe.Int64(1)
	params.Context = ctx

	// newest first
	it := s.api.Invoices.List(params)
	if it.Next() {
		return toInvoice(it.Invoice()), nil
	}
	if err := it.Err(); err != nil {
		return Invoice{}, wrapStripeError(err)
	}
	return Invoice{}, ErrNoOpenInvoice
}

func (s *StripeClient) PayInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	params := &stripe.InvoicePayParams{OffSession: stripe.Bool(true)}
	params.Context = ctx
	inv, err := s.api.Invoices.Pay(invoiceID, params)
	if err != nil {
		return Invoice{}, wrapStripeError(err)
	}
	return toInvoice(inv), nil
}

func (s *StripeClient) ConstructEvent(payload []byte, signatureHeader string) (Event, error) {
	return VerifyEvent(payload, signatureHeader, s.webhookSecret)
}

// VerifyEvent checks the v1 signature header against secret and decodes the envelope.
func VerifyEvent(payload []byte, signatureHeader, secret string) (Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return Event{}, ErrInvalidSignature
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := Event{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Created: unixOrZero(ev.Created),
	}
	if ev.Data != nil {
		out.Object = ev.Data.Raw
	}
	return out, nil
}

// ==========================
// mapping
// ==========================

func toSetupIntent(si *stripe.SetupIntent) SetupIntent {
	out := SetupIntent{
		ID:           si.ID,
		ClientSecret: si.ClientSecret,
		Status:       string(si.Status),
		Metadata:     si.Metadata,
	}
	if si.Customer != nil {
		out.CustomerID = si.Customer.ID
	}
	if si.PaymentMethod != nil {
		out.PaymentMethodID = si.PaymentMethod.ID
	}
	if si.NextAction != nil {
		out.NextActionType = string(si.NextAction.Type)
	}
	return out
}

func toSubscription(sub *stripe.Subscription) Subscription {
	out := Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	// Billing periods live on the items since the 2025-03-31 API version.
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		it := sub.Items.Data[0]
		out.CurrentPeriodStart = unixOrZero(it.CurrentPeriodStart)
		out.CurrentPeriodEnd = unixOrZero(it.CurrentPeriodEnd)
	}
	return out
}

func toInvoice(inv *stripe.Invoice) Invoice {
	out := Invoice{
		ID:           inv.ID,
		Status:       string(inv.Status),
		AmountPaid:   inv.AmountPaid,
		AmountDue:    inv.AmountDue,
		AttemptCount: inv.AttemptCount,
		HostedURL:    inv.HostedInvoiceURL,
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	if inv.StatusTransitions != nil {
		out.PaidAt = unixOrZero(inv.StatusTransitions.PaidAt)
	}
	if out.PaidAt.IsZero() {
		out.PaidAt = unixOrZero(inv.Created)
	}
	if inv.NextPaymentAttempt > 0 {
		t := unixOrZero(inv.NextPaymentAttempt)
		out.NextPaymentAttempt = &t
	}
	return out
}

func wrapStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &Error{
			HTTPStatus: se.HTTPStatusCode,
			Type:       string(se.Type),
			Code:       string(se.Code),
			Message:    se.Msg,
		}
	}
	return fmt.Errorf("processor request: %w", err)
}

func optString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return stripe.String(s)
}
