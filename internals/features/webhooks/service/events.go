package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"tuitionpay_backend/internals/processor"
)

// Event types this service reacts to. Everything else is acknowledged and ignored.
const (
	TypeSetupIntentRequiresAction = "setup_intent.requires_action"
	TypeSetupIntentSucceeded      = "setup_intent.succeeded"
	TypeSetupIntentSetupFailed    = "setup_intent.setup_failed"
	TypeInvoicePaymentSucceeded   = "invoice.payment_succeeded"
	TypeInvoicePaid               = "invoice.paid"
	TypeInvoicePaymentFailed      = "invoice.payment_failed"
	TypeSubscriptionCreated       = "customer.subscription.created"
	TypeSubscriptionUpdated       = "customer.subscription.updated"
	TypeSubscriptionDeleted       = "customer.subscription.deleted"
)

var (
	ErrUnsupportedEvent = errors.New("unsupported event type")
	ErrMalformedEvent   = errors.New("malformed event payload")
)

// Meta is shared by every decoded variant.
type Meta struct {
	EventID   string
	Type      string
	CreatedAt time.Time
}

type SetupIntentEvent struct {
	Meta
	SetupIntent processor.SetupIntent
	LastError   string
}

type InvoiceEvent struct {
	Meta
	Invoice       processor.Invoice
	FailureReason string
}

type SubscriptionEvent struct {
	Meta
	Subscription processor.Subscription
}

// Decode validates a verified event and returns one of the variants above.
// Unknown types yield ErrUnsupportedEvent; missing ids yield ErrMalformedEvent.
func Decode(ev processor.Event) (any, error) {
	meta := Meta{EventID: ev.ID, Type: ev.Type, CreatedAt: ev.Created}
	if ev.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}

	switch ev.Type {
	case TypeSetupIntentRequiresAction, TypeSetupIntentSucceeded, TypeSetupIntentSetupFailed:
		var obj setupIntentObject
		if err := unmarshal(ev, &obj); err != nil {
			return nil, err
		}
		if obj.ID == "" {
			return nil, fmt.Errorf("%w: setup intent without id", ErrMalformedEvent)
		}
		return SetupIntentEvent{Meta: meta, SetupIntent: obj.toProcessor(), LastError: obj.lastError()}, nil

	case TypeInvoicePaymentSucceeded, TypeInvoicePaid, TypeInvoicePaymentFailed:
		var obj invoiceObject
		if err := unmarshal(ev, &obj); err != nil {
			return nil, err
		}
		if obj.ID == "" {
			return nil, fmt.Errorf("%w: invoice without id", ErrMalformedEvent)
		}
		return InvoiceEvent{Meta: meta, Invoice: obj.toProcessor(), FailureReason: obj.failureReason()}, nil

	case TypeSubscriptionCreated, TypeSubscriptionUpdated, TypeSubscriptionDeleted:
		var obj subscriptionObject
		if err := unmarshal(ev, &obj); err != nil {
			return nil, err
		}
		if obj.ID == "" || obj.Status == "" {
			return nil, fmt.Errorf("%w: subscription without id or status", ErrMalformedEvent)
		}
		return SubscriptionEvent{Meta: meta, Subscription: obj.toProcessor()}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, ev.Type)
}

// ObjectID pulls data.object.id for the event ledger; empty when absent.
func ObjectID(ev processor.Event) string {
	var obj struct {
		ID string `json:"id"`
	}
	if len(ev.Object) == 0 || sonic.Unmarshal(ev.Object, &obj) != nil {
		return ""
	}
	return obj.ID
}

func unmarshal(ev processor.Event, dst any) error {
	if len(ev.Object) == 0 {
		return fmt.Errorf("%w: empty data.object", ErrMalformedEvent)
	}
	if err := sonic.Unmarshal(ev.Object, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// ======================
// wire shapes
// ======================

// expandable accepts either an id string or an expanded object with an id.
type expandable string

func (e *expandable) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*e = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := sonic.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandable(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := sonic.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandable(obj.ID)
	return nil
}

type errorObject struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type setupIntentObject struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	Customer       expandable        `json:"customer"`
	PaymentMethod  expandable        `json:"payment_method"`
	Metadata       map[string]string `json:"metadata"`
	LastSetupError *errorObject      `json:"last_setup_error"`
	NextAction     *struct {
		Type string `json:"type"`
	} `json:"next_action"`
}

func (o setupIntentObject) toProcessor() processor.SetupIntent {
	si := processor.SetupIntent{
		ID:              o.ID,
		Status:          o.Status,
		CustomerID:      string(o.Customer),
		PaymentMethodID: string(o.PaymentMethod),
		Metadata:        o.Metadata,
	}
	if o.NextAction != nil {
		si.NextActionType = o.NextAction.Type
	}
	return si
}

func (o setupIntentObject) lastError() string {
	if o.LastSetupError == nil {
		return "bank account setup failed"
	}
	if o.LastSetupError.Message != "" {
		return o.LastSetupError.Message
	}
	return o.LastSetupError.Code
}

type invoiceObject struct {
	ID                 string     `json:"id"`
	Status             string     `json:"status"`
	Customer           expandable `json:"customer"`
	Subscription       expandable `json:"subscription"`
	AmountPaid         int64      `json:"amount_paid"`
	AmountDue          int64      `json:"amount_due"`
	AttemptCount       int64      `json:"attempt_count"`
	Created            int64      `json:"created"`
	NextPaymentAttempt *int64     `json:"next_payment_attempt"`
	HostedInvoiceURL   string     `json:"hosted_invoice_url"`
	Parent             *struct {
		SubscriptionDetails *struct {
			Subscription expandable `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	StatusTransitions *struct {
		PaidAt *int64 `json:"paid_at"`
	} `json:"status_transitions"`
	LastFinalizationError *errorObject `json:"last_finalization_error"`
}

// subscriptionID reads the newer parent.subscription_details first and falls
// back to the legacy top-level field.
func (o invoiceObject) subscriptionID() string {
	if o.Parent != nil && o.Parent.SubscriptionDetails != nil && o.Parent.SubscriptionDetails.Subscription != "" {
		return string(o.Parent.SubscriptionDetails.Subscription)
	}
	return string(o.Subscription)
}

func (o invoiceObject) toProcessor() processor.Invoice {
	inv := processor.Invoice{
		ID:             o.ID,
		SubscriptionID: o.subscriptionID(),
		CustomerID:     string(o.Customer),
		Status:         o.Status,
		AmountPaid:     o.AmountPaid,
		AmountDue:      o.AmountDue,
		AttemptCount:   o.AttemptCount,
		HostedURL:      o.HostedInvoiceURL,
	}
	if o.StatusTransitions != nil && o.StatusTransitions.PaidAt != nil {
		inv.PaidAt = unixOrZero(*o.StatusTransitions.PaidAt)
	}
	if o.NextPaymentAttempt != nil && *o.NextPaymentAttempt > 0 {
		t := unixOrZero(*o.NextPaymentAttempt)
		inv.NextPaymentAttempt = &t
	}
	return inv
}

func (o invoiceObject) failureReason() string {
	if o.LastFinalizationError != nil && o.LastFinalizationError.Message != "" {
		return o.LastFinalizationError.Message
	}
	if o.AttemptCount > 0 {
		return fmt.Sprintf("invoice payment failed (processor attempt %d)", o.AttemptCount)
	}
	return "invoice payment failed"
}

type subscriptionObject struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	Customer           expandable        `json:"customer"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              *struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// Period boundaries moved from the subscription to its items in newer API
// versions; either location is accepted.
func (o subscriptionObject) toProcessor() processor.Subscription {
	start, end := o.CurrentPeriodStart, o.CurrentPeriodEnd
	if o.Items != nil && len(o.Items.Data) > 0 {
		if o.Items.Data[0].CurrentPeriodStart > 0 {
			start = o.Items.Data[0].CurrentPeriodStart
		}
		if o.Items.Data[0].CurrentPeriodEnd > 0 {
			end = o.Items.Data[0].CurrentPeriodEnd
		}
	}
	return processor.Subscription{
		ID:                 o.ID,
		CustomerID:         string(o.Customer),
		Status:             o.Status,
		CurrentPeriodStart: unixOrZero(start),
		CurrentPeriodEnd:   unixOrZero(end),
		CancelAtPeriodEnd:  o.CancelAtPeriodEnd,
		Metadata:           o.Metadata,
	}
}

func unixOrZero(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
