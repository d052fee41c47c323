package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	billingService "tuitionpay_backend/internals/features/billing/service"
	enrollmentService "tuitionpay_backend/internals/features/enrollment/service"
)

// Outcome is what a handler did with an event; it is logged and stored on the
// ledger row, never used for control flow by callers.
type Outcome string

const (
	OutcomeApplied             Outcome = "applied"
	OutcomeNoop                Outcome = "noop"
	OutcomeUnknownSubscription Outcome = "unknown_subscription"
	OutcomeUnknownEnrollment   Outcome = "unknown_enrollment"
	OutcomeAlreadyEnrolled     Outcome = "already_enrolled"
)

type Handlers struct {
	Enrollments   *enrollmentService.EnrollmentService
	Subscriptions *billingService.SubscriptionService
	Log           *zap.Logger
}

func NewHandlers(enrollments *enrollmentService.EnrollmentService, subs *billingService.SubscriptionService, log *zap.Logger) *Handlers {
	return &Handlers{Enrollments: enrollments, Subscriptions: subs, Log: log}
}

// Handle dispatches one decoded variant. A returned error means the event
// should be redelivered.
func (h *Handlers) Handle(ctx context.Context, event any) (Outcome, error) {
	switch ev := event.(type) {
	case SetupIntentEvent:
		return h.setupIntent(ctx, ev)
	case InvoiceEvent:
		return h.invoice(ctx, ev)
	case SubscriptionEvent:
		return h.subscription(ctx, ev)
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedEvent, event)
}

func (h *Handlers) setupIntent(ctx context.Context, ev SetupIntentEvent) (Outcome, error) {
	var err error
	switch ev.Type {
	case TypeSetupIntentRequiresAction:
		err = h.Enrollments.MarkPendingVerification(ctx, ev.SetupIntent.ID)
	case TypeSetupIntentSucceeded:
		_, _, err = h.Enrollments.CompleteSetup(ctx, ev.SetupIntent)
	case TypeSetupIntentSetupFailed:
		err = h.Enrollments.MarkSetupFailed(ctx, ev.SetupIntent.ID, ev.LastError)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedEvent, ev.Type)
	}
	if errors.Is(err, enrollmentService.ErrEnrollmentNotFound) {
		// setup intents created outside this portal
		h.Log.Warn("setup intent has no enrollment",
			zap.String("event_id", ev.EventID),
			zap.String("setup_intent_id", ev.SetupIntent.ID))
		return OutcomeUnknownEnrollment, nil
	}
	if errors.Is(err, enrollmentService.ErrStudentsAlreadyEnrolled) {
		// the enrollment was failed and its subscription canceled
		return OutcomeAlreadyEnrolled, nil
	}
	if err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

func (h *Handlers) invoice(ctx context.Context, ev InvoiceEvent) (Outcome, error) {
	if ev.Invoice.SubscriptionID == "" {
		h.Log.Info("invoice is not tied to a subscription",
			zap.String("event_id", ev.EventID), zap.String("invoice_id", ev.Invoice.ID))
		return OutcomeNoop, nil
	}

	var (
		outcome = OutcomeApplied
		err     error
	)
	switch ev.Type {
	case TypeInvoicePaymentSucceeded, TypeInvoicePaid:
		var res billingService.PaymentResult
		res, err = h.Subscriptions.ApplyPaymentSucceeded(ctx, ev.EventID, ev.Invoice)
		if err == nil && res.RowsCreated == 0 {
			outcome = OutcomeNoop
		}
	case TypeInvoicePaymentFailed:
		var res billingService.FailureResult
		res, err = h.Subscriptions.ApplyPaymentFailed(ctx, ev.EventID, ev.Invoice, ev.FailureReason, ev.CreatedAt)
		if err == nil && (res.Outcome == billingService.FailureDuplicate || res.Outcome == billingService.FailureStale) {
			outcome = OutcomeNoop
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedEvent, ev.Type)
	}
	return h.subscriptionResult(ev.Meta, ev.Invoice.SubscriptionID, outcome, err)
}

func (h *Handlers) subscription(ctx context.Context, ev SubscriptionEvent) (Outcome, error) {
	var (
		changed bool
		err     error
	)
	switch ev.Type {
	case TypeSubscriptionDeleted:
		changed, err = h.Subscriptions.MarkCanceled(ctx, ev.Subscription.ID)
	case TypeSubscriptionCreated, TypeSubscriptionUpdated:
		changed, err = h.Subscriptions.MirrorProcessorSubscription(ctx, ev.Subscription)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedEvent, ev.Type)
	}
	outcome := OutcomeApplied
	if !changed {
		outcome = OutcomeNoop
	}
	return h.subscriptionResult(ev.Meta, ev.Subscription.ID, outcome, err)
}

// subscriptionResult acknowledges events for subscriptions this service does
// not know, e.g. ones created in the processor dashboard.
func (h *Handlers) subscriptionResult(meta Meta, subscriptionID string, outcome Outcome, err error) (Outcome, error) {
	if errors.Is(err, billingService.ErrSubscriptionNotFound) {
		h.Log.Warn("event for unknown subscription",
			zap.String("event_id", meta.EventID),
			zap.String("type", meta.Type),
			zap.String("subscription_id", subscriptionID))
		return OutcomeUnknownSubscription, nil
	}
	if err != nil {
		return "", err
	}
	return outcome, nil
}
