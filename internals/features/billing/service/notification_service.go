package service

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"tuitionpay_backend/internals/kvstore"
)

type NotificationKind string

const (
	NotificationSucceeded NotificationKind = "succeeded"
	NotificationFailed    NotificationKind = "failed"
)

// Notification is an admin-facing, transient record. Not a system of record.
type Notification struct {
	EventID        string           `json:"event_id"`
	Kind           NotificationKind `json:"type"`
	SubscriptionID string           `json:"subscription_id"`
	InvoiceID      string           `json:"invoice_id,omitempty"`
	CustomerID     string           `json:"customer_id,omitempty"`
	AmountCents    int64            `json:"amount_cents"`
	Attempt        int              `json:"attempt,omitempty"`
	MaxAttempts    int              `json:"max_attempts,omitempty"`
	NextAttemptAt  *time.Time       `json:"next_attempt_at,omitempty"`
	Message        string           `json:"message"`
	CreatedAt      time.Time        `json:"created_at"`
}

type Notifier struct {
	KV  kvstore.Store
	Log *zap.Logger
}

func NewNotifier(kv kvstore.Store, log *zap.Logger) *Notifier {
	return &Notifier{KV: kv, Log: log}
}

// Push appends n once per event id. A replayed event is silently dropped.
func (n *Notifier) Push(ctx context.Context, note Notification) error {
	if note.EventID != "" {
		first, err := n.KV.SetNX(ctx, kvstore.NotifiedKey(note.EventID), "1", kvstore.NotificationTTL)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	raw, err := sonic.MarshalString(note)
	if err != nil {
		return err
	}
	return n.KV.LPush(ctx, kvstore.NotificationsKey, raw, kvstore.NotificationCap, kvstore.NotificationTTL)
}

// List returns the newest notifications first, at most limit of them.
func (n *Notifier) List(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 || limit > kvstore.NotificationCap {
		limit = kvstore.NotificationCap
	}
	raws, err := n.KV.LRange(ctx, kvstore.NotificationsKey, 0, int64(limit-1))
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(raws))
	for _, raw := range raws {
		var note Notification
		if err := sonic.UnmarshalString(raw, &note); err != nil {
			n.Log.Warn("skipping malformed notification", zap.Error(err))
			continue
		}
		out = append(out, note)
	}
	return out, nil
}

func (n *Notifier) Clear(ctx context.Context) error {
	return n.KV.Del(ctx, kvstore.NotificationsKey)
}
