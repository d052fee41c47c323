package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tuitionpay_backend/internals/features/webhooks/model"
	"tuitionpay_backend/internals/kvstore"
	"tuitionpay_backend/internals/processor"
)

type Status string

const (
	StatusProcessed Status = "processed"
	StatusDuplicate Status = "duplicate"
	StatusIgnored   Status = "ignored"
)

type Result struct {
	EventID string  `json:"event_id"`
	Type    string  `json:"type"`
	Status  Status  `json:"status"`
	Outcome Outcome `json:"outcome,omitempty"`
}

// Ingress verifies, de-duplicates and dispatches processor webhooks.
//
// An event is marked processed in the KV store only after its handler
// succeeded, so a crash mid-handler leads to redelivery rather than loss.
// Handlers are idempotent on their own, which covers the window between the
// handler commit and the marker write.
type Ingress struct {
	DB        *gorm.DB
	KV        kvstore.Store
	Processor processor.Client
	Handlers  *Handlers
	Log       *zap.Logger
	Now       func() time.Time
}

func NewIngress(db *gorm.DB, kv kvstore.Store, proc processor.Client, handlers *Handlers, log *zap.Logger) *Ingress {
	return &Ingress{
		DB:        db,
		KV:        kv,
		Processor: proc,
		Handlers:  handlers,
		Log:       log,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (in *Ingress) Receive(ctx context.Context, payload []byte, signature string) (*Result, error) {
	ev, err := in.Processor.ConstructEvent(payload, signature)
	if err != nil {
		in.Log.Warn("webhook signature rejected", zap.Error(err))
		return nil, err
	}
	res := &Result{EventID: ev.ID, Type: ev.Type}
	log := in.Log.With(zap.String("event_id", ev.ID), zap.String("type", ev.Type))

	done, err := kvstore.Exists(ctx, in.KV, kvstore.WebhookEventKey(ev.ID))
	if err != nil {
		return nil, err
	}
	row := in.record(ctx, ev, payload)
	if done || (row != nil && row.WebhookEventStatus == model.WebhookEventProcessed) {
		log.Info("duplicate webhook acknowledged")
		res.Status = StatusDuplicate
		return res, nil
	}

	decoded, err := Decode(ev)
	if errors.Is(err, ErrUnsupportedEvent) {
		log.Debug("webhook type ignored")
		in.finish(ctx, ev.ID, model.WebhookEventIgnored, "", nil)
		in.markProcessed(ctx, ev.ID)
		res.Status = StatusIgnored
		return res, nil
	}
	if err != nil {
		log.Warn("malformed webhook", zap.Error(err))
		in.finish(ctx, ev.ID, model.WebhookEventFailed, "", err)
		return nil, err
	}

	outcome, err := in.Handlers.Handle(ctx, decoded)
	if err != nil {
		log.Error("webhook handler failed", zap.Error(err))
		in.finish(ctx, ev.ID, model.WebhookEventFailed, "", err)
		return nil, err
	}

	in.finish(ctx, ev.ID, model.WebhookEventProcessed, outcome, nil)
	in.markProcessed(ctx, ev.ID)
	log.Info("webhook processed", zap.String("outcome", string(outcome)))
	res.Status = StatusProcessed
	res.Outcome = outcome
	return res, nil
}

func (in *Ingress) markProcessed(ctx context.Context, eventID string) {
	// handlers stay idempotent, so a lost marker only costs a replay
	if err := in.KV.Set(ctx, kvstore.WebhookEventKey(eventID), in.Now().Format(time.RFC3339), kvstore.WebhookEventTTL); err != nil {
		in.Log.Warn("could not mark webhook processed", zap.String("event_id", eventID), zap.Error(err))
	}
}

// record upserts the ledger row and bumps its attempt counter. The ledger is
// an audit trail; failing to write it never fails the delivery.
func (in *Ingress) record(ctx context.Context, ev processor.Event, payload []byte) *model.WebhookEventModel {
	row := model.WebhookEventModel{
		WebhookEventProvider:   "stripe",
		WebhookEventExternalID: ev.ID,
		WebhookEventType:       ev.Type,
		WebhookEventPayload:    datatypes.JSON(payload),
		WebhookEventStatus:     model.WebhookEventReceived,
		WebhookEventAttempts:   1,
		WebhookEventReceivedAt: in.Now(),
	}
	if id := ObjectID(ev); id != "" {
		row.WebhookEventObjectID = &id
	}
	if !ev.Created.IsZero() {
		created := ev.Created
		row.WebhookEventCreatedAtProcessor = &created
	}

	db := in.DB.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "webhook_event_external_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"webhook_event_attempts":   gorm.Expr("webhook_events.webhook_event_attempts + 1"),
			"webhook_event_updated_at": in.Now(),
		}),
	}).Create(&row).Error
	if err != nil {
		in.Log.Warn("webhook ledger write failed", zap.String("event_id", ev.ID), zap.Error(err))
		return nil
	}

	var stored model.WebhookEventModel
	if err := db.First(&stored, "webhook_event_external_id = ?", ev.ID).Error; err != nil {
		return nil
	}
	return &stored
}

func (in *Ingress) finish(ctx context.Context, eventID string, status model.WebhookEventStatus, outcome Outcome, cause error) {
	updates := map[string]any{"webhook_event_status": status}
	if outcome != "" {
		updates["webhook_event_outcome"] = string(outcome)
	}
	if cause != nil {
		updates["webhook_event_error"] = cause.Error()
	} else {
		updates["webhook_event_error"] = nil
	}
	if status == model.WebhookEventProcessed || status == model.WebhookEventIgnored {
		updates["webhook_event_processed_at"] = in.Now()
	}
	if err := in.DB.WithContext(ctx).Model(&model.WebhookEventModel{}).
		Where("webhook_event_external_id = ?", eventID).
		Updates(updates).Error; err != nil {
		in.Log.Warn("webhook ledger update failed", zap.String("event_id", eventID), zap.Error(err))
	}
}
