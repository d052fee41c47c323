package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type WebhookEventStatus string

const (
	WebhookEventReceived  WebhookEventStatus = "received"
	WebhookEventProcessed WebhookEventStatus = "processed"
	WebhookEventFailed    WebhookEventStatus = "failed"
	WebhookEventIgnored   WebhookEventStatus = "ignored"
)

/*
  webhook_events = durable log of processor deliveries
  - one row per event id; redeliveries bump the attempt counter
  - raw payload kept for debugging and manual replay
  - the KV marker decides idempotency, this table only records it
*/

type WebhookEventModel struct {
	WebhookEventID uuid.UUID `gorm:"column:webhook_event_id;type:uuid;primaryKey" json:"webhook_event_id"`

	WebhookEventProvider   string  `gorm:"column:webhook_event_provider;type:varchar(30);not null;default:'stripe'" json:"webhook_event_provider"`
	WebhookEventExternalID string  `gorm:"column:webhook_event_external_id;type:varchar(100);not null;uniqueIndex" json:"webhook_event_external_id"`
	WebhookEventType       string  `gorm:"column:webhook_event_type;type:varchar(80);not null;index" json:"webhook_event_type"`
	WebhookEventObjectID   *string `gorm:"column:webhook_event_object_id;type:varchar(100);index" json:"webhook_event_object_id,omitempty"`

	WebhookEventPayload datatypes.JSON `gorm:"column:webhook_event_payload;type:jsonb" json:"webhook_event_payload,omitempty"`

	WebhookEventStatus   WebhookEventStatus `gorm:"column:webhook_event_status;type:varchar(20);not null;default:'received';index" json:"webhook_event_status"`
	WebhookEventOutcome  *string            `gorm:"column:webhook_event_outcome;type:varchar(40)" json:"webhook_event_outcome,omitempty"`
	WebhookEventError    *string            `gorm:"column:webhook_event_error;type:text" json:"webhook_event_error,omitempty"`
	WebhookEventAttempts int                `gorm:"column:webhook_event_attempts;not null;default:0" json:"webhook_event_attempts"`

	WebhookEventCreatedAtProcessor *time.Time `gorm:"column:webhook_event_created_at_processor" json:"webhook_event_created_at_processor,omitempty"`
	WebhookEventReceivedAt         time.Time  `gorm:"column:webhook_event_received_at;not null" json:"webhook_event_received_at"`
	WebhookEventProcessedAt        *time.Time `gorm:"column:webhook_event_processed_at" json:"webhook_event_processed_at,omitempty"`
	WebhookEventUpdatedAt          time.Time  `gorm:"column:webhook_event_updated_at;autoUpdateTime" json:"webhook_event_updated_at"`
}

func (WebhookEventModel) TableName() string { return "webhook_events" }

func (m *WebhookEventModel) BeforeCreate(tx *gorm.DB) error {
	if m.WebhookEventID == uuid.Nil {
		m.WebhookEventID = uuid.New()
	}
	if m.WebhookEventReceivedAt.IsZero() {
		m.WebhookEventReceivedAt = time.Now().UTC()
	}
	return nil
}
