package dto

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"tuitionpay_backend/internals/features/webhooks/model"
)

type WebhookEventResponse struct {
	ID          uuid.UUID      `json:"id"`
	EventID     string         `json:"event_id"`
	Type        string         `json:"type"`
	ObjectID    *string        `json:"object_id,omitempty"`
	Status      string         `json:"status"`
	Outcome     *string        `json:"outcome,omitempty"`
	Error       *string        `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	ReceivedAt  time.Time      `json:"received_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	Payload     datatypes.JSON `json:"payload,omitempty"`
}

// FromWebhookEventModel omits the raw payload unless withPayload is set.
func FromWebhookEventModel(m model.WebhookEventModel, withPayload bool) WebhookEventResponse {
	out := WebhookEventResponse{
		ID:          m.WebhookEventID,
		EventID:     m.WebhookEventExternalID,
		Type:        m.WebhookEventType,
		ObjectID:    m.WebhookEventObjectID,
		Status:      string(m.WebhookEventStatus),
		Outcome:     m.WebhookEventOutcome,
		Error:       m.WebhookEventError,
		Attempts:    m.WebhookEventAttempts,
		ReceivedAt:  m.WebhookEventReceivedAt,
		ProcessedAt: m.WebhookEventProcessedAt,
	}
	if withPayload {
		out.Payload = m.WebhookEventPayload
	}
	return out
}
