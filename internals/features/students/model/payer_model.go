package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PayerModel is the guardian (or adult student) billed for one or more students.
type PayerModel struct {
	PayerID uuid.UUID `gorm:"column:payer_id;type:uuid;primaryKey" json:"payer_id"`

	PayerFirstName    string  `gorm:"column:payer_first_name;type:varchar(120);not null" json:"payer_first_name"`
	PayerLastName     string  `gorm:"column:payer_last_name;type:varchar(120);not null" json:"payer_last_name"`
	PayerEmail        string  `gorm:"column:payer_email;type:varchar(200);not null;index" json:"payer_email"`
	PayerPhone        *string `gorm:"column:payer_phone;type:varchar(40)" json:"payer_phone,omitempty"`
	PayerRelationship string  `gorm:"column:payer_relationship;type:varchar(40);not null;default:'guardian'" json:"payer_relationship"`

	PayerCustomerID *string `gorm:"column:payer_customer_id;type:varchar(100);uniqueIndex" json:"payer_customer_id,omitempty"`

	PayerCreatedAt time.Time `gorm:"column:payer_created_at;autoCreateTime" json:"payer_created_at"`
	PayerUpdatedAt time.Time `gorm:"column:payer_updated_at;autoUpdateTime" json:"payer_updated_at"`
}

func (PayerModel) TableName() string { return "payers" }

func (m *PayerModel) BeforeCreate(tx *gorm.DB) error {
	if m.PayerID == uuid.Nil {
		m.PayerID = uuid.New()
	}
	return nil
}

func (m PayerModel) FullName() string {
	return m.PayerFirstName + " " + m.PayerLastName
}
