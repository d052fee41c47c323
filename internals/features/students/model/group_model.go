package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BatchModel is a cohort label. Only the name uniqueness matters.
type BatchModel struct {
	BatchID          uuid.UUID `gorm:"column:batch_id;type:uuid;primaryKey" json:"batch_id"`
	BatchName        string    `gorm:"column:batch_name;type:varchar(120);not null;uniqueIndex" json:"batch_name"`
	BatchDescription *string   `gorm:"column:batch_description;type:text" json:"batch_description,omitempty"`
	BatchCreatedAt   time.Time `gorm:"column:batch_created_at;autoCreateTime" json:"batch_created_at"`
}

func (BatchModel) TableName() string { return "batches" }

func (m *BatchModel) BeforeCreate(tx *gorm.DB) error {
	if m.BatchID == uuid.Nil {
		m.BatchID = uuid.New()
	}
	return nil
}

// SiblingGroupModel never persists with fewer than two members; membership
// lives on students.student_sibling_group_id.
type SiblingGroupModel struct {
	SiblingGroupID        uuid.UUID `gorm:"column:sibling_group_id;type:uuid;primaryKey" json:"sibling_group_id"`
	SiblingGroupName      *string   `gorm:"column:sibling_group_name;type:varchar(120)" json:"sibling_group_name,omitempty"`
	SiblingGroupCreatedAt time.Time `gorm:"column:sibling_group_created_at;autoCreateTime" json:"sibling_group_created_at"`
}

func (SiblingGroupModel) TableName() string { return "sibling_groups" }

func (m *SiblingGroupModel) BeforeCreate(tx *gorm.DB) error {
	if m.SiblingGroupID == uuid.Nil {
		m.SiblingGroupID = uuid.New()
	}
	return nil
}

const MinSiblingGroupSize = 2
