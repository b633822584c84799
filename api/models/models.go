// Package models defines the GORM rows written by the collaboration server.
// Both tables are write-mostly side effects of live collaboration.
package models

import (
	"time"

	"github.com/ericfitz/collabd/internal/uuidgen"
	"gorm.io/gorm"
)

// UserPresence is the last known presence of a user, one row per user ID
type UserPresence struct {
	UserID         string    `gorm:"column:user_id;primaryKey;type:varchar(255)"`
	Status         string    `gorm:"column:status;type:varchar(16);not null"`
	LastSeen       time.Time `gorm:"column:last_seen;not null"`
	CurrentElement *string   `gorm:"column:current_element"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

// TableName specifies the table name for UserPresence
func (UserPresence) TableName() string {
	return "user_presence"
}

// EditOperation is an append-only audit row for one relayed edit
type EditOperation struct {
	ID            string    `gorm:"column:id;primaryKey;type:varchar(36)"`
	UserID        string    `gorm:"column:user_id;type:varchar(255);not null;index"`
	EntityType    string    `gorm:"column:entity_type;type:varchar(64);not null;index:idx_edit_operations_entity"`
	EntityID      string    `gorm:"column:entity_id;type:varchar(255);not null;index:idx_edit_operations_entity"`
	OperationType string    `gorm:"column:operation_type;type:varchar(64);not null"`
	ElementID     *string   `gorm:"column:element_id"`
	OperationData JSONRaw   `gorm:"column:operation_data"`
	OccurredAt    time.Time `gorm:"column:occurred_at;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;autoCreateTime"`
}

// TableName specifies the table name for EditOperation
func (EditOperation) TableName() string {
	return "edit_operations"
}

// BeforeCreate assigns a time-ordered ID if none was set
func (e *EditOperation) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuidgen.MustNewForEntity(uuidgen.EntityTypeEditOperation).String()
	}
	return nil
}

// AllModels returns every model for auto-migration
func AllModels() []any {
	return []any{
		&UserPresence{},
		&EditOperation{},
	}
}
