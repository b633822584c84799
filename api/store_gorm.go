package api

import (
	"context"
	"fmt"

	"github.com/ericfitz/collabd/api/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists presence and edit operations through GORM
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store over db
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Name implements Store
func (s *GormStore) Name() string { return "gorm:" + s.db.Name() }

// UpsertPresence inserts or replaces the presence row for the user
func (s *GormStore) UpsertPresence(ctx context.Context, presence *models.UserPresence) error {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "last_seen", "current_element", "updated_at"}),
	}).Create(presence)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert presence for %s: %w", presence.UserID, result.Error)
	}
	return nil
}

// InsertEditOperation appends an edit operation row
func (s *GormStore) InsertEditOperation(ctx context.Context, op *models.EditOperation) error {
	if err := s.db.WithContext(ctx).Create(op).Error; err != nil {
		return fmt.Errorf("failed to insert edit operation %s: %w", op.ID, err)
	}
	return nil
}

// Ping implements Store
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
