package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const watermarkKeyPrefix = "last_sync_at:"

type SyncSetting struct {
	Key       string    `gorm:"primaryKey;size:191" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func watermarkKey(tenant string) string {
	return watermarkKeyPrefix + tenant
}

// GetWatermark returns the start time of tenant's last fully successful cycle.
// The zero time means no cycle has succeeded yet (full resync).
func (s *Store) GetWatermark(ctx context.Context, tenant string) (time.Time, error) {
	var setting SyncSetting
	err := s.db.WithContext(ctx).Where(&SyncSetting{Key: watermarkKey(tenant)}).Take(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	if setting.Value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, setting.Value)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func (s *Store) SetWatermark(ctx context.Context, tenant string, at time.Time) error {
	setting := SyncSetting{
		Key:   watermarkKey(tenant),
		Value: at.UTC().Format(time.RFC3339Nano),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
}
