package models

import (
	"time"

	"gorm.io/datatypes"
)

// SystemSetting stores operator-configurable settings in DB. Switches guarding
// periodic work (cron jobs, the pattern scan) are consulted on every run and
// take effect without a restart; switches guarding boot-wired subsystems
// (firehose, worker pool) are read at startup and apply on the next restart.
type SystemSetting struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	Key string `gorm:"type:varchar(120);not null;uniqueIndex" json:"key"`

	// JSON value, e.g. true/false for switches, or object for richer settings.
	Value datatypes.JSON `gorm:"type:jsonb;not null" json:"value"`

	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;autoUpdateTime;index" json:"updated_at"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}
