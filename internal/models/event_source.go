package models

import (
	"time"

	"gorm.io/datatypes"
)

// EventSource stores adapter configuration and last-known health, one row per
// registered collector (pattern scanner, firehose, webhook receiver).
type EventSource struct {
	ID           uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string         `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	SourceType   string         `gorm:"type:varchar(30);not null" json:"source_type"`
	Endpoint     string         `gorm:"type:varchar(500)" json:"endpoint"`
	PollInterval string         `gorm:"type:varchar(20)" json:"poll_interval"`
	Enabled      bool           `gorm:"default:true" json:"enabled"`
	LastPollAt   *time.Time     `gorm:"type:timestamptz" json:"last_poll_at"`
	LastError    *string        `gorm:"type:text" json:"last_error"`
	HealthStatus string         `gorm:"type:varchar(20);default:'unknown'" json:"health_status"`
	Config       datatypes.JSON `gorm:"type:jsonb" json:"config"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (EventSource) TableName() string {
	return "event_sources"
}
