package models

import (
	"time"

	"gorm.io/datatypes"
)

// ScanState is the scanner resume cursor, one row per pattern scope
// ("pattern:<id>"), so restarts continue where the last scan stopped.
type ScanState struct {
	Scope         string         `gorm:"primaryKey;type:text" json:"scope"`
	Cursor        *string        `gorm:"type:text" json:"cursor"`
	WatermarkTS   *time.Time     `gorm:"type:timestamptz" json:"watermark_ts"`
	LastSuccessAt *time.Time     `gorm:"type:timestamptz" json:"last_success_at"`
	LastAttemptAt *time.Time     `gorm:"type:timestamptz" json:"last_attempt_at"`
	LastError     *string        `gorm:"type:text" json:"last_error"`
	StatsJSON     datatypes.JSON `gorm:"type:jsonb" json:"stats"`
}

func (ScanState) TableName() string {
	return "scan_state"
}
