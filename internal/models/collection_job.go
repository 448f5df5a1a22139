package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const MaxJobRetries = 1

// CollectionJob tracks one admitted source through enrichment. The normalized
// SourceURL is the dedup key: at most one non-terminal job may exist per URL.
type CollectionJob struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	SourceURL string `gorm:"type:varchar(500);not null;index" json:"source_url"`

	Status   string `gorm:"type:varchar(20);not null;index;default:'pending'" json:"status"`
	Priority string `gorm:"type:varchar(10);not null;index;default:'normal'" json:"priority"`
	Origin   string `gorm:"type:varchar(20);not null;index" json:"origin"`

	// AutoDispatch marks jobs at or above the auto-collect threshold. Jobs
	// below it are recorded for manual review and only run after an operator
	// promotes them.
	AutoDispatch bool `gorm:"default:false;index" json:"auto_dispatch"`

	Score     decimal.Decimal `gorm:"type:numeric(6,2);not null" json:"score"`
	PatternID *uint64         `gorm:"index" json:"pattern_id"`

	Progress   int `gorm:"default:0" json:"progress"`
	RetryCount int `gorm:"default:0" json:"retry_count"`

	Metadata      datatypes.JSON `gorm:"type:jsonb" json:"metadata"`
	Insights      datatypes.JSON `gorm:"type:jsonb" json:"insights"`
	FailureReason *string        `gorm:"type:text" json:"failure_reason"`

	CreatedAt   time.Time  `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
	CompletedAt *time.Time `gorm:"type:timestamptz" json:"completed_at"`
}

func (CollectionJob) TableName() string {
	return "collection_jobs"
}

func (j *CollectionJob) Terminal() bool {
	if j == nil {
		return false
	}
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// NonTerminalStatuses is the dedup scope: a URL with a job in one of these
// states cannot be admitted again.
func NonTerminalStatuses() []string {
	return []string{JobStatusPending, JobStatusProcessing}
}
