package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	DecisionRejected  = "rejected"
	DecisionAdmitted  = "admitted"
	DecisionDuplicate = "duplicate"
)

// DiscoveryEvent is the audit row written for every scored candidate,
// regardless of outcome. Dashboards read these for the discovery feed.
type DiscoveryEvent struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	SourceURL string `gorm:"type:varchar(500);not null;index" json:"source_url"`
	Origin    string `gorm:"type:varchar(20);not null;index" json:"origin"`

	PatternID *uint64 `gorm:"index" json:"pattern_id"`

	Score           decimal.Decimal `gorm:"type:numeric(6,2);not null" json:"score"`
	MatchedCriteria datatypes.JSON  `gorm:"type:jsonb" json:"matched_criteria"`
	ModelConfidence *float64        `json:"model_confidence"`

	Decision string  `gorm:"type:varchar(20);not null;index" json:"decision"`
	JobID    *uint64 `gorm:"index" json:"job_id"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
}

func (DiscoveryEvent) TableName() string {
	return "discovery_events"
}
