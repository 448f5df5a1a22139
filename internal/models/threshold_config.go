package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrThresholdOrder is returned when a threshold write would break the
// ordering invariant minimum <= auto_collect <= priority.
var ErrThresholdOrder = errors.New("threshold ordering violated: minimum <= auto_collect <= priority required")

// ThresholdConfig holds the three relevance thresholds as a versioned record.
// Reads resolve the highest version; writes append a new version after
// validation, so a rejected write retains the prior configuration.
type ThresholdConfig struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Version int    `gorm:"not null;index" json:"version"`

	MinimumScore     decimal.Decimal `gorm:"type:numeric(6,2);not null" json:"minimum_score"`
	AutoCollectScore decimal.Decimal `gorm:"type:numeric(6,2);not null" json:"auto_collect_score"`
	PriorityScore    decimal.Decimal `gorm:"type:numeric(6,2);not null" json:"priority_score"`

	UpdatedBy string    `gorm:"type:varchar(100)" json:"updated_by"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
}

func (ThresholdConfig) TableName() string {
	return "threshold_configs"
}

func (t ThresholdConfig) Validate() error {
	hundred := decimal.NewFromInt(100)
	if t.MinimumScore.IsNegative() || t.PriorityScore.GreaterThan(hundred) {
		return ErrThresholdOrder
	}
	if t.MinimumScore.GreaterThan(t.AutoCollectScore) {
		return ErrThresholdOrder
	}
	if t.AutoCollectScore.GreaterThan(t.PriorityScore) {
		return ErrThresholdOrder
	}
	return nil
}

// DefaultThresholds seeds a fresh installation.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		Version:          1,
		MinimumScore:     decimal.NewFromInt(60),
		AutoCollectScore: decimal.NewFromInt(75),
		PriorityScore:    decimal.NewFromInt(85),
		UpdatedBy:        "seed",
	}
}
