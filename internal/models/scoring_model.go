package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ModelStatusTraining = "training"
	ModelStatusReady    = "ready"
	ModelStatusError    = "error"
)

// ScoringModel is one trained model version in the registry. At most one row
// may be active at a time; promotion demotes the old row and promotes the new
// one inside a single transaction.
type ScoringModel struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Version string `gorm:"type:varchar(50);uniqueIndex;not null" json:"version"`

	Status   string `gorm:"type:varchar(20);not null;default:'training';index" json:"status"`
	IsActive bool   `gorm:"default:false;index" json:"is_active"`

	// Performance percentages from the last evaluation run.
	Accuracy  float64 `gorm:"default:0" json:"accuracy"`
	Precision float64 `gorm:"default:0" json:"precision"`
	Recall    float64 `gorm:"default:0" json:"recall"`
	F1        float64 `gorm:"default:0" json:"f1"`

	TrainingSampleCount int `gorm:"default:0" json:"training_sample_count"`

	// Weights is the serialized parameter set consumed by the predictor.
	Weights datatypes.JSON `gorm:"type:jsonb" json:"weights"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (ScoringModel) TableName() string {
	return "scoring_models"
}

func (m *ScoringModel) Usable() bool {
	return m != nil && m.IsActive && m.Status == ModelStatusReady
}
