package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// DiscoveryPattern drives the pattern scanner and the rule half of scoring.
// Patterns are soft-deactivated (IsActive=false), never deleted, so history
// rows referencing them stay resolvable.
type DiscoveryPattern struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`

	IncludeKeywords datatypes.JSON `gorm:"type:jsonb" json:"include_keywords"`
	ExcludeKeywords datatypes.JSON `gorm:"type:jsonb" json:"exclude_keywords"`
	Languages       datatypes.JSON `gorm:"type:jsonb" json:"languages"`

	MinStars   int `gorm:"default:0" json:"min_stars"`
	MaxAgeDays int `gorm:"default:0" json:"max_age_days"`

	RelevanceThreshold decimal.Decimal `gorm:"type:numeric(6,2);not null" json:"relevance_threshold"`
	AutoCollect        bool            `gorm:"default:false" json:"auto_collect"`
	IsActive           bool            `gorm:"default:true;index" json:"is_active"`

	TotalMatches  int64      `gorm:"default:0" json:"total_matches"`
	LastMatchedAt *time.Time `gorm:"type:timestamptz" json:"last_matched_at"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (DiscoveryPattern) TableName() string {
	return "discovery_patterns"
}

func (p DiscoveryPattern) IncludeList() []string {
	return decodeStrings(p.IncludeKeywords)
}

func (p DiscoveryPattern) ExcludeList() []string {
	return decodeStrings(p.ExcludeKeywords)
}

func (p DiscoveryPattern) LanguageList() []string {
	return decodeStrings(p.Languages)
}

func decodeStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

// EncodeStrings is the write-side counterpart used by handlers and seeds.
func EncodeStrings(items []string) datatypes.JSON {
	if items == nil {
		items = []string{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return datatypes.JSON([]byte(`[]`))
	}
	return datatypes.JSON(raw)
}
