package models

import "github.com/shopspring/decimal"

const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PrioritySkip   = "skip"
)

// RelevanceVerdict is the scorer output for one CandidateEvent. Produced once,
// never mutated. Score keeps full decimal precision; round only for display.
type RelevanceVerdict struct {
	Score               decimal.Decimal `json:"score"`
	MatchedCriteria     []string        `json:"matched_criteria"`
	ModelConfidence     *float64        `json:"model_confidence,omitempty"`
	RecommendedPriority string          `json:"recommended_priority"`
}

// DisplayScore rounds to two decimals for UI consumers.
func (v RelevanceVerdict) DisplayScore() decimal.Decimal {
	return v.Score.Round(2)
}
