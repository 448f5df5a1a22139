package scorer

import (
	"encoding/json"
	"fmt"

	"sourceradar/internal/models"
)

// Features is the normalized input vector handed to a predictor. Every field
// is in [0,1] so weight files stay comparable across model versions.
type Features struct {
	KeywordDensity float64 `json:"keyword_density"`
	StarsNorm      float64 `json:"stars_norm"`
	AgeNorm        float64 `json:"age_norm"`
	LanguageMatch  float64 `json:"language_match"`
	TopicOverlap   float64 `json:"topic_overlap"`
}

// Predictor is the pluggable model contract. Implementations must be pure:
// identical features yield an identical confidence, with no clock or
// randomness involved.
type Predictor interface {
	Predict(features Features) (float64, error)
}

// linearWeights is the serialized parameter set stored on a ScoringModel row.
type linearWeights struct {
	Bias           float64 `json:"bias"`
	KeywordDensity float64 `json:"keyword_density"`
	StarsNorm      float64 `json:"stars_norm"`
	AgeNorm        float64 `json:"age_norm"`
	LanguageMatch  float64 `json:"language_match"`
	TopicOverlap   float64 `json:"topic_overlap"`
}

// LinearPredictor scores as a clamped weighted sum. It is the in-process
// inference path for registry models trained offline.
type LinearPredictor struct {
	weights linearWeights
}

// NewLinearPredictor parses the weights payload of a registry model.
func NewLinearPredictor(model *models.ScoringModel) (*LinearPredictor, error) {
	if model == nil || len(model.Weights) == 0 {
		return nil, fmt.Errorf("scoring model has no weights payload")
	}
	var w linearWeights
	if err := json.Unmarshal(model.Weights, &w); err != nil {
		return nil, fmt.Errorf("decode model weights: %w", err)
	}
	return &LinearPredictor{weights: w}, nil
}

func (p *LinearPredictor) Predict(features Features) (float64, error) {
	if p == nil {
		return 0, fmt.Errorf("nil predictor")
	}
	v := p.weights.Bias +
		p.weights.KeywordDensity*features.KeywordDensity +
		p.weights.StarsNorm*features.StarsNorm +
		p.weights.AgeNorm*features.AgeNorm +
		p.weights.LanguageMatch*features.LanguageMatch +
		p.weights.TopicOverlap*features.TopicOverlap
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v, nil
}
