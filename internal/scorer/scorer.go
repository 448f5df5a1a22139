// Package scorer computes relevance verdicts for candidate events by blending
// rule-based feature matches with the active registry model's prediction. The
// whole path is deterministic: identical inputs against identical pattern,
// model, and threshold state produce bit-identical verdicts.
package scorer

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sourceradar/internal/models"
	"sourceradar/internal/repository"
)

// Rule component weights, summing to 100. Keyword density carries the most
// signal; stars are graded rather than boolean.
var (
	weightKeyword  = decimal.NewFromInt(50)
	weightStars    = decimal.NewFromInt(20)
	weightLanguage = decimal.NewFromInt(15)
	weightTopics   = decimal.NewFromInt(15)

	// Blend ratio between the rule score and the model confidence when an
	// active ready model is available: 60% rule, 40% model.
	ruleBlend  = decimal.NewFromFloat(0.6)
	modelBlend = decimal.NewFromFloat(0.4)

	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Criterion names reported in MatchedCriteria, in evaluation order.
const (
	CriterionKeyword  = "keyword_match"
	CriterionStars    = "star_count"
	CriterionLanguage = "language_match"
	CriterionTopics   = "topic_match"
	CriterionVeto     = "exclude_veto"
	CriterionAgeGate  = "age_exceeded"
)

// DefaultPattern is the fallback used when no configured pattern applies, so
// every candidate still receives a verdict. It is permissive: no keyword or
// language restrictions, no star floor, no age gate.
func DefaultPattern() models.DiscoveryPattern {
	return models.DiscoveryPattern{
		Name:               "default",
		IncludeKeywords:    models.EncodeStrings(nil),
		ExcludeKeywords:    models.EncodeStrings(nil),
		Languages:          models.EncodeStrings(nil),
		RelevanceThreshold: decimal.Zero,
		IsActive:           true,
	}
}

// Score computes the verdict for one event against one pattern. pred may be
// nil, in which case the rule score is used unmodified and ModelConfidence is
// omitted. The exclude-keyword veto is applied after the blend and caps the
// final score at thresholds.MinimumScore - 1.
func Score(event models.CandidateEvent, pattern models.DiscoveryPattern, pred Predictor, thresholds models.ThresholdConfig) models.RelevanceVerdict {
	matched := make([]string, 0, 4)
	features := extractFeatures(event, pattern)

	// Age gate disqualifies outright, skipping the blend entirely.
	if pattern.MaxAgeDays > 0 && event.Metadata.AgeDays > pattern.MaxAgeDays {
		return models.RelevanceVerdict{
			Score:               decimal.Zero,
			MatchedCriteria:     []string{CriterionAgeGate},
			RecommendedPriority: models.PrioritySkip,
		}
	}

	rule := decimal.Zero
	if features.KeywordDensity > 0 {
		rule = rule.Add(weightKeyword.Mul(decimal.NewFromFloat(features.KeywordDensity)))
		matched = append(matched, CriterionKeyword)
	} else if len(pattern.IncludeList()) == 0 {
		// A pattern with no include list (the default fallback) scores the
		// keyword component at half weight rather than zero.
		rule = rule.Add(weightKeyword.Div(decimal.NewFromInt(2)))
	}
	if features.StarsNorm > 0 {
		rule = rule.Add(weightStars.Mul(decimal.NewFromFloat(features.StarsNorm)))
		matched = append(matched, CriterionStars)
	}
	if features.LanguageMatch > 0 {
		rule = rule.Add(weightLanguage.Mul(decimal.NewFromFloat(features.LanguageMatch)))
		if event.Metadata.Language != "" && len(pattern.LanguageList()) > 0 {
			matched = append(matched, CriterionLanguage)
		}
	}
	if features.TopicOverlap > 0 {
		rule = rule.Add(weightTopics.Mul(decimal.NewFromFloat(features.TopicOverlap)))
		matched = append(matched, CriterionTopics)
	}

	score := rule
	var confidence *float64
	if pred != nil {
		if c, err := pred.Predict(features); err == nil {
			confidence = &c
			score = rule.Mul(ruleBlend).Add(decimal.NewFromFloat(c).Mul(hundred).Mul(modelBlend))
		}
	}
	if score.GreaterThan(hundred) {
		score = hundred
	}

	if excludeHit(event, pattern) {
		limit := thresholds.MinimumScore.Sub(one)
		if limit.IsNegative() {
			limit = decimal.Zero
		}
		if score.GreaterThan(limit) {
			score = limit
		}
		matched = append(matched, CriterionVeto)
	}

	return models.RelevanceVerdict{
		Score:               score,
		MatchedCriteria:     matched,
		ModelConfidence:     confidence,
		RecommendedPriority: priorityFor(score, thresholds),
	}
}

func priorityFor(score decimal.Decimal, thresholds models.ThresholdConfig) string {
	switch {
	case score.GreaterThanOrEqual(thresholds.PriorityScore):
		return models.PriorityHigh
	case score.GreaterThanOrEqual(thresholds.MinimumScore):
		return models.PriorityNormal
	default:
		return models.PrioritySkip
	}
}

func extractFeatures(event models.CandidateEvent, pattern models.DiscoveryPattern) Features {
	description := strings.ToLower(event.Metadata.Description)
	includes := pattern.IncludeList()

	var f Features
	if len(includes) > 0 {
		hits := 0
		topicHits := 0
		for _, kw := range includes {
			kw = strings.ToLower(kw)
			if kw == "" {
				continue
			}
			if strings.Contains(description, kw) {
				hits++
			}
			for _, topic := range event.Metadata.Topics {
				if strings.Contains(strings.ToLower(topic), kw) {
					topicHits++
					break
				}
			}
		}
		f.KeywordDensity = float64(hits) / float64(len(includes))
		f.TopicOverlap = float64(topicHits) / float64(len(includes))
	}

	f.StarsNorm = starGrade(event.Metadata.Stars, pattern.MinStars)
	f.LanguageMatch = languageGrade(event.Metadata.Language, pattern.LanguageList())
	if pattern.MaxAgeDays > 0 {
		if event.Metadata.AgeDays <= pattern.MaxAgeDays {
			f.AgeNorm = 1
		}
	} else {
		f.AgeNorm = 1
	}
	return f
}

// starGrade gives partial credit for clearing the pattern's star floor and
// full credit at four times the floor.
func starGrade(stars, minStars int) float64 {
	if stars < minStars || stars <= 0 {
		return 0
	}
	floor := minStars
	if floor < 1 {
		floor = 1
	}
	grade := float64(stars) / float64(4*floor)
	if grade > 1 {
		grade = 1
	}
	return grade
}

// languageGrade is 1 for an allow-list match, 1 when the pattern declares no
// allow-list (no restriction), 0 otherwise.
func languageGrade(language string, allowed []string) float64 {
	if len(allowed) == 0 {
		return 1
	}
	for _, l := range allowed {
		if strings.EqualFold(l, language) {
			return 1
		}
	}
	return 0
}

func excludeHit(event models.CandidateEvent, pattern models.DiscoveryPattern) bool {
	description := strings.ToLower(event.Metadata.Description)
	for _, kw := range pattern.ExcludeList() {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(description, kw) {
			return true
		}
		for _, topic := range event.Metadata.Topics {
			if strings.Contains(strings.ToLower(topic), kw) {
				return true
			}
		}
	}
	return false
}

// Evaluation bundles a verdict with the pattern and thresholds that produced
// it, for the admission controller and the preview endpoint.
type Evaluation struct {
	Verdict    models.RelevanceVerdict
	Pattern    models.DiscoveryPattern
	Thresholds models.ThresholdConfig
}

// Scorer resolves pattern, active model, and thresholds from the store and
// runs Score. It never fails a candidate outright: lookup errors degrade to
// the default pattern and rule-only scoring.
type Scorer struct {
	repo repository.Repository
	log  *zap.Logger
}

func New(repo repository.Repository, log *zap.Logger) *Scorer {
	return &Scorer{repo: repo, log: log}
}

func (s *Scorer) Evaluate(ctx context.Context, event models.CandidateEvent) (*Evaluation, error) {
	thresholds := models.DefaultThresholds()
	if cfg, err := s.repo.GetThresholds(ctx); err != nil {
		s.log.Warn("threshold lookup failed, using defaults", zap.Error(err))
	} else if cfg != nil {
		thresholds = *cfg
	}

	pattern := s.resolvePattern(ctx, event)
	pred := s.resolvePredictor(ctx)

	verdict := Score(event, pattern, pred, thresholds)
	return &Evaluation{Verdict: verdict, Pattern: pattern, Thresholds: thresholds}, nil
}

// resolvePattern prefers the pattern that produced the event; webhook events
// carry no pattern id, so the best-scoring active pattern is chosen instead.
func (s *Scorer) resolvePattern(ctx context.Context, event models.CandidateEvent) models.DiscoveryPattern {
	if event.PatternID != nil {
		p, err := s.repo.GetPatternByID(ctx, *event.PatternID)
		if err != nil {
			s.log.Warn("pattern lookup failed, using default", zap.Uint64("pattern_id", *event.PatternID), zap.Error(err))
		} else if p != nil && p.IsActive {
			return *p
		}
	}

	patterns, err := s.repo.ListPatterns(ctx, repository.ListPatternsParams{ActiveOnly: true})
	if err != nil {
		s.log.Warn("pattern list failed, using default", zap.Error(err))
		return DefaultPattern()
	}
	if len(patterns) == 0 {
		return DefaultPattern()
	}

	noModel := models.DefaultThresholds()
	best := patterns[0]
	bestScore := Score(event, best, nil, noModel).Score
	for _, p := range patterns[1:] {
		if sc := Score(event, p, nil, noModel).Score; sc.GreaterThan(bestScore) {
			best, bestScore = p, sc
		}
	}
	return best
}

func (s *Scorer) resolvePredictor(ctx context.Context) Predictor {
	model, err := s.repo.GetActiveScoringModel(ctx)
	if err != nil {
		s.log.Warn("active model lookup failed, scoring rule-only", zap.Error(err))
		return nil
	}
	if !model.Usable() {
		return nil
	}
	pred, err := NewLinearPredictor(model)
	if err != nil {
		s.log.Warn("model weights unusable, scoring rule-only",
			zap.String("version", model.Version), zap.Error(err))
		return nil
	}
	return pred
}
