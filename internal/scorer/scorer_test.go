package scorer

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"sourceradar/internal/models"
	"sourceradar/internal/repository/memory"
)

func sparkPattern() models.DiscoveryPattern {
	return models.DiscoveryPattern{
		ID:              1,
		Name:            "spark",
		IncludeKeywords: models.EncodeStrings([]string{"spark"}),
		ExcludeKeywords: models.EncodeStrings([]string{"tutorial"}),
		MinStars:        10,
		IsActive:        true,
	}
}

func testThresholds() models.ThresholdConfig {
	return models.ThresholdConfig{
		MinimumScore:     decimal.NewFromInt(60),
		AutoCollectScore: decimal.NewFromInt(75),
		PriorityScore:    decimal.NewFromInt(85),
	}
}

func TestScoreAdmitsCoreEngineAsHighPriority(t *testing.T) {
	event := models.CandidateEvent{
		SourceURL: "github.com/apache/spark",
		Origin:    models.OriginScan,
		Metadata:  models.CandidateMetadata{Stars: 500, Description: "apache spark core engine"},
	}

	verdict := Score(event, sparkPattern(), nil, testThresholds())
	if verdict.Score.LessThan(decimal.NewFromInt(85)) {
		t.Fatalf("expected score >= 85, got %s", verdict.Score)
	}
	if verdict.RecommendedPriority != models.PriorityHigh {
		t.Fatalf("expected high priority, got %s", verdict.RecommendedPriority)
	}
	if len(verdict.MatchedCriteria) == 0 || verdict.MatchedCriteria[0] != CriterionKeyword {
		t.Fatalf("expected keyword criterion first, got %v", verdict.MatchedCriteria)
	}
	if verdict.ModelConfidence != nil {
		t.Fatalf("no model consulted, confidence should be omitted")
	}
}

func TestScoreVetoesExcludeKeywordBelowMinimum(t *testing.T) {
	event := models.CandidateEvent{
		SourceURL: "github.com/someone/spark-guide",
		Origin:    models.OriginWebhook,
		Metadata:  models.CandidateMetadata{Stars: 500, Description: "spark tutorial for beginners"},
	}

	verdict := Score(event, sparkPattern(), nil, testThresholds())
	if verdict.Score.GreaterThanOrEqual(decimal.NewFromInt(60)) {
		t.Fatalf("vetoed event scored %s, want < 60", verdict.Score)
	}
	if verdict.RecommendedPriority != models.PrioritySkip {
		t.Fatalf("expected skip, got %s", verdict.RecommendedPriority)
	}
	found := false
	for _, c := range verdict.MatchedCriteria {
		if c == CriterionVeto {
			found = true
		}
	}
	if !found {
		t.Fatalf("veto criterion missing from %v", verdict.MatchedCriteria)
	}
}

func TestScoreVetoOverridesModelConfidence(t *testing.T) {
	model := &models.ScoringModel{
		Version: "v9", Status: models.ModelStatusReady, IsActive: true,
		Weights: datatypes.JSON([]byte(`{"bias":1.0}`)),
	}
	pred, err := NewLinearPredictor(model)
	if err != nil {
		t.Fatalf("build predictor: %v", err)
	}

	event := models.CandidateEvent{
		SourceURL: "github.com/someone/spark-guide",
		Metadata:  models.CandidateMetadata{Stars: 1000, Description: "best spark tutorial"},
	}
	verdict := Score(event, sparkPattern(), pred, testThresholds())
	if verdict.Score.GreaterThanOrEqual(decimal.NewFromInt(60)) {
		t.Fatalf("veto must cap blended score, got %s", verdict.Score)
	}
	if verdict.ModelConfidence == nil || *verdict.ModelConfidence != 1.0 {
		t.Fatalf("expected recorded confidence 1.0, got %v", verdict.ModelConfidence)
	}
}

func TestScoreAgeGateDisqualifies(t *testing.T) {
	pattern := sparkPattern()
	pattern.MaxAgeDays = 365

	event := models.CandidateEvent{
		SourceURL: "github.com/old/spark-fork",
		Metadata:  models.CandidateMetadata{Stars: 900, AgeDays: 4000, Description: "apache spark core engine"},
	}
	verdict := Score(event, pattern, nil, testThresholds())
	if !verdict.Score.IsZero() {
		t.Fatalf("expected zero score past age gate, got %s", verdict.Score)
	}
	if len(verdict.MatchedCriteria) != 1 || verdict.MatchedCriteria[0] != CriterionAgeGate {
		t.Fatalf("expected only age criterion, got %v", verdict.MatchedCriteria)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	model := &models.ScoringModel{
		Version: "v3", Status: models.ModelStatusReady, IsActive: true,
		Weights: datatypes.JSON([]byte(`{"bias":0.1,"keyword_density":0.5,"stars_norm":0.2,"language_match":0.1,"topic_overlap":0.1}`)),
	}
	pred, err := NewLinearPredictor(model)
	if err != nil {
		t.Fatalf("build predictor: %v", err)
	}

	event := models.CandidateEvent{
		SourceURL: "github.com/apache/spark",
		Metadata: models.CandidateMetadata{
			Stars: 37, Language: "scala",
			Description: "apache spark distributed engine",
			Topics:      []string{"spark", "big-data"},
		},
	}
	first := Score(event, sparkPattern(), pred, testThresholds())
	second := Score(event, sparkPattern(), pred, testThresholds())
	if !first.Score.Equal(second.Score) {
		t.Fatalf("score not reproducible: %s vs %s", first.Score, second.Score)
	}
	if first.Score.String() != second.Score.String() {
		t.Fatalf("representation not reproducible: %s vs %s", first.Score, second.Score)
	}
}

func TestStarGradePartialCredit(t *testing.T) {
	if g := starGrade(5, 10); g != 0 {
		t.Fatalf("below floor should grade 0, got %v", g)
	}
	if g := starGrade(10, 10); g != 0.25 {
		t.Fatalf("at floor should grade 0.25, got %v", g)
	}
	if g := starGrade(500, 10); g != 1 {
		t.Fatalf("far above floor should cap at 1, got %v", g)
	}
}

func TestEvaluateFallsBackToDefaultPattern(t *testing.T) {
	store := memory.New()
	s := New(store, zap.NewNop())

	eval, err := s.Evaluate(context.Background(), models.CandidateEvent{
		SourceURL: "github.com/someone/repo",
		Origin:    models.OriginWebhook,
		Metadata:  models.CandidateMetadata{Stars: 12, Description: "a data tool"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if eval.Pattern.Name != "default" {
		t.Fatalf("expected default pattern, got %q", eval.Pattern.Name)
	}
}

func TestEvaluatePicksBestActivePattern(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	rust := models.DiscoveryPattern{
		Name:            "rust-tools",
		IncludeKeywords: models.EncodeStrings([]string{"rust"}),
		IsActive:        true,
	}
	spark := sparkPattern()
	spark.ID = 0
	if err := store.UpsertPattern(ctx, &rust); err != nil {
		t.Fatalf("seed rust: %v", err)
	}
	if err := store.UpsertPattern(ctx, &spark); err != nil {
		t.Fatalf("seed spark: %v", err)
	}

	s := New(store, zap.NewNop())
	eval, err := s.Evaluate(ctx, models.CandidateEvent{
		SourceURL: "github.com/apache/spark",
		Origin:    models.OriginWebhook,
		Metadata:  models.CandidateMetadata{Stars: 500, Description: "apache spark core engine"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if eval.Pattern.Name != "spark" {
		t.Fatalf("expected spark pattern to win, got %q", eval.Pattern.Name)
	}
}

func TestLinearPredictorClampsToUnitInterval(t *testing.T) {
	pred := &LinearPredictor{weights: linearWeights{Bias: 2.5}}
	c, err := pred.Predict(Features{})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if c != 1 {
		t.Fatalf("expected clamp to 1, got %v", c)
	}
}
