package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sourceradar/internal/models"
)

// MetadataAnalyzer is the built-in analysis step: it derives insight lines
// from the candidate metadata alone. Deployments wanting deeper analysis
// inject their own Analyzer.
type MetadataAnalyzer struct {
	// StepDelay paces the stages so progress is observable; zero keeps the
	// analyzer instantaneous for tests.
	StepDelay time.Duration
}

func (a *MetadataAnalyzer) Analyze(ctx context.Context, sourceURL string, metadata models.CandidateMetadata, progress func(int)) ([]string, error) {
	stages := []int{20, 45, 70, 90}
	insights := make([]string, 0, 4)

	report := func(stage int) error {
		if a.StepDelay > 0 {
			timer := time.NewTimer(a.StepDelay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		if progress != nil {
			progress(stage)
		}
		return nil
	}

	if err := report(stages[0]); err != nil {
		return nil, err
	}
	insights = append(insights, fmt.Sprintf("source: %s", sourceURL))

	if err := report(stages[1]); err != nil {
		return nil, err
	}
	if metadata.Language != "" {
		insights = append(insights, fmt.Sprintf("primary language: %s", metadata.Language))
	}
	insights = append(insights, fmt.Sprintf("popularity: %d stars", metadata.Stars))

	if err := report(stages[2]); err != nil {
		return nil, err
	}
	if metadata.Description != "" {
		insights = append(insights, "summary: "+metadata.Description)
	}
	if len(metadata.Topics) > 0 {
		insights = append(insights, "topics: "+strings.Join(metadata.Topics, ", "))
	}

	if err := report(stages[3]); err != nil {
		return nil, err
	}
	return insights, nil
}
