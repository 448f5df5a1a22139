// Package pipeline decides what happens to a scored candidate: reject below
// the minimum threshold, skip duplicates, or admit a new collection job and
// hand it to the worker pool. Every decision leaves a discovery_events audit
// row regardless of outcome.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"sourceradar/internal/models"
	"sourceradar/internal/repository"
	"sourceradar/internal/scorer"
)

// Dispatcher is the worker pool surface the controller needs: enqueue a
// claimed-later job and observe queue depth for load shedding.
type Dispatcher interface {
	Dispatch(jobID uint64, priority string) bool
	QueueLen() int
}

type Outcome string

const (
	OutcomeRejected  Outcome = "rejected"
	OutcomeAdmitted  Outcome = "admitted"
	OutcomeDuplicate Outcome = "duplicate"
)

// Decision reports what admission did with one candidate.
type Decision struct {
	Outcome    Outcome
	Verdict    models.RelevanceVerdict
	Job        *models.CollectionJob
	Dispatched bool
}

type Controller struct {
	repo       repository.Repository
	scorer     *scorer.Scorer
	dispatcher Dispatcher
	logger     *zap.Logger

	// shedDepth is the queue depth past which normal-priority jobs stay
	// pending instead of being auto-dispatched. High priority always goes
	// through.
	shedDepth int
}

func NewController(repo repository.Repository, sc *scorer.Scorer, dispatcher Dispatcher, shedDepth int, logger *zap.Logger) *Controller {
	if shedDepth <= 0 {
		shedDepth = 64
	}
	return &Controller{
		repo:       repo,
		scorer:     sc,
		dispatcher: dispatcher,
		logger:     logger,
		shedDepth:  shedDepth,
	}
}

// HandleEvent is the event hub sink. Errors are absorbed here: one bad
// candidate must not stall the pipeline for the rest.
func (c *Controller) HandleEvent(ctx context.Context, event models.CandidateEvent) {
	if _, err := c.Process(ctx, event); err != nil && c.logger != nil {
		c.logger.Warn("admission failed",
			zap.String("url", event.SourceURL),
			zap.String("origin", event.Origin),
			zap.Error(err))
	}
}

// Process scores the event and applies the three-threshold policy. The
// dedup check and job creation happen in a single atomic store operation, so
// concurrent adapters submitting the same URL produce exactly one job.
func (c *Controller) Process(ctx context.Context, event models.CandidateEvent) (Decision, error) {
	eval, err := c.scorer.Evaluate(ctx, event)
	if err != nil {
		return Decision{}, err
	}
	verdict := eval.Verdict

	if verdict.Score.LessThan(eval.Thresholds.MinimumScore) {
		c.audit(ctx, event, eval, models.DecisionRejected, nil)
		return Decision{Outcome: OutcomeRejected, Verdict: verdict}, nil
	}

	job := c.buildJob(event, eval)
	created, existing, err := c.repo.CreateJobIfAbsent(ctx, job)
	if err != nil {
		return Decision{}, err
	}
	if !created {
		var existingID *uint64
		if existing != nil {
			existingID = &existing.ID
		}
		c.audit(ctx, event, eval, models.DecisionDuplicate, existingID)
		return Decision{Outcome: OutcomeDuplicate, Verdict: verdict, Job: existing}, nil
	}

	if eval.Pattern.ID != 0 {
		if err := c.repo.RecordPatternMatch(ctx, eval.Pattern.ID, event.ObservedAt); err != nil && c.logger != nil {
			c.logger.Warn("record pattern match failed", zap.Uint64("pattern_id", eval.Pattern.ID), zap.Error(err))
		}
	}
	c.audit(ctx, event, eval, models.DecisionAdmitted, &job.ID)

	dispatched := c.maybeDispatch(job)
	return Decision{Outcome: OutcomeAdmitted, Verdict: verdict, Job: job, Dispatched: dispatched}, nil
}

func (c *Controller) buildJob(event models.CandidateEvent, eval *scorer.Evaluation) *models.CollectionJob {
	priority := models.PriorityNormal
	if eval.Verdict.Score.GreaterThanOrEqual(eval.Thresholds.PriorityScore) {
		priority = models.PriorityHigh
	}
	job := &models.CollectionJob{
		SourceURL:    event.SourceURL,
		Status:       models.JobStatusPending,
		Priority:     priority,
		Origin:       event.Origin,
		AutoDispatch: eval.Verdict.Score.GreaterThanOrEqual(eval.Thresholds.AutoCollectScore),
		Score:        eval.Verdict.Score,
		PatternID:    event.PatternID,
	}
	if raw, err := json.Marshal(event.Metadata); err == nil {
		job.Metadata = datatypes.JSON(raw)
	}
	return job
}

// maybeDispatch applies backpressure: below the auto-collect threshold the
// job waits for an operator; at depth, normal-priority jobs stay pending for
// the requeue sweep, while high priority always enters the queue.
func (c *Controller) maybeDispatch(job *models.CollectionJob) bool {
	if c.dispatcher == nil || !job.AutoDispatch {
		return false
	}
	if job.Priority != models.PriorityHigh && c.dispatcher.QueueLen() >= c.shedDepth {
		if c.logger != nil {
			c.logger.Info("queue at shed depth, leaving job pending",
				zap.Uint64("job_id", job.ID),
				zap.Int("queue_len", c.dispatcher.QueueLen()))
		}
		return false
	}
	return c.dispatcher.Dispatch(job.ID, job.Priority)
}

func (c *Controller) audit(ctx context.Context, event models.CandidateEvent, eval *scorer.Evaluation, decision string, jobID *uint64) {
	row := &models.DiscoveryEvent{
		SourceURL:       event.SourceURL,
		Origin:          event.Origin,
		PatternID:       event.PatternID,
		Score:           eval.Verdict.Score,
		ModelConfidence: eval.Verdict.ModelConfidence,
		Decision:        decision,
		JobID:           jobID,
		CreatedAt:       time.Now().UTC(),
	}
	if raw, err := json.Marshal(eval.Verdict.MatchedCriteria); err == nil {
		row.MatchedCriteria = datatypes.JSON(raw)
	}
	if err := c.repo.InsertDiscoveryEvent(ctx, row); err != nil && c.logger != nil {
		c.logger.Warn("audit insert failed", zap.String("url", event.SourceURL), zap.Error(err))
	}
}
