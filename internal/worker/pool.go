// Package worker runs the enrichment pool: a fixed set of workers pulling
// admitted jobs from a two-lane priority queue, claiming each with an atomic
// status swap, and driving it to a terminal state under a hard deadline.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"sourceradar/internal/models"
	"sourceradar/internal/repository"
)

// Analyzer is the injected content-analysis step. progress reports are
// advisory; implementations call it with values in [0,100].
type Analyzer interface {
	Analyze(ctx context.Context, sourceURL string, metadata models.CandidateMetadata, progress func(int)) ([]string, error)
}

const (
	defaultWorkers      = 4
	defaultQueueDepth   = 256
	defaultJobTimeout   = 2 * time.Minute
	defaultMaxHighBurst = 4

	// FailureTimeout is the failure reason recorded when analysis exceeds
	// its deadline.
	FailureTimeout = "timeout"

	// FailureInterrupted marks jobs reclaimed at boot that a previous process
	// left in processing.
	FailureInterrupted = "interrupted"
)

type Pool struct {
	repo     repository.Repository
	analyzer Analyzer
	logger   *zap.Logger

	workers      int
	jobTimeout   time.Duration
	maxHighBurst int

	high   chan uint64
	normal chan uint64

	wg sync.WaitGroup
}

type Options struct {
	Workers      int
	QueueDepth   int
	JobTimeout   time.Duration
	MaxHighBurst int
}

func NewPool(repo repository.Repository, analyzer Analyzer, opts Options, logger *zap.Logger) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	timeout := opts.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	burst := opts.MaxHighBurst
	if burst <= 0 {
		burst = defaultMaxHighBurst
	}
	return &Pool{
		repo:         repo,
		analyzer:     analyzer,
		logger:       logger,
		workers:      workers,
		jobTimeout:   timeout,
		maxHighBurst: burst,
		high:         make(chan uint64, depth),
		normal:       make(chan uint64, depth),
	}
}

// Dispatch enqueues a pending job id into its priority lane. Returns false
// when the lane is full; the job stays pending for the requeue sweep.
func (p *Pool) Dispatch(jobID uint64, priority string) bool {
	if p == nil {
		return false
	}
	lane := p.normal
	if priority == models.PriorityHigh {
		lane = p.high
	}
	select {
	case lane <- jobID:
		return true
	default:
		return false
	}
}

// QueueLen is the combined depth of both lanes, read by the admission
// controller's shed policy.
func (p *Pool) QueueLen() int {
	if p == nil {
		return 0
	}
	return len(p.high) + len(p.normal)
}

// ReclaimInterrupted fails every job still in processing. Claims live only in
// worker memory, so at boot a processing job belongs to a process that died
// mid-run; failing it hands the job to the retry budget instead of stranding
// it forever. Call before Run.
func (p *Pool) ReclaimInterrupted(ctx context.Context) (int, error) {
	if p == nil || p.repo == nil {
		return 0, nil
	}
	status := models.JobStatusProcessing
	reclaimed := 0
	for {
		jobs, err := p.repo.ListJobs(ctx, repository.ListJobsParams{Status: &status, Limit: 200})
		if err != nil {
			return reclaimed, err
		}
		if len(jobs) == 0 {
			return reclaimed, nil
		}
		for _, job := range jobs {
			if err := p.repo.FailJob(ctx, job.ID, FailureInterrupted, time.Now().UTC()); err != nil {
				if p.logger != nil {
					p.logger.Warn("reclaim failed", zap.Uint64("job_id", job.ID), zap.Error(err))
				}
				continue
			}
			reclaimed++
		}
		if len(jobs) < 200 {
			return reclaimed, nil
		}
	}
}

func (p *Pool) Run(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}
	<-ctx.Done()
	p.wg.Wait()
	return ctx.Err()
}

// workerLoop prefers the high lane but yields to normal after maxHighBurst
// consecutive high jobs so the normal lane cannot starve.
func (p *Pool) workerLoop(ctx context.Context, workerID int) {
	highStreak := 0
	for {
		if ctx.Err() != nil {
			return
		}

		var jobID uint64
		var fromHigh bool
		if highStreak >= p.maxHighBurst {
			select {
			case jobID = <-p.normal:
			default:
				select {
				case jobID = <-p.normal:
				case jobID = <-p.high:
					fromHigh = true
				case <-ctx.Done():
					return
				}
			}
		} else {
			select {
			case jobID = <-p.high:
				fromHigh = true
			default:
				select {
				case jobID = <-p.high:
					fromHigh = true
				case jobID = <-p.normal:
				case <-ctx.Done():
					return
				}
			}
		}

		if fromHigh {
			highStreak++
		} else {
			highStreak = 0
		}
		p.runJob(ctx, workerID, jobID)
	}
}

func (p *Pool) runJob(ctx context.Context, workerID int, jobID uint64) {
	claimed, err := p.repo.ClaimJob(ctx, jobID)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("claim failed", zap.Uint64("job_id", jobID), zap.Error(err))
		}
		return
	}
	if !claimed {
		// Already claimed elsewhere or no longer pending; nothing to do.
		return
	}

	job, err := p.repo.GetJobByID(ctx, jobID)
	if err != nil || job == nil {
		p.fail(ctx, jobID, "job vanished after claim")
		return
	}

	var metadata models.CandidateMetadata
	if len(job.Metadata) > 0 {
		_ = json.Unmarshal(job.Metadata, &metadata)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	progress := func(pct int) {
		_ = p.repo.UpdateJobProgress(ctx, jobID, pct)
	}

	start := time.Now()
	insights, err := p.analyzer.Analyze(runCtx, job.SourceURL, metadata, progress)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) || runCtx.Err() == context.DeadlineExceeded {
			reason = FailureTimeout
		}
		p.fail(ctx, jobID, reason)
		if p.logger != nil {
			p.logger.Warn("job failed",
				zap.Int("worker", workerID),
				zap.Uint64("job_id", jobID),
				zap.String("reason", reason),
				zap.Duration("elapsed", time.Since(start)))
		}
		return
	}

	if err := p.repo.CompleteJob(ctx, jobID, insights, time.Now().UTC()); err != nil {
		if p.logger != nil {
			p.logger.Error("complete failed", zap.Uint64("job_id", jobID), zap.Error(err))
		}
		return
	}
	if p.logger != nil {
		p.logger.Info("job completed",
			zap.Int("worker", workerID),
			zap.Uint64("job_id", jobID),
			zap.Int("insights", len(insights)),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (p *Pool) fail(ctx context.Context, jobID uint64, reason string) {
	if err := p.repo.FailJob(ctx, jobID, reason, time.Now().UTC()); err != nil && p.logger != nil {
		p.logger.Error("fail transition rejected", zap.Uint64("job_id", jobID), zap.Error(err))
	}
}
