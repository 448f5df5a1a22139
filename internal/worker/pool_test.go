package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"sourceradar/internal/models"
	"sourceradar/internal/repository"
	"sourceradar/internal/repository/memory"
)

type scriptedAnalyzer struct {
	mu    sync.Mutex
	runs  int
	block time.Duration
	fail  error
	steps []int
}

func (a *scriptedAnalyzer) Analyze(ctx context.Context, sourceURL string, metadata models.CandidateMetadata, progress func(int)) ([]string, error) {
	a.mu.Lock()
	a.runs++
	block, fail, steps := a.block, a.fail, a.steps
	a.mu.Unlock()

	for _, step := range steps {
		progress(step)
	}
	if block > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(block):
		}
	}
	if fail != nil {
		return nil, fail
	}
	return []string{"insight: " + sourceURL}, nil
}

func (a *scriptedAnalyzer) runCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runs
}

func seedPendingJob(t *testing.T, store *memory.Store, url string, priority string) uint64 {
	t.Helper()
	job := &models.CollectionJob{
		SourceURL:    url,
		Status:       models.JobStatusPending,
		Priority:     priority,
		Origin:       models.OriginScan,
		AutoDispatch: true,
	}
	created, _, err := store.CreateJobIfAbsent(context.Background(), job)
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	if !created {
		t.Fatalf("seed job not created for %s", url)
	}
	return job.ID
}

func waitForStatus(t *testing.T, store *memory.Store, jobID uint64, status string) *models.CollectionJob {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		job, err := store.GetJobByID(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job != nil && job.Status == status {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("job %d never reached %s, currently %+v", jobID, status, job)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func startPool(t *testing.T, store *memory.Store, analyzer Analyzer, opts Options) (*Pool, context.CancelFunc) {
	t.Helper()
	pool := NewPool(store, analyzer, opts, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = pool.Run(ctx) }()
	return pool, cancel
}

func TestPoolCompletesDispatchedJob(t *testing.T) {
	store := memory.New()
	jobID := seedPendingJob(t, store, "github.com/apache/spark", models.PriorityHigh)

	analyzer := &scriptedAnalyzer{steps: []int{30, 60, 90}}
	pool, cancel := startPool(t, store, analyzer, Options{Workers: 2})
	defer cancel()

	if !pool.Dispatch(jobID, models.PriorityHigh) {
		t.Fatalf("dispatch refused")
	}
	job := waitForStatus(t, store, jobID, models.JobStatusCompleted)
	if job.Progress != 100 {
		t.Fatalf("completed job should report 100%%, got %d", job.Progress)
	}
	if job.CompletedAt == nil {
		t.Fatalf("completedAt not set")
	}
	if len(job.Insights) == 0 {
		t.Fatalf("insights not recorded")
	}
}

func TestPoolFailsJobOnAnalyzerError(t *testing.T) {
	store := memory.New()
	jobID := seedPendingJob(t, store, "github.com/broken/repo", models.PriorityNormal)

	analyzer := &scriptedAnalyzer{fail: errors.New("fetch refused")}
	pool, cancel := startPool(t, store, analyzer, Options{Workers: 1})
	defer cancel()

	if !pool.Dispatch(jobID, models.PriorityNormal) {
		t.Fatalf("dispatch refused")
	}
	job := waitForStatus(t, store, jobID, models.JobStatusFailed)
	if job.FailureReason == nil || *job.FailureReason != "fetch refused" {
		t.Fatalf("unexpected failure reason %v", job.FailureReason)
	}
	if len(job.Insights) != 0 {
		t.Fatalf("failed job must not carry insights")
	}
}

func TestPoolTimesOutSlowAnalysis(t *testing.T) {
	store := memory.New()
	jobID := seedPendingJob(t, store, "github.com/slow/repo", models.PriorityNormal)

	analyzer := &scriptedAnalyzer{block: 5 * time.Second}
	pool, cancel := startPool(t, store, analyzer, Options{Workers: 1, JobTimeout: 50 * time.Millisecond})
	defer cancel()

	if !pool.Dispatch(jobID, models.PriorityNormal) {
		t.Fatalf("dispatch refused")
	}
	job := waitForStatus(t, store, jobID, models.JobStatusFailed)
	if job.FailureReason == nil || *job.FailureReason != FailureTimeout {
		t.Fatalf("expected timeout reason, got %v", job.FailureReason)
	}
}

func TestPoolRunsRetriedJobAgain(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	jobID := seedPendingJob(t, store, "github.com/flaky/repo", models.PriorityNormal)

	analyzer := &scriptedAnalyzer{fail: errors.New("transient")}
	pool, cancel := startPool(t, store, analyzer, Options{Workers: 1})
	defer cancel()

	if !pool.Dispatch(jobID, models.PriorityNormal) {
		t.Fatalf("dispatch refused")
	}
	waitForStatus(t, store, jobID, models.JobStatusFailed)

	if err := store.RetryJob(ctx, jobID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	analyzer.mu.Lock()
	analyzer.fail = nil
	analyzer.mu.Unlock()

	if !pool.Dispatch(jobID, models.PriorityNormal) {
		t.Fatalf("second dispatch refused")
	}
	job := waitForStatus(t, store, jobID, models.JobStatusCompleted)
	if job.RetryCount != 1 {
		t.Fatalf("expected retryCount 1, got %d", job.RetryCount)
	}

	// A second failure would be terminal: the retry budget is spent.
	if err := store.RetryJob(ctx, jobID); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("completed job must not retry, got %v", err)
	}
}

func TestDispatchRefusesWhenLaneFull(t *testing.T) {
	store := memory.New()
	pool := NewPool(store, &scriptedAnalyzer{}, Options{Workers: 1, QueueDepth: 1}, zap.NewNop())
	// Pool not running: the lane holds exactly one entry.
	if !pool.Dispatch(1, models.PriorityNormal) {
		t.Fatalf("first dispatch should fit")
	}
	if pool.Dispatch(2, models.PriorityNormal) {
		t.Fatalf("second dispatch should be refused")
	}
	if pool.QueueLen() != 1 {
		t.Fatalf("queue length should be 1, got %d", pool.QueueLen())
	}
}

func TestClaimIsExclusive(t *testing.T) {
	store := memory.New()
	jobID := seedPendingJob(t, store, "github.com/contended/repo", models.PriorityHigh)
	ctx := context.Background()

	const claimers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ClaimJob(ctx, jobID)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("exactly one claim must win, got %d", won)
	}
}

func TestReclaimInterruptedFailsStrandedJobs(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	strandedID := seedPendingJob(t, store, "github.com/contended/repo", models.PriorityHigh)
	pendingID := seedPendingJob(t, store, "github.com/steady/repo", models.PriorityNormal)

	// Simulate a process that died mid-run: claimed but never finished.
	if ok, err := store.ClaimJob(ctx, strandedID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	pool := NewPool(store, &scriptedAnalyzer{}, Options{Workers: 1}, zap.NewNop())
	n, err := pool.ReclaimInterrupted(ctx)
	if err != nil {
		t.Fatalf("ReclaimInterrupted: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}

	stranded, _ := store.GetJobByID(ctx, strandedID)
	if stranded.Status != models.JobStatusFailed {
		t.Fatalf("stranded job status = %q, want failed", stranded.Status)
	}
	if stranded.FailureReason == nil || *stranded.FailureReason != FailureInterrupted {
		t.Fatalf("failure reason = %v, want %q", stranded.FailureReason, FailureInterrupted)
	}
	// The retry budget still applies to a reclaimed job.
	if err := store.RetryJob(ctx, strandedID); err != nil {
		t.Fatalf("retry after reclaim: %v", err)
	}

	pending, _ := store.GetJobByID(ctx, pendingID)
	if pending.Status != models.JobStatusPending {
		t.Fatalf("pending job touched by reclaim: %q", pending.Status)
	}
}

func TestProgressReportsAreMonotonic(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	jobID := seedPendingJob(t, store, "github.com/steady/repo", models.PriorityNormal)
	if _, err := store.ClaimJob(ctx, jobID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	for _, step := range []int{10, 60, 30, 80} {
		if err := store.UpdateJobProgress(ctx, jobID, step); err != nil {
			t.Fatalf("progress: %v", err)
		}
	}
	job, err := store.GetJobByID(ctx, jobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// The out-of-order 30 must not regress the stored value.
	if job.Progress != 80 {
		t.Fatalf("expected progress 80, got %d", job.Progress)
	}
}
