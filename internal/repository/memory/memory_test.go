package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"sourceradar/internal/models"
	"sourceradar/internal/repository"
)

func newJob(url string) *models.CollectionJob {
	return &models.CollectionJob{
		SourceURL: url,
		Origin:    models.OriginWebhook,
		Priority:  models.PriorityNormal,
		Status:    models.JobStatusPending,
	}
}

func TestJobLifecycleCompletes(t *testing.T) {
	ctx := context.Background()
	store := New()

	created, existing, err := store.CreateJobIfAbsent(ctx, newJob("github.com/acme/widget"))
	if err != nil || !created || existing != nil {
		t.Fatalf("CreateJobIfAbsent: created=%v existing=%v err=%v", created, existing, err)
	}

	claimed, err := store.ClaimJob(ctx, 1)
	if err != nil || !claimed {
		t.Fatalf("ClaimJob: claimed=%v err=%v", claimed, err)
	}
	if err := store.UpdateJobProgress(ctx, 1, 40); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}
	if err := store.CompleteJob(ctx, 1, []string{"ok"}, time.Now().UTC()); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	job, err := store.GetJobByID(ctx, 1)
	if err != nil || job == nil {
		t.Fatalf("GetJobByID: job=%v err=%v", job, err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}
	if job.Progress != 100 {
		t.Fatalf("progress = %d, want 100", job.Progress)
	}
	if job.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, _, err := store.CreateJobIfAbsent(ctx, newJob("github.com/acme/widget")); err != nil {
		t.Fatalf("CreateJobIfAbsent: %v", err)
	}

	// pending cannot complete, fail, or retry.
	if err := store.CompleteJob(ctx, 1, nil, time.Time{}); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("complete pending: err = %v, want ErrInvalidTransition", err)
	}
	if err := store.FailJob(ctx, 1, "boom", time.Time{}); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("fail pending: err = %v, want ErrInvalidTransition", err)
	}
	if err := store.RetryJob(ctx, 1); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("retry pending: err = %v, want ErrInvalidTransition", err)
	}

	// processing cannot retry.
	if claimed, _ := store.ClaimJob(ctx, 1); !claimed {
		t.Fatal("ClaimJob refused a pending job")
	}
	if err := store.RetryJob(ctx, 1); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("retry processing: err = %v, want ErrInvalidTransition", err)
	}

	// completed is terminal.
	if err := store.CompleteJob(ctx, 1, nil, time.Time{}); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if claimed, _ := store.ClaimJob(ctx, 1); claimed {
		t.Fatal("claimed a completed job")
	}
	if err := store.FailJob(ctx, 1, "late", time.Time{}); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("fail completed: err = %v, want ErrInvalidTransition", err)
	}
	if err := store.RetryJob(ctx, 1); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("retry completed: err = %v, want ErrInvalidTransition", err)
	}
}

func TestRetryBudgetIsSingleRetry(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, _, err := store.CreateJobIfAbsent(ctx, newJob("github.com/acme/widget")); err != nil {
		t.Fatalf("CreateJobIfAbsent: %v", err)
	}
	if claimed, _ := store.ClaimJob(ctx, 1); !claimed {
		t.Fatal("ClaimJob refused a pending job")
	}
	if err := store.UpdateJobProgress(ctx, 1, 65); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}
	if err := store.FailJob(ctx, 1, "transient", time.Time{}); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	if err := store.RetryJob(ctx, 1); err != nil {
		t.Fatalf("first retry: %v", err)
	}
	job, _ := store.GetJobByID(ctx, 1)
	if job.Status != models.JobStatusPending {
		t.Fatalf("status after retry = %q, want pending", job.Status)
	}
	if job.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", job.RetryCount)
	}
	if job.Progress != 0 || job.FailureReason != nil {
		t.Fatalf("retry did not reset run state: progress=%d reason=%v", job.Progress, job.FailureReason)
	}

	if claimed, _ := store.ClaimJob(ctx, 1); !claimed {
		t.Fatal("ClaimJob refused the requeued job")
	}
	if err := store.FailJob(ctx, 1, "transient again", time.Time{}); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if err := store.RetryJob(ctx, 1); !errors.Is(err, repository.ErrRetryExhausted) {
		t.Fatalf("second retry: err = %v, want ErrRetryExhausted", err)
	}
}

func TestDedupReleasesOnTerminalStatus(t *testing.T) {
	ctx := context.Background()
	store := New()
	url := "github.com/acme/widget"

	if created, _, _ := store.CreateJobIfAbsent(ctx, newJob(url)); !created {
		t.Fatal("first admission refused")
	}
	created, existing, err := store.CreateJobIfAbsent(ctx, newJob(url))
	if err != nil {
		t.Fatalf("CreateJobIfAbsent: %v", err)
	}
	if created || existing == nil || existing.ID != 1 {
		t.Fatalf("duplicate admitted: created=%v existing=%v", created, existing)
	}

	if claimed, _ := store.ClaimJob(ctx, 1); !claimed {
		t.Fatal("ClaimJob refused a pending job")
	}
	if err := store.FailJob(ctx, 1, "gone", time.Time{}); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	// A terminal job no longer blocks readmission of the same URL.
	created, existing, err = store.CreateJobIfAbsent(ctx, newJob(url))
	if err != nil || !created || existing != nil {
		t.Fatalf("readmission: created=%v existing=%v err=%v", created, existing, err)
	}
}

func TestListDiscoveryEventsPaginates(t *testing.T) {
	ctx := context.Background()
	store := New()

	base := time.Now().UTC()
	for i, url := range []string{"github.com/a/one", "github.com/a/two", "github.com/a/three"} {
		ev := &models.DiscoveryEvent{
			SourceURL: url,
			Origin:    models.OriginScan,
			Decision:  models.DecisionAdmitted,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.InsertDiscoveryEvent(ctx, ev); err != nil {
			t.Fatalf("InsertDiscoveryEvent: %v", err)
		}
	}

	// Newest first; offset skips from the top of that ordering.
	page, err := store.ListDiscoveryEvents(ctx, repository.ListEventsParams{Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("ListDiscoveryEvents: %v", err)
	}
	if len(page) != 1 || page[0].SourceURL != "github.com/a/two" {
		t.Fatalf("page = %+v, want the middle event", page)
	}

	empty, err := store.ListDiscoveryEvents(ctx, repository.ListEventsParams{Offset: 3})
	if err != nil {
		t.Fatalf("ListDiscoveryEvents: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("offset past the end must return nothing, got %d", len(empty))
	}
}

func TestListDispatchableOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	store := New()

	base := time.Now().UTC()
	for i, url := range []string{"github.com/a/one", "github.com/a/two", "github.com/a/three"} {
		job := newJob(url)
		job.AutoDispatch = i != 1 // middle job is manual-only
		job.Priority = models.PriorityHigh
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if _, _, err := store.CreateJobIfAbsent(ctx, job); err != nil {
			t.Fatalf("CreateJobIfAbsent: %v", err)
		}
	}

	ids, priorities, err := store.ListDispatchableJobIDs(ctx, 10)
	if err != nil {
		t.Fatalf("ListDispatchableJobIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("ids = %v, want [1 3]", ids)
	}
	if len(priorities) != 2 || priorities[0] != models.PriorityHigh {
		t.Fatalf("priorities = %v", priorities)
	}
}
