package repository

import (
	"context"
	"errors"
	"time"

	"sourceradar/internal/models"
)

// ErrInvalidTransition is returned when a job status write does not match the
// legal state machine (pending -> processing -> completed|failed, with one
// failed -> pending retry).
var ErrInvalidTransition = errors.New("illegal job status transition")

// ErrRetryExhausted is returned when a failed job has already used its retry.
var ErrRetryExhausted = errors.New("job retry budget exhausted")

type ListJobsParams struct {
	Limit    int
	Offset   int
	Status   *string
	Priority *string
	Origin   *string
	Since    *time.Time
	OrderBy  string
	Asc      *bool
}

type ListEventsParams struct {
	Limit    int
	Offset   int
	Origin   *string
	Decision *string
	Since    *time.Time
}

type ListPatternsParams struct {
	Limit      int
	Offset     int
	ActiveOnly bool
}

type JobCounts struct {
	ByStatus   map[string]int64
	ByPriority map[string]int64
	ByOrigin   map[string]int64
}

// Repository is the single store surface consumed by the scorer, admission
// controller, worker pool, event adapters, and handlers.
type Repository interface {
	// Patterns & thresholds
	UpsertPattern(ctx context.Context, item *models.DiscoveryPattern) error
	GetPatternByID(ctx context.Context, id uint64) (*models.DiscoveryPattern, error)
	ListPatterns(ctx context.Context, params ListPatternsParams) ([]models.DiscoveryPattern, error)
	SetPatternActive(ctx context.Context, id uint64, active bool) error
	RecordPatternMatch(ctx context.Context, id uint64, at time.Time) error
	GetThresholds(ctx context.Context) (*models.ThresholdConfig, error)
	SaveThresholds(ctx context.Context, item *models.ThresholdConfig) error

	// Scoring model registry
	UpsertScoringModel(ctx context.Context, item *models.ScoringModel) error
	GetScoringModelByID(ctx context.Context, id uint64) (*models.ScoringModel, error)
	GetActiveScoringModel(ctx context.Context) (*models.ScoringModel, error)
	ListScoringModels(ctx context.Context) ([]models.ScoringModel, error)
	// PromoteScoringModel demotes the current active model and promotes the
	// target in one transaction; the target must be ready.
	PromoteScoringModel(ctx context.Context, id uint64) error

	// Jobs / state machine
	// CreateJobIfAbsent atomically checks for a non-terminal job with the
	// same source URL and inserts only when none exists. Returns the created
	// flag and, on a duplicate, the blocking job.
	CreateJobIfAbsent(ctx context.Context, item *models.CollectionJob) (bool, *models.CollectionJob, error)
	GetJobByID(ctx context.Context, id uint64) (*models.CollectionJob, error)
	ListJobs(ctx context.Context, params ListJobsParams) ([]models.CollectionJob, error)
	CountJobs(ctx context.Context, params ListJobsParams) (int64, error)
	CountJobsGrouped(ctx context.Context) (JobCounts, error)
	// ClaimJob is the worker CAS: pending -> processing, exactly one winner.
	ClaimJob(ctx context.Context, id uint64) (bool, error)
	// UpdateJobProgress is advisory and monotonic; regressions are dropped
	// silently, not errored.
	UpdateJobProgress(ctx context.Context, id uint64, progress int) error
	CompleteJob(ctx context.Context, id uint64, insights []string, at time.Time) error
	FailJob(ctx context.Context, id uint64, reason string, at time.Time) error
	// RetryJob moves failed -> pending once; further attempts return
	// ErrRetryExhausted.
	RetryJob(ctx context.Context, id uint64) error
	MarkJobAutoDispatch(ctx context.Context, id uint64) error
	ListDispatchableJobIDs(ctx context.Context, limit int) ([]uint64, []string, error)

	// Discovery audit trail
	InsertDiscoveryEvent(ctx context.Context, item *models.DiscoveryEvent) error
	ListDiscoveryEvents(ctx context.Context, params ListEventsParams) ([]models.DiscoveryEvent, error)
	CountDiscoveryEvents(ctx context.Context, params ListEventsParams) (int64, error)
	DeleteDiscoveryEventsBefore(ctx context.Context, before time.Time) (int64, error)

	// Adapter health
	UpsertEventSource(ctx context.Context, item *models.EventSource) error
	ListEventSources(ctx context.Context) ([]models.EventSource, error)

	// Scanner resume state
	GetScanState(ctx context.Context, scope string) (*models.ScanState, error)
	SaveScanState(ctx context.Context, state *models.ScanState) error

	// System settings
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error)
}
