// Package memory is a mutex-guarded, in-process implementation of
// repository.Repository. It backs the test suites for the scorer, admission
// controller, and worker pool, and mirrors the gorm store's semantics exactly:
// insert-if-absent dedup, CAS claims, transition legality, monotonic progress.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/datatypes"

	"sourceradar/internal/models"
	"sourceradar/internal/repository"
)

type Store struct {
	mu sync.Mutex

	patterns   map[uint64]models.DiscoveryPattern
	thresholds []models.ThresholdConfig
	scModels   map[uint64]models.ScoringModel
	jobs       map[uint64]models.CollectionJob
	events     []models.DiscoveryEvent
	sources    map[string]models.EventSource
	scanStates map[string]models.ScanState
	settings   map[string]models.SystemSetting

	nextPatternID uint64
	nextModelID   uint64
	nextJobID     uint64
	nextEventID   uint64
}

func New() *Store {
	return &Store{
		patterns:   map[uint64]models.DiscoveryPattern{},
		scModels:   map[uint64]models.ScoringModel{},
		jobs:       map[uint64]models.CollectionJob{},
		sources:    map[string]models.EventSource{},
		scanStates: map[string]models.ScanState{},
		settings:   map[string]models.SystemSetting{},
	}
}

var _ repository.Repository = (*Store)(nil)

// --- Patterns & thresholds --------------------------------------------------

func (s *Store) UpsertPattern(ctx context.Context, item *models.DiscoveryPattern) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		for _, p := range s.patterns {
			if p.Name == item.Name {
				item.ID = p.ID
				break
			}
		}
	}
	if item.ID == 0 {
		s.nextPatternID++
		item.ID = s.nextPatternID
	} else if item.ID > s.nextPatternID {
		s.nextPatternID = item.ID
	}
	s.patterns[item.ID] = *item
	return nil
}

func (s *Store) GetPatternByID(ctx context.Context, id uint64) (*models.DiscoveryPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	if !ok {
		return nil, nil
	}
	out := p
	return &out, nil
}

func (s *Store) ListPatterns(ctx context.Context, params repository.ListPatternsParams) ([]models.DiscoveryPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]models.DiscoveryPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		if params.ActiveOnly && !p.IsActive {
			continue
		}
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *Store) SetPatternActive(ctx context.Context, id uint64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	if !ok {
		return nil
	}
	p.IsActive = active
	s.patterns[id] = p
	return nil
}

func (s *Store) RecordPatternMatch(ctx context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	if !ok {
		return nil
	}
	p.TotalMatches++
	t := at
	p.LastMatchedAt = &t
	s.patterns[id] = p
	return nil
}

func (s *Store) GetThresholds(ctx context.Context) (*models.ThresholdConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.thresholds) == 0 {
		return nil, nil
	}
	out := s.thresholds[len(s.thresholds)-1]
	return &out, nil
}

func (s *Store) SaveThresholds(ctx context.Context, item *models.ThresholdConfig) error {
	if item == nil {
		return nil
	}
	if err := item.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Version = len(s.thresholds) + 1
	s.thresholds = append(s.thresholds, *item)
	return nil
}

// --- Scoring model registry -------------------------------------------------

func (s *Store) UpsertScoringModel(ctx context.Context, item *models.ScoringModel) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		for _, m := range s.scModels {
			if m.Version == item.Version {
				item.ID = m.ID
				item.IsActive = m.IsActive
				break
			}
		}
	}
	if item.ID == 0 {
		s.nextModelID++
		item.ID = s.nextModelID
	}
	s.scModels[item.ID] = *item
	return nil
}

func (s *Store) GetScoringModelByID(ctx context.Context, id uint64) (*models.ScoringModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scModels[id]
	if !ok {
		return nil, nil
	}
	out := m
	return &out, nil
}

func (s *Store) GetActiveScoringModel(ctx context.Context) (*models.ScoringModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.scModels {
		if m.IsActive {
			out := m
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) ListScoringModels(ctx context.Context) ([]models.ScoringModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]models.ScoringModel, 0, len(s.scModels))
	for _, m := range s.scModels {
		items = append(items, m)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *Store) PromoteScoringModel(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.scModels[id]
	if !ok {
		return nil
	}
	if target.Status != models.ModelStatusReady {
		return repository.ErrInvalidTransition
	}
	for mid, m := range s.scModels {
		if m.IsActive {
			m.IsActive = false
			s.scModels[mid] = m
		}
	}
	target.IsActive = true
	s.scModels[id] = target
	return nil
}

// --- Jobs / state machine ---------------------------------------------------

func (s *Store) CreateJobIfAbsent(ctx context.Context, item *models.CollectionJob) (bool, *models.CollectionJob, error) {
	if item == nil {
		return false, nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.SourceURL == item.SourceURL && !terminal(j.Status) {
			out := j
			return false, &out, nil
		}
	}
	s.nextJobID++
	item.ID = s.nextJobID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Status == "" {
		item.Status = models.JobStatusPending
	}
	s.jobs[item.ID] = *item
	return true, nil, nil
}

func terminal(status string) bool {
	return status == models.JobStatusCompleted || status == models.JobStatusFailed
}

func (s *Store) GetJobByID(ctx context.Context, id uint64) (*models.CollectionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	out := j
	return &out, nil
}

func matchJob(j models.CollectionJob, params repository.ListJobsParams) bool {
	if params.Status != nil && *params.Status != "" && j.Status != *params.Status {
		return false
	}
	if params.Priority != nil && *params.Priority != "" && j.Priority != *params.Priority {
		return false
	}
	if params.Origin != nil && *params.Origin != "" && j.Origin != *params.Origin {
		return false
	}
	if params.Since != nil && j.CreatedAt.Before(*params.Since) {
		return false
	}
	return true
}

func (s *Store) ListJobs(ctx context.Context, params repository.ListJobsParams) ([]models.CollectionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]models.CollectionJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if matchJob(j, params) {
			items = append(items, j)
		}
	}
	asc := params.Asc != nil && *params.Asc
	sort.Slice(items, func(i, j int) bool {
		if asc {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[j].CreatedAt.Before(items[i].CreatedAt)
	})
	if params.Offset > 0 {
		if params.Offset >= len(items) {
			return nil, nil
		}
		items = items[params.Offset:]
	}
	if params.Limit > 0 && len(items) > params.Limit {
		items = items[:params.Limit]
	}
	return items, nil
}

func (s *Store) CountJobs(ctx context.Context, params repository.ListJobsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, j := range s.jobs {
		if matchJob(j, params) {
			total++
		}
	}
	return total, nil
}

func (s *Store) CountJobsGrouped(ctx context.Context) (repository.JobCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := repository.JobCounts{
		ByStatus:   map[string]int64{},
		ByPriority: map[string]int64{},
		ByOrigin:   map[string]int64{},
	}
	for _, j := range s.jobs {
		counts.ByStatus[j.Status]++
		counts.ByPriority[j.Priority]++
		counts.ByOrigin[j.Origin]++
	}
	return counts, nil
}

func (s *Store) ClaimJob(ctx context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusPending {
		return false, nil
	}
	j.Status = models.JobStatusProcessing
	j.UpdatedAt = time.Now().UTC()
	s.jobs[id] = j
	return true, nil
}

func (s *Store) UpdateJobProgress(ctx context.Context, id uint64, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusProcessing || j.Progress > progress {
		return nil
	}
	j.Progress = progress
	s.jobs[id] = j
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, id uint64, insights []string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	raw, err := json.Marshal(insights)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusProcessing {
		return repository.ErrInvalidTransition
	}
	j.Status = models.JobStatusCompleted
	j.Progress = 100
	j.Insights = datatypes.JSON(raw)
	t := at
	j.CompletedAt = &t
	j.UpdatedAt = at
	s.jobs[id] = j
	return nil
}

func (s *Store) FailJob(ctx context.Context, id uint64, reason string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusProcessing {
		return repository.ErrInvalidTransition
	}
	j.Status = models.JobStatusFailed
	j.FailureReason = &reason
	j.UpdatedAt = at
	s.jobs[id] = j
	return nil
}

func (s *Store) RetryJob(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusFailed {
		return repository.ErrInvalidTransition
	}
	if j.RetryCount >= models.MaxJobRetries {
		return repository.ErrRetryExhausted
	}
	j.Status = models.JobStatusPending
	j.RetryCount++
	j.Progress = 0
	j.FailureReason = nil
	j.UpdatedAt = time.Now().UTC()
	s.jobs[id] = j
	return nil
}

func (s *Store) MarkJobAutoDispatch(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusPending {
		return repository.ErrInvalidTransition
	}
	j.AutoDispatch = true
	j.UpdatedAt = time.Now().UTC()
	s.jobs[id] = j
	return nil
}

func (s *Store) ListDispatchableJobIDs(ctx context.Context, limit int) ([]uint64, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.CollectionJob
	for _, j := range s.jobs {
		if j.Status == models.JobStatusPending && j.AutoDispatch {
			items = append(items, j)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	ids := make([]uint64, 0, len(items))
	priorities := make([]string, 0, len(items))
	for _, j := range items {
		ids = append(ids, j.ID)
		priorities = append(priorities, j.Priority)
	}
	return ids, priorities, nil
}

// --- Discovery audit trail --------------------------------------------------

func (s *Store) InsertDiscoveryEvent(ctx context.Context, item *models.DiscoveryEvent) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	item.ID = s.nextEventID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, *item)
	return nil
}

func matchEvent(e models.DiscoveryEvent, params repository.ListEventsParams) bool {
	if params.Origin != nil && *params.Origin != "" && e.Origin != *params.Origin {
		return false
	}
	if params.Decision != nil && *params.Decision != "" && e.Decision != *params.Decision {
		return false
	}
	if params.Since != nil && e.CreatedAt.Before(*params.Since) {
		return false
	}
	return true
}

func (s *Store) ListDiscoveryEvents(ctx context.Context, params repository.ListEventsParams) ([]models.DiscoveryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.DiscoveryEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if matchEvent(s.events[i], params) {
			items = append(items, s.events[i])
		}
	}
	if params.Offset > 0 {
		if params.Offset >= len(items) {
			return nil, nil
		}
		items = items[params.Offset:]
	}
	if params.Limit > 0 && len(items) > params.Limit {
		items = items[:params.Limit]
	}
	return items, nil
}

func (s *Store) CountDiscoveryEvents(ctx context.Context, params repository.ListEventsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, e := range s.events {
		if matchEvent(e, params) {
			total++
		}
	}
	return total, nil
}

func (s *Store) DeleteDiscoveryEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var removed int64
	for _, e := range s.events {
		if e.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return removed, nil
}

// --- Adapter health ---------------------------------------------------------

func (s *Store) UpsertEventSource(ctx context.Context, item *models.EventSource) error {
	if item == nil || strings.TrimSpace(item.Name) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.sources[item.Name]; ok {
		item.ID = prev.ID
	} else {
		item.ID = uint64(len(s.sources) + 1)
	}
	s.sources[item.Name] = *item
	return nil
}

func (s *Store) ListEventSources(ctx context.Context) ([]models.EventSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]models.EventSource, 0, len(s.sources))
	for _, src := range s.sources {
		items = append(items, src)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// --- Scanner resume state ---------------------------------------------------

func (s *Store) GetScanState(ctx context.Context, scope string) (*models.ScanState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.scanStates[scope]
	if !ok {
		return nil, nil
	}
	out := st
	return &out, nil
}

func (s *Store) SaveScanState(ctx context.Context, state *models.ScanState) error {
	if state == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanStates[state.Scope] = *state
	return nil
}

// --- System settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if item == nil || strings.TrimSpace(item.Key) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.settings[item.Key]; ok {
		item.ID = prev.ID
	} else {
		item.ID = uint64(len(s.settings) + 1)
	}
	s.settings[item.Key] = *item
	return nil
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	out := item
	return &out, nil
}

func (s *Store) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]models.SystemSetting, 0, len(s.settings))
	for _, item := range s.settings {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}
