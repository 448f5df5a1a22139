package gormrepository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sourceradar/internal/models"
	"sourceradar/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Patterns & thresholds --------------------------------------------------

func (s *Store) UpsertPattern(ctx context.Context, item *models.DiscoveryPattern) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Name) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"include_keywords",
			"exclude_keywords",
			"languages",
			"min_stars",
			"max_age_days",
			"relevance_threshold",
			"auto_collect",
			"is_active",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetPatternByID(ctx context.Context, id uint64) (*models.DiscoveryPattern, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.DiscoveryPattern
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPatterns(ctx context.Context, params repository.ListPatternsParams) ([]models.DiscoveryPattern, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.DiscoveryPattern{})
	if params.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.DiscoveryPattern
	if err := query.Order("id asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SetPatternActive(ctx context.Context, id uint64, active bool) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.DiscoveryPattern{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": active, "updated_at": time.Now().UTC()}).Error
}

func (s *Store) RecordPatternMatch(ctx context.Context, id uint64, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return s.db.WithContext(ctx).
		Model(&models.DiscoveryPattern{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"total_matches":   gorm.Expr("total_matches + 1"),
			"last_matched_at": at,
		}).Error
}

func (s *Store) GetThresholds(ctx context.Context) (*models.ThresholdConfig, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.ThresholdConfig
	err := s.db.WithContext(ctx).Order("version desc").First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// SaveThresholds validates, then appends a new version. A failed validation
// leaves the prior configuration untouched.
func (s *Store) SaveThresholds(ctx context.Context, item *models.ThresholdConfig) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if err := item.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.ThresholdConfig
		err := tx.Order("version desc").First(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			item.Version = 1
		case err != nil:
			return err
		default:
			item.Version = current.Version + 1
		}
		item.ID = 0
		return tx.Create(item).Error
	})
}

// --- Scoring model registry -------------------------------------------------

func (s *Store) UpsertScoringModel(ctx context.Context, item *models.ScoringModel) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Version) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "version"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"accuracy",
			"precision",
			"recall",
			"f1",
			"training_sample_count",
			"weights",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetScoringModelByID(ctx context.Context, id uint64) (*models.ScoringModel, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.ScoringModel
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetActiveScoringModel(ctx context.Context) (*models.ScoringModel, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.ScoringModel
	err := s.db.WithContext(ctx).Where("is_active = ?", true).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListScoringModels(ctx context.Context) ([]models.ScoringModel, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ScoringModel
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) PromoteScoringModel(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target models.ScoringModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&target, "id = ?", id).Error; err != nil {
			return err
		}
		if target.Status != models.ModelStatusReady {
			return repository.ErrInvalidTransition
		}
		if err := tx.Model(&models.ScoringModel{}).
			Where("is_active = ?", true).
			Updates(map[string]any{"is_active": false, "updated_at": time.Now().UTC()}).Error; err != nil {
			return err
		}
		return tx.Model(&models.ScoringModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"is_active": true, "updated_at": time.Now().UTC()}).Error
	})
}

// --- Jobs / state machine ---------------------------------------------------

func (s *Store) CreateJobIfAbsent(ctx context.Context, item *models.CollectionJob) (bool, *models.CollectionJob, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil, nil
	}
	var existing *models.CollectionJob
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serialize concurrent admissions of the same URL. A plain row lock
		// cannot cover the no-row case, so take a URL-scoped advisory lock
		// for the duration of the transaction.
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", item.SourceURL).Error; err != nil {
			return err
		}
		var blocking models.CollectionJob
		err := tx.Where("source_url = ?", item.SourceURL).
			Where("status IN ?", models.NonTerminalStatuses()).
			First(&blocking).Error
		switch {
		case err == nil:
			existing = &blocking
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			// fall through to insert
		default:
			return err
		}
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return created, existing, nil
}

func (s *Store) GetJobByID(ctx context.Context, id uint64) (*models.CollectionJob, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CollectionJob
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func applyJobFilters(query *gorm.DB, params repository.ListJobsParams) *gorm.DB {
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Priority != nil && strings.TrimSpace(*params.Priority) != "" {
		query = query.Where("priority = ?", strings.TrimSpace(*params.Priority))
	}
	if params.Origin != nil && strings.TrimSpace(*params.Origin) != "" {
		query = query.Where("origin = ?", strings.TrimSpace(*params.Origin))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) ListJobs(ctx context.Context, params repository.ListJobsParams) ([]models.CollectionJob, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyJobFilters(s.db.WithContext(ctx).Model(&models.CollectionJob{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.CollectionJob
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountJobs(ctx context.Context, params repository.ListJobsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := applyJobFilters(s.db.WithContext(ctx).Model(&models.CollectionJob{}), params)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) CountJobsGrouped(ctx context.Context) (repository.JobCounts, error) {
	counts := repository.JobCounts{
		ByStatus:   map[string]int64{},
		ByPriority: map[string]int64{},
		ByOrigin:   map[string]int64{},
	}
	if s == nil || s.db == nil {
		return counts, nil
	}
	type row struct {
		Key   string
		Total int64
	}
	for column, dest := range map[string]map[string]int64{
		"status":   counts.ByStatus,
		"priority": counts.ByPriority,
		"origin":   counts.ByOrigin,
	} {
		var rows []row
		if err := s.db.WithContext(ctx).
			Model(&models.CollectionJob{}).
			Select(column + " AS key, COUNT(*) AS total").
			Group(column).
			Scan(&rows).Error; err != nil {
			return counts, err
		}
		for _, r := range rows {
			dest[r.Key] = r.Total
		}
	}
	return counts, nil
}

func (s *Store) ClaimJob(ctx context.Context, id uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.CollectionJob{}).
		Where("id = ?", id).
		Where("status = ?", models.JobStatusPending).
		Updates(map[string]any{
			"status":     models.JobStatusProcessing,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) UpdateJobProgress(ctx context.Context, id uint64, progress int) error {
	if s == nil || s.db == nil {
		return nil
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	// Monotonic within a run: regressions are dropped, not errored, because
	// progress is advisory only.
	return s.db.WithContext(ctx).
		Model(&models.CollectionJob{}).
		Where("id = ?", id).
		Where("status = ?", models.JobStatusProcessing).
		Where("progress <= ?", progress).
		Update("progress", progress).Error
}

func (s *Store) CompleteJob(ctx context.Context, id uint64, insights []string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	raw, err := json.Marshal(insights)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Model(&models.CollectionJob{}).
		Where("id = ?", id).
		Where("status = ?", models.JobStatusProcessing).
		Updates(map[string]any{
			"status":       models.JobStatusCompleted,
			"progress":     100,
			"insights":     datatypes.JSON(raw),
			"completed_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrInvalidTransition
	}
	return nil
}

func (s *Store) FailJob(ctx context.Context, id uint64, reason string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).
		Model(&models.CollectionJob{}).
		Where("id = ?", id).
		Where("status = ?", models.JobStatusProcessing).
		Updates(map[string]any{
			"status":         models.JobStatusFailed,
			"failure_reason": reason,
			"updated_at":     at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrInvalidTransition
	}
	return nil
}

func (s *Store) RetryJob(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.CollectionJob
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, "id = ?", id).Error; err != nil {
			return err
		}
		if job.Status != models.JobStatusFailed {
			return repository.ErrInvalidTransition
		}
		if job.RetryCount >= models.MaxJobRetries {
			return repository.ErrRetryExhausted
		}
		return tx.Model(&models.CollectionJob{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":         models.JobStatusPending,
				"retry_count":    job.RetryCount + 1,
				"progress":       0,
				"failure_reason": nil,
				"updated_at":     time.Now().UTC(),
			}).Error
	})
}

func (s *Store) MarkJobAutoDispatch(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.CollectionJob{}).
		Where("id = ?", id).
		Where("status = ?", models.JobStatusPending).
		Updates(map[string]any{"auto_dispatch": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrInvalidTransition
	}
	return nil
}

func (s *Store) ListDispatchableJobIDs(ctx context.Context, limit int) ([]uint64, []string, error) {
	if s == nil || s.db == nil {
		return nil, nil, nil
	}
	limit = normalizeLimit(limit, 100)
	var rows []models.CollectionJob
	err := s.db.WithContext(ctx).
		Model(&models.CollectionJob{}).
		Select("id", "priority").
		Where("status = ?", models.JobStatusPending).
		Where("auto_dispatch = ?", true).
		Order("created_at asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	ids := make([]uint64, 0, len(rows))
	priorities := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
		priorities = append(priorities, r.Priority)
	}
	return ids, priorities, nil
}

// --- Discovery audit trail --------------------------------------------------

func (s *Store) InsertDiscoveryEvent(ctx context.Context, item *models.DiscoveryEvent) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func applyEventFilters(query *gorm.DB, params repository.ListEventsParams) *gorm.DB {
	if params.Origin != nil && strings.TrimSpace(*params.Origin) != "" {
		query = query.Where("origin = ?", strings.TrimSpace(*params.Origin))
	}
	if params.Decision != nil && strings.TrimSpace(*params.Decision) != "" {
		query = query.Where("decision = ?", strings.TrimSpace(*params.Decision))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) ListDiscoveryEvents(ctx context.Context, params repository.ListEventsParams) ([]models.DiscoveryEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyEventFilters(s.db.WithContext(ctx).Model(&models.DiscoveryEvent{}), params)
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.DiscoveryEvent
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountDiscoveryEvents(ctx context.Context, params repository.ListEventsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := applyEventFilters(s.db.WithContext(ctx).Model(&models.DiscoveryEvent{}), params)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) DeleteDiscoveryEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if before.IsZero() {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&models.DiscoveryEvent{})
	return res.RowsAffected, res.Error
}

// --- Adapter health ---------------------------------------------------------

func (s *Store) UpsertEventSource(ctx context.Context, item *models.EventSource) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Name) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source_type",
			"endpoint",
			"poll_interval",
			"enabled",
			"last_poll_at",
			"last_error",
			"health_status",
			"config",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListEventSources(ctx context.Context) ([]models.EventSource, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.EventSource
	if err := s.db.WithContext(ctx).Order("name asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Scanner resume state ---------------------------------------------------

func (s *Store) GetScanState(ctx context.Context, scope string) (*models.ScanState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.ScanState
	err := s.db.WithContext(ctx).First(&item, "scope = ?", scope).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveScanState(ctx context.Context, state *models.ScanState) error {
	if s == nil || s.db == nil || state == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}},
		UpdateAll: true,
	}).Create(state).Error
}

// --- System settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "description", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).First(&item, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SystemSetting
	if err := s.db.WithContext(ctx).Order("key asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
