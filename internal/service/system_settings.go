package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"sourceradar/internal/models"
	"sourceradar/internal/repository"
)

const (
	FeaturePatternScan  = "feature.pattern_scan"
	FeatureFirehose     = "feature.firehose"
	FeatureWorkerPool   = "feature.worker_pool"
	FeatureEventCleanup = "feature.event_cleanup"
	FeatureRequeueSweep = "feature.requeue_sweep"
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeaturePatternScan:  true,
		FeatureFirehose:     false, // needs a configured stream URL
		FeatureWorkerPool:   true,
		FeatureEventCleanup: true,
		FeatureRequeueSweep: true,
	}
}

type SystemSettingsService struct {
	Repo repository.Repository
}

func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	raw, _ := json.Marshal(enabled)
	existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &models.SystemSetting{
			Key:         key,
			Description: "feature switch",
			CreatedAt:   now,
		}
	}
	existing.Value = datatypes.JSON(raw)
	existing.UpdatedAt = now
	return s.Repo.UpsertSystemSetting(ctx, existing)
}
