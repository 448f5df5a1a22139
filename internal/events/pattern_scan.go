package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"sourceradar/internal/client/github"
	"sourceradar/internal/models"
	"sourceradar/internal/repository"
)

// PatternScanCollector polls the repository search API on a timer, once per
// active pattern, and emits a candidate event per result. A per-pattern
// watermark in scan_state keeps repeat scans incremental and lets a restart
// resume where the last run stopped.
type PatternScanCollector struct {
	Repo   repository.Repository
	Client *github.Client
	Logger *zap.Logger

	Interval  time.Duration
	PageLimit int
	MaxPages  int
	Resume    bool

	// Enabled is consulted on every tick, so the scan switch takes effect
	// without a restart. Nil means always on.
	Enabled func(context.Context) bool

	mu      sync.Mutex
	lastRun *time.Time
	lastErr *string
}

func (c *PatternScanCollector) Name() string { return "pattern_scan" }

func (c *PatternScanCollector) SourceInfo() SourceInfo {
	interval := c.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return SourceInfo{SourceType: "poller", Endpoint: "search/repositories", PollInterval: interval}
}

func (c *PatternScanCollector) Start(ctx context.Context, out chan<- models.CandidateEvent) error {
	if c.Repo == nil || c.Client == nil {
		return fmt.Errorf("pattern scan collector not configured")
	}
	interval := c.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			now := time.Now().UTC()
			if err := c.scanOnce(ctx, out, now); err != nil {
				msg := err.Error()
				c.setRun(now, &msg)
				if c.Logger != nil {
					c.Logger.Warn("pattern scan failed", zap.Error(err))
				}
				continue
			}
			c.setRun(now, nil)
		}
	}
}

func (c *PatternScanCollector) Stop() error { return nil }

func (c *PatternScanCollector) Health() HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := "ok"
	if c.lastErr != nil {
		status = "degraded"
	}
	if c.lastRun == nil {
		status = "unknown"
	}
	return HealthStatus{Status: status, LastPollAt: c.lastRun, LastError: c.lastErr}
}

func (c *PatternScanCollector) setRun(at time.Time, errMsg *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := at
	c.lastRun = &t
	c.lastErr = errMsg
}

func (c *PatternScanCollector) scanOnce(ctx context.Context, out chan<- models.CandidateEvent, now time.Time) error {
	if c.Enabled != nil && !c.Enabled(ctx) {
		return nil
	}
	patterns, err := c.Repo.ListPatterns(ctx, repository.ListPatternsParams{ActiveOnly: true})
	if err != nil {
		return fmt.Errorf("list patterns: %w", err)
	}
	for _, pattern := range patterns {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.scanPattern(ctx, out, pattern, now); err != nil {
			if c.Logger != nil {
				c.Logger.Warn("scan pattern failed",
					zap.Uint64("pattern_id", pattern.ID),
					zap.String("pattern", pattern.Name),
					zap.Error(err))
			}
		}
	}
	return nil
}

type scanStats struct {
	Pages   int `json:"pages"`
	Emitted int `json:"emitted"`
}

func (c *PatternScanCollector) scanPattern(ctx context.Context, out chan<- models.CandidateEvent, pattern models.DiscoveryPattern, now time.Time) error {
	scope := scanScope(pattern.ID)
	var watermark *time.Time
	if c.Resume {
		state, err := c.Repo.GetScanState(ctx, scope)
		if err == nil && state != nil {
			watermark = state.WatermarkTS
		}
	}

	maxPages := c.MaxPages
	if maxPages <= 0 {
		maxPages = 3
	}
	perPage := c.PageLimit
	if perPage <= 0 {
		perPage = 50
	}

	stats := scanStats{}
	patternID := pattern.ID
	var newest *time.Time
	var scanErr error

	for page := 1; page <= maxPages; page++ {
		repos, err := c.Client.SearchRepositories(ctx, github.SearchQuery{
			Keywords:    pattern.IncludeList(),
			Languages:   pattern.LanguageList(),
			MinStars:    pattern.MinStars,
			PushedSince: watermark,
			Page:        page,
			PerPage:     perPage,
		})
		if err != nil {
			scanErr = err
			break
		}
		stats.Pages++
		for _, repo := range repos {
			pid := patternID
			ev := models.CandidateEvent{
				SourceURL:  repo.HTMLURL,
				Origin:     models.OriginScan,
				ObservedAt: now,
				PatternID:  &pid,
				Metadata: models.CandidateMetadata{
					Language:    repo.Language,
					Stars:       repo.Stars,
					AgeDays:     ageDays(repo.CreatedAt, now),
					Description: repo.Description,
					Topics:      repo.Topics,
				},
			}
			select {
			case out <- ev:
				stats.Emitted++
			case <-ctx.Done():
				return ctx.Err()
			}
			if newest == nil || repo.PushedAt.After(*newest) {
				pushed := repo.PushedAt
				newest = &pushed
			}
		}
		if len(repos) < perPage {
			break
		}
	}

	c.saveState(ctx, scope, now, newest, stats, scanErr)
	return scanErr
}

func (c *PatternScanCollector) saveState(ctx context.Context, scope string, now time.Time, newest *time.Time, stats scanStats, scanErr error) {
	state, err := c.Repo.GetScanState(ctx, scope)
	if err != nil || state == nil {
		state = &models.ScanState{Scope: scope}
	}
	attempt := now
	state.LastAttemptAt = &attempt
	if scanErr != nil {
		msg := scanErr.Error()
		state.LastError = &msg
	} else {
		state.LastError = nil
		success := now
		state.LastSuccessAt = &success
		if newest != nil {
			state.WatermarkTS = newest
		}
	}
	if raw, err := json.Marshal(stats); err == nil {
		state.StatsJSON = datatypes.JSON(raw)
	}
	if err := c.Repo.SaveScanState(ctx, state); err != nil && c.Logger != nil {
		c.Logger.Warn("save scan state failed", zap.String("scope", scope), zap.Error(err))
	}
}

func scanScope(patternID uint64) string {
	return fmt.Sprintf("pattern:%d", patternID)
}

func ageDays(createdAt, now time.Time) int {
	if createdAt.IsZero() || createdAt.After(now) {
		return 0
	}
	return int(now.Sub(createdAt).Hours() / 24)
}
