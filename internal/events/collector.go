package events

import (
	"context"
	"time"

	"sourceradar/internal/models"
)

type HealthStatus struct {
	Status     string
	LastPollAt *time.Time
	LastError  *string
	Details    map[string]any
}

type SourceInfo struct {
	SourceType   string
	Endpoint     string
	PollInterval time.Duration
}

type CollectorSourceInfo interface {
	SourceInfo() SourceInfo
}

// Collector produces candidate events. Start blocks until ctx is cancelled.
type Collector interface {
	Name() string
	Start(ctx context.Context, out chan<- models.CandidateEvent) error
	Stop() error
	Health() HealthStatus
}
