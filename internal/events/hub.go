// Package events runs the event source adapters and funnels every candidate
// they produce, normalized, into the admission pipeline.
package events

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sourceradar/internal/models"
	"sourceradar/internal/repository"
)

// ErrEmptyURL marks an inbound event without a usable source URL. Such events
// are dropped before scoring.
var ErrEmptyURL = errors.New("source url is empty")

// Sink consumes normalized candidate events. The admission controller is the
// production sink.
type Sink interface {
	HandleEvent(ctx context.Context, event models.CandidateEvent)
}

// Hub runs collectors, normalizes their output, and hands each event to the
// sink. Push-style producers (the webhook handler) bypass collectors and call
// Ingest directly; both paths share normalization.
type Hub struct {
	collectors map[string]Collector
	mu         sync.RWMutex

	sink   Sink
	repo   repository.Repository
	logger *zap.Logger

	ingest       chan models.CandidateEvent
	droppedBadly uint64
	droppedFull  uint64
}

func NewHub(repo repository.Repository, sink Sink, logger *zap.Logger) *Hub {
	return &Hub{
		collectors: map[string]Collector{},
		sink:       sink,
		repo:       repo,
		logger:     logger,
		ingest:     make(chan models.CandidateEvent, 128),
	}
}

func (h *Hub) Register(c Collector) {
	if h == nil || c == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.collectors[c.Name()] = c
}

// Ingest queues an externally produced event (webhook receiver). It never
// blocks; when the buffer is full the event is dropped and counted.
func (h *Hub) Ingest(event models.CandidateEvent) bool {
	if h == nil {
		return false
	}
	select {
	case h.ingest <- event:
		return true
	default:
		atomic.AddUint64(&h.droppedFull, 1)
		return false
	}
}

func (h *Hub) Run(ctx context.Context) error {
	if h == nil {
		return nil
	}
	out := make(chan models.CandidateEvent, 128)

	h.mu.RLock()
	collectors := make([]Collector, 0, len(h.collectors))
	for _, c := range h.collectors {
		collectors = append(collectors, c)
	}
	h.mu.RUnlock()

	for _, c := range collectors {
		c := c
		h.upsertSource(ctx, c, HealthStatus{Status: "unknown"})
		go func() {
			if err := c.Start(ctx, out); err != nil && h.logger != nil {
				h.logger.Warn("collector stopped", zap.String("collector", c.Name()), zap.Error(err))
			}
		}()
	}

	healthTicker := time.NewTicker(30 * time.Second)
	defer healthTicker.Stop()
	statsTicker := time.NewTicker(60 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, c := range collectors {
				_ = c.Stop()
			}
			return ctx.Err()
		case <-healthTicker.C:
			for _, c := range collectors {
				h.upsertSource(ctx, c, c.Health())
			}
		case <-statsTicker.C:
			if h.logger != nil {
				h.logger.Info("event hub stats",
					zap.Uint64("dropped_invalid", atomic.LoadUint64(&h.droppedBadly)),
					zap.Uint64("dropped_full", atomic.LoadUint64(&h.droppedFull)),
				)
			}
		case ev := <-out:
			h.forward(ctx, ev)
		case ev := <-h.ingest:
			h.forward(ctx, ev)
		}
	}
}

func (h *Hub) forward(ctx context.Context, ev models.CandidateEvent) {
	normalized, err := Normalize(ev)
	if err != nil {
		atomic.AddUint64(&h.droppedBadly, 1)
		if h.logger != nil {
			h.logger.Warn("dropping malformed candidate", zap.String("url", ev.SourceURL), zap.Error(err))
		}
		return
	}
	if h.sink != nil {
		h.sink.HandleEvent(ctx, normalized)
	}
}

// Normalize validates an event and canonicalizes its URL so both adapters
// produce the same dedup key for the same source.
func Normalize(ev models.CandidateEvent) (models.CandidateEvent, error) {
	canonical, err := NormalizeURL(ev.SourceURL)
	if err != nil {
		return ev, err
	}
	ev.SourceURL = canonical
	if ev.Origin == "" {
		ev.Origin = models.OriginWebhook
	}
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = time.Now().UTC()
	}
	return ev, nil
}

// NormalizeURL canonicalizes a source URL into the dedup key form: scheme
// stripped, host lowercased, query/fragment dropped, trailing slash removed.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(parsed.Host)
	if host == "" {
		return "", ErrEmptyURL
	}
	path := strings.TrimRight(parsed.Path, "/")
	return host + path, nil
}

func (h *Hub) upsertSource(ctx context.Context, c Collector, health HealthStatus) {
	if h == nil || h.repo == nil || c == nil {
		return
	}
	info := SourceInfo{SourceType: "internal"}
	if p, ok := c.(CollectorSourceInfo); ok {
		info = p.SourceInfo()
	}
	hs := health.Status
	if hs == "" {
		hs = "unknown"
	}
	now := time.Now().UTC()
	lastPoll := health.LastPollAt
	if lastPoll == nil {
		lastPoll = &now
	}
	item := &models.EventSource{
		Name:         c.Name(),
		SourceType:   info.SourceType,
		Endpoint:     info.Endpoint,
		PollInterval: durationString(info.PollInterval),
		Enabled:      true,
		LastPollAt:   lastPoll,
		LastError:    health.LastError,
		HealthStatus: hs,
	}
	_ = h.repo.UpsertEventSource(ctx, item)
}

func durationString(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}
