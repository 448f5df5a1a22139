package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"sourceradar/internal/models"
)

// firehosePayload is the push notification shape delivered over the stream,
// the same contract the HTTP webhook receiver accepts.
type firehosePayload struct {
	RepositoryFullName string  `json:"repositoryFullName"`
	URL                string  `json:"url"`
	Description        *string `json:"description,omitempty"`
	Language           *string `json:"language,omitempty"`
	StarCount          int     `json:"starCount"`
	EventType          string  `json:"eventType"`
	CreatedAt          *string  `json:"createdAt,omitempty"`
	Topics             []string `json:"topics,omitempty"`
}

// FirehoseCollector consumes a websocket stream of repository change
// notifications, the push-driven counterpart to the pattern scanner.
// Disconnects are retried with capped exponential backoff plus jitter.
type FirehoseCollector struct {
	URL    string
	Logger *zap.Logger

	BackoffMin time.Duration
	BackoffMax time.Duration

	mu       sync.Mutex
	lastRead *time.Time
	lastErr  *string
}

func (c *FirehoseCollector) Name() string { return "firehose" }

func (c *FirehoseCollector) SourceInfo() SourceInfo {
	return SourceInfo{SourceType: "stream", Endpoint: c.URL}
}

func (c *FirehoseCollector) Start(ctx context.Context, out chan<- models.CandidateEvent) error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("firehose url is empty")
	}
	backoffMin := c.BackoffMin
	if backoffMin <= 0 {
		backoffMin = 1 * time.Second
	}
	backoffMax := c.BackoffMax
	if backoffMax <= 0 {
		backoffMax = 30 * time.Second
	}

	backoff := backoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, _, err := websocket.Dial(ctx, c.URL, nil)
		if err != nil {
			c.setErr(err)
			if c.Logger != nil {
				c.Logger.Warn("firehose connect failed", zap.Error(err))
			}
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, backoffMax)
			continue
		}
		conn.SetReadLimit(1 << 20)
		if c.Logger != nil {
			c.Logger.Info("firehose connected", zap.String("url", c.URL))
		}
		backoff = backoffMin

		err = c.consume(ctx, conn, out)
		_ = conn.Close(websocket.StatusNormalClosure, "reconnect")
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		c.setErr(err)
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, backoffMax)
	}
}

func (c *FirehoseCollector) consume(ctx context.Context, conn *websocket.Conn, out chan<- models.CandidateEvent) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		c.setRead(now)

		var payload firehosePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			if c.Logger != nil {
				c.Logger.Warn("firehose payload unparseable", zap.Error(err))
			}
			continue
		}
		ev, err := CandidateFromPayload(payload.RepositoryFullName, payload.URL,
			payload.Description, payload.Language, payload.StarCount, payload.CreatedAt, payload.Topics, now)
		if err != nil {
			if c.Logger != nil {
				c.Logger.Warn("firehose payload rejected", zap.Error(err))
			}
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *FirehoseCollector) Stop() error { return nil }

func (c *FirehoseCollector) Health() HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := "ok"
	if c.lastErr != nil {
		status = "degraded"
	}
	if c.lastRead == nil {
		status = "unknown"
	}
	return HealthStatus{Status: status, LastPollAt: c.lastRead, LastError: c.lastErr}
}

func (c *FirehoseCollector) setRead(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := at
	c.lastRead = &t
	c.lastErr = nil
}

func (c *FirehoseCollector) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := err.Error()
	c.lastErr = &msg
}

// CandidateFromPayload adapts a push notification into a candidate event.
// Age in days is derived from the repository creation date when present. The
// HTTP webhook handler shares this adapter with the firehose.
func CandidateFromPayload(fullName, rawURL string, description, language *string, stars int, createdAt *string, topics []string, now time.Time) (models.CandidateEvent, error) {
	sourceURL := strings.TrimSpace(rawURL)
	if sourceURL == "" && strings.TrimSpace(fullName) != "" {
		sourceURL = "github.com/" + strings.TrimSpace(fullName)
	}
	if sourceURL == "" {
		return models.CandidateEvent{}, ErrEmptyURL
	}

	age := 0
	if createdAt != nil {
		if created, err := time.Parse(time.RFC3339, *createdAt); err == nil {
			age = ageDays(created, now)
		}
	}
	ev := models.CandidateEvent{
		SourceURL:  sourceURL,
		Origin:     models.OriginWebhook,
		ObservedAt: now,
		Metadata: models.CandidateMetadata{
			Stars:   stars,
			AgeDays: age,
			Topics:  topics,
		},
	}
	if description != nil {
		ev.Metadata.Description = *description
	}
	if language != nil {
		ev.Metadata.Language = *language
	}
	return ev, nil
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(base / 2)))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
