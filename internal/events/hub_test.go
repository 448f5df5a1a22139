package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"sourceradar/internal/models"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://GitHub.com/apache/spark/", "github.com/apache/spark"},
		{"http://github.com/apache/spark?tab=readme#top", "github.com/apache/spark"},
		{"github.com/apache/spark", "github.com/apache/spark"},
		{"gitlab.com/group/project/", "gitlab.com/group/project"},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in)
		if err != nil {
			t.Fatalf("NormalizeURL(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeURLRejectsEmpty(t *testing.T) {
	if _, err := NormalizeURL("   "); err == nil {
		t.Fatalf("expected error for blank url")
	}
}

func TestNormalizeDefaultsOriginAndTimestamp(t *testing.T) {
	ev, err := Normalize(models.CandidateEvent{SourceURL: "github.com/a/b"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Origin != models.OriginWebhook {
		t.Fatalf("expected webhook origin default, got %q", ev.Origin)
	}
	if ev.ObservedAt.IsZero() {
		t.Fatalf("expected observedAt to be set")
	}
}

type captureSink struct {
	mu     sync.Mutex
	events []models.CandidateEvent
}

func (s *captureSink) HandleEvent(ctx context.Context, event models.CandidateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) snapshot() []models.CandidateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CandidateEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestHubForwardsIngestedEvents(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(nil, sink, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()

	if !hub.Ingest(models.CandidateEvent{SourceURL: "https://github.com/apache/spark/"}) {
		t.Fatalf("ingest refused")
	}
	hub.Ingest(models.CandidateEvent{SourceURL: ""}) // malformed, must be dropped

	deadline := time.After(2 * time.Second)
	for {
		events := sink.snapshot()
		if len(events) == 1 {
			if events[0].SourceURL != "github.com/apache/spark" {
				t.Fatalf("expected normalized url, got %q", events[0].SourceURL)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("sink never received event, have %d", len(events))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestCandidateFromPayloadDerivesAge(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	created := "2026-05-02T00:00:00Z"
	desc := "stream processing engine"
	lang := "go"

	ev, err := CandidateFromPayload("apache/flink", "", &desc, &lang, 120, &created, nil, now)
	if err != nil {
		t.Fatalf("adapt payload: %v", err)
	}
	if ev.SourceURL != "github.com/apache/flink" {
		t.Fatalf("expected url derived from full name, got %q", ev.SourceURL)
	}
	if ev.Metadata.AgeDays != 30 {
		t.Fatalf("expected age 30 days, got %d", ev.Metadata.AgeDays)
	}
	if ev.Origin != models.OriginWebhook {
		t.Fatalf("expected webhook origin, got %q", ev.Origin)
	}
}
