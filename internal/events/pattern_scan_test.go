package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"sourceradar/internal/client/github"
	"sourceradar/internal/models"
	"sourceradar/internal/repository/memory"
	"sourceradar/internal/service"
)

const searchFixture = `{"total_count":1,"items":[{` +
	`"full_name":"apache/spark","html_url":"https://github.com/apache/spark",` +
	`"description":"apache spark core engine","language":"Scala",` +
	`"stargazers_count":500,"topics":["spark"],` +
	`"created_at":"2015-01-01T00:00:00Z","pushed_at":"2026-08-01T00:00:00Z"}]}`

func TestScanSwitchGatesEachTick(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	settings := &service.SystemSettingsService{Repo: store}

	if err := store.UpsertPattern(ctx, &models.DiscoveryPattern{
		Name:            "spark",
		IncludeKeywords: models.EncodeStrings([]string{"spark"}),
		MinStars:        10,
		IsActive:        true,
	}); err != nil {
		t.Fatalf("UpsertPattern: %v", err)
	}

	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchFixture))
	}))
	defer srv.Close()

	collector := &PatternScanCollector{
		Repo:   store,
		Client: github.NewClient(srv.Client(), srv.URL, ""),
		Enabled: func(ctx context.Context) bool {
			return settings.IsEnabled(ctx, service.FeaturePatternScan, true)
		},
	}
	out := make(chan models.CandidateEvent, 8)

	// Switch off: the tick is a no-op, no API call, nothing emitted.
	if err := settings.SetEnabled(ctx, service.FeaturePatternScan, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if err := collector.scanOnce(ctx, out, time.Now().UTC()); err != nil {
		t.Fatalf("scanOnce (disabled): %v", err)
	}
	if n := atomic.LoadInt64(&calls); n != 0 {
		t.Fatalf("search API called %d times while scan switch is off", n)
	}
	if len(out) != 0 {
		t.Fatalf("emitted %d events while scan switch is off", len(out))
	}

	// Switch back on: the next tick scans without a restart.
	if err := settings.SetEnabled(ctx, service.FeaturePatternScan, true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if err := collector.scanOnce(ctx, out, time.Now().UTC()); err != nil {
		t.Fatalf("scanOnce (enabled): %v", err)
	}
	if n := atomic.LoadInt64(&calls); n == 0 {
		t.Fatal("search API not called after re-enabling the scan switch")
	}
	select {
	case ev := <-out:
		if ev.Origin != models.OriginScan {
			t.Fatalf("origin = %q, want %q", ev.Origin, models.OriginScan)
		}
		if ev.SourceURL != "https://github.com/apache/spark" {
			t.Fatalf("source url = %q", ev.SourceURL)
		}
	default:
		t.Fatal("no event emitted after re-enabling the scan switch")
	}
}
