package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"sourceradar/internal/models"
	"sourceradar/internal/repository/memory"
)

type stubIngestor struct {
	events []models.CandidateEvent
	full   bool
}

func (s *stubIngestor) Ingest(event models.CandidateEvent) bool {
	if s.full {
		return false
	}
	s.events = append(s.events, event)
	return true
}

func postJSON(t *testing.T, r *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookAcceptsNotification(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := &stubIngestor{}
	r := gin.New()
	(&WebhookHandler{Hub: hub}).Register(r)

	w := postJSON(t, r, "/api/v1/webhooks/repository", map[string]any{
		"repositoryFullName": "apache/spark",
		"url":                "https://github.com/apache/spark",
		"description":        "apache spark core engine",
		"language":           "scala",
		"starCount":          500,
		"eventType":          "push",
		"createdAt":          "2020-01-01T00:00:00Z",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(hub.events) != 1 {
		t.Fatalf("expected one ingested event, got %d", len(hub.events))
	}
	ev := hub.events[0]
	if ev.Origin != models.OriginWebhook {
		t.Fatalf("expected webhook origin, got %q", ev.Origin)
	}
	if ev.Metadata.Stars != 500 || ev.Metadata.Language != "scala" {
		t.Fatalf("metadata not adapted: %+v", ev.Metadata)
	}
	if ev.Metadata.AgeDays == 0 {
		t.Fatalf("age should be derived from creation date")
	}
}

func TestWebhookRejectsPayloadWithoutURL(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := &stubIngestor{}
	r := gin.New()
	(&WebhookHandler{Hub: hub}).Register(r)

	w := postJSON(t, r, "/api/v1/webhooks/repository", map[string]any{
		"starCount": 10,
		"eventType": "push",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(hub.events) != 0 {
		t.Fatalf("nothing should be ingested")
	}
}

func TestWebhookReportsBackpressure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	(&WebhookHandler{Hub: &stubIngestor{full: true}}).Register(r)

	w := postJSON(t, r, "/api/v1/webhooks/repository", map[string]any{
		"url":       "github.com/a/b",
		"starCount": 1,
		"eventType": "push",
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestPutThresholdsRejectsBrokenOrdering(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := memory.New()
	r := gin.New()
	(&ThresholdHandler{Repo: store}).Register(r)

	w := postPut(t, r, "/api/v1/thresholds", map[string]any{
		"minimum_score":      "80",
		"auto_collect_score": "70",
		"priority_score":     "90",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	// Prior configuration (none) is retained: the store still has no rows.
	cfg, err := store.GetThresholds(context.Background())
	if err != nil {
		t.Fatalf("get thresholds: %v", err)
	}
	if cfg != nil {
		t.Fatalf("rejected write must not persist, got %+v", cfg)
	}
}

func TestPutThresholdsAcceptsValidOrdering(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := memory.New()
	r := gin.New()
	(&ThresholdHandler{Repo: store}).Register(r)

	w := postPut(t, r, "/api/v1/thresholds", map[string]any{
		"minimum_score":      "60",
		"auto_collect_score": "75",
		"priority_score":     "85",
		"updated_by":         "ops",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	cfg, err := store.GetThresholds(context.Background())
	if err != nil || cfg == nil {
		t.Fatalf("thresholds not persisted: %v", err)
	}
	if cfg.Version != 1 {
		t.Fatalf("expected version 1, got %d", cfg.Version)
	}
}

func postPut(t *testing.T, r *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPut, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRetryEndpointRespectsBudget(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := memory.New()
	ctx := context.Background()

	job := &models.CollectionJob{
		SourceURL: "github.com/flaky/repo",
		Status:    models.JobStatusPending,
		Priority:  models.PriorityNormal,
		Origin:    models.OriginScan,
	}
	if created, _, err := store.CreateJobIfAbsent(ctx, job); err != nil || !created {
		t.Fatalf("seed job: created=%v err=%v", created, err)
	}
	failOnce := func() {
		if _, err := store.ClaimJob(ctx, job.ID); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := store.FailJob(ctx, job.ID, "boom", job.CreatedAt); err != nil {
			t.Fatalf("fail: %v", err)
		}
	}
	failOnce()

	r := gin.New()
	(&JobHandler{Repo: store}).Register(r)

	w := postJSON(t, r, "/api/v1/jobs/1/retry", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("first retry should succeed, got %d: %s", w.Code, w.Body.String())
	}

	failOnce()
	w = postJSON(t, r, "/api/v1/jobs/1/retry", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second retry must be refused, got %d", w.Code)
	}
}
