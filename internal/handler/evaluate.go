package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sourceradar/internal/events"
	"sourceradar/internal/models"
	"sourceradar/internal/scorer"
)

// EvaluateHandler is the synchronous preview endpoint: score a URL against
// the current patterns, model, and thresholds without creating a job.
type EvaluateHandler struct {
	Scorer *scorer.Scorer
}

func (h *EvaluateHandler) Register(r *gin.Engine) {
	r.POST("/api/v1/evaluate", h.evaluate)
}

type evaluateRequest struct {
	URL      string                   `json:"url" binding:"required"`
	Metadata models.CandidateMetadata `json:"metadata"`
}

func (h *EvaluateHandler) evaluate(c *gin.Context) {
	if h.Scorer == nil {
		Error(c, http.StatusInternalServerError, "scorer unavailable", nil)
		return
	}
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	ev, err := events.Normalize(models.CandidateEvent{
		SourceURL: req.URL,
		Origin:    models.OriginWebhook,
		Metadata:  req.Metadata,
	})
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	eval, err := h.Scorer.Evaluate(c.Request.Context(), ev)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{
		"source_url":           ev.SourceURL,
		"score":                eval.Verdict.DisplayScore(),
		"matched_criteria":     eval.Verdict.MatchedCriteria,
		"model_confidence":     eval.Verdict.ModelConfidence,
		"recommended_priority": eval.Verdict.RecommendedPriority,
		"pattern":              eval.Pattern.Name,
	}, nil)
}
