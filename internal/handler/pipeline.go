package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sourceradar/internal/models"
	"sourceradar/internal/repository"
)

// PipelineHandler summarizes pipeline health on one endpoint: job counts by
// dimension, queue depth, current thresholds, and the last day's decisions.
type PipelineHandler struct {
	Repo repository.Repository
	Pool Dispatcher
}

func (h *PipelineHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/pipeline/overview", h.overview)
}

func (h *PipelineHandler) overview(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	ctx := c.Request.Context()

	counts, err := h.Repo.CountJobsGrouped(ctx)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	thresholds, err := h.Repo.GetThresholds(ctx)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if thresholds == nil {
		defaults := models.DefaultThresholds()
		thresholds = &defaults
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	decisions := map[string]int64{}
	for _, decision := range []string{models.DecisionAdmitted, models.DecisionRejected, models.DecisionDuplicate} {
		d := decision
		n, err := h.Repo.CountDiscoveryEvents(ctx, repository.ListEventsParams{Decision: &d, Since: &since})
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		decisions[decision] = n
	}

	activeModel, err := h.Repo.GetActiveScoringModel(ctx)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}

	payload := gin.H{
		"jobs": gin.H{
			"by_status":   counts.ByStatus,
			"by_priority": counts.ByPriority,
			"by_origin":   counts.ByOrigin,
		},
		"decisions_24h": decisions,
		"thresholds":    thresholds,
		"active_model":  activeModel,
	}
	if h.Pool != nil {
		payload["queue_len"] = h.Pool.QueueLen()
	}
	Ok(c, payload, nil)
}
