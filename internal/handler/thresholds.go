package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"sourceradar/internal/models"
	"sourceradar/internal/repository"
)

type ThresholdHandler struct {
	Repo repository.Repository
}

func (h *ThresholdHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/thresholds")
	group.GET("", h.getThresholds)
	group.PUT("", h.putThresholds)
}

func (h *ThresholdHandler) getThresholds(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	cfg, err := h.Repo.GetThresholds(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if cfg == nil {
		defaults := models.DefaultThresholds()
		cfg = &defaults
	}
	Ok(c, cfg, nil)
}

type thresholdRequest struct {
	MinimumScore     string `json:"minimum_score" binding:"required"`
	AutoCollectScore string `json:"auto_collect_score" binding:"required"`
	PriorityScore    string `json:"priority_score" binding:"required"`
	UpdatedBy        string `json:"updated_by"`
}

// putThresholds appends a new threshold version. A write breaking the
// ordering invariant is rejected and the prior configuration stays in force.
func (h *ThresholdHandler) putThresholds(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	minimum, err := decimal.NewFromString(strings.TrimSpace(req.MinimumScore))
	if err != nil {
		Error(c, http.StatusBadRequest, "minimum_score is not a number", nil)
		return
	}
	autoCollect, err := decimal.NewFromString(strings.TrimSpace(req.AutoCollectScore))
	if err != nil {
		Error(c, http.StatusBadRequest, "auto_collect_score is not a number", nil)
		return
	}
	priority, err := decimal.NewFromString(strings.TrimSpace(req.PriorityScore))
	if err != nil {
		Error(c, http.StatusBadRequest, "priority_score is not a number", nil)
		return
	}

	item := &models.ThresholdConfig{
		MinimumScore:     minimum,
		AutoCollectScore: autoCollect,
		PriorityScore:    priority,
		UpdatedBy:        strings.TrimSpace(req.UpdatedBy),
	}
	if err := h.Repo.SaveThresholds(c.Request.Context(), item); err != nil {
		if errors.Is(err, models.ErrThresholdOrder) {
			Error(c, http.StatusUnprocessableEntity, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}
