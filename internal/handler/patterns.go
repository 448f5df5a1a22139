package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"sourceradar/internal/models"
	"sourceradar/internal/repository"
)

type PatternHandler struct {
	Repo repository.Repository
}

func (h *PatternHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/patterns")
	group.GET("", h.listPatterns)
	group.POST("", h.createPattern)
	group.GET("/:id", h.getPattern)
	group.PUT("/:id", h.updatePattern)
	group.POST("/:id/activate", h.setActive(true))
	group.POST("/:id/deactivate", h.setActive(false))
}

type patternRequest struct {
	Name               string   `json:"name" binding:"required"`
	IncludeKeywords    []string `json:"include_keywords"`
	ExcludeKeywords    []string `json:"exclude_keywords"`
	Languages          []string `json:"languages"`
	MinStars           int      `json:"min_stars"`
	MaxAgeDays         int      `json:"max_age_days"`
	RelevanceThreshold *string  `json:"relevance_threshold"`
	AutoCollect        bool     `json:"auto_collect"`
}

func (req patternRequest) apply(item *models.DiscoveryPattern) error {
	item.Name = strings.TrimSpace(req.Name)
	item.IncludeKeywords = models.EncodeStrings(req.IncludeKeywords)
	item.ExcludeKeywords = models.EncodeStrings(req.ExcludeKeywords)
	item.Languages = models.EncodeStrings(req.Languages)
	item.MinStars = req.MinStars
	item.MaxAgeDays = req.MaxAgeDays
	item.AutoCollect = req.AutoCollect
	if req.RelevanceThreshold != nil {
		threshold, err := decimal.NewFromString(*req.RelevanceThreshold)
		if err != nil {
			return err
		}
		item.RelevanceThreshold = threshold
	}
	return nil
}

func (h *PatternHandler) listPatterns(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	activeOnly := strings.EqualFold(c.Query("active"), "true")
	items, err := h.Repo.ListPatterns(c.Request.Context(), repository.ListPatternsParams{ActiveOnly: activeOnly})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *PatternHandler) createPattern(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req patternRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item := models.DiscoveryPattern{IsActive: true}
	if err := req.apply(&item); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Repo.UpsertPattern(c.Request.Context(), &item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *PatternHandler) getPattern(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid pattern id", nil)
		return
	}
	item, err := h.Repo.GetPatternByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "pattern not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *PatternHandler) updatePattern(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid pattern id", nil)
		return
	}
	existing, err := h.Repo.GetPatternByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if existing == nil {
		Error(c, http.StatusNotFound, "pattern not found", nil)
		return
	}
	var req patternRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := req.apply(existing); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Repo.UpsertPattern(c.Request.Context(), existing); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, existing, nil)
}

func (h *PatternHandler) setActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Repo == nil {
			Error(c, http.StatusInternalServerError, "repo unavailable", nil)
			return
		}
		id, ok := uint64Param(c, "id")
		if !ok {
			Error(c, http.StatusBadRequest, "invalid pattern id", nil)
			return
		}
		if err := h.Repo.SetPatternActive(c.Request.Context(), id, active); err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		Ok(c, gin.H{"id": id, "is_active": active}, nil)
	}
}
