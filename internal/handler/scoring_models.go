package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"sourceradar/internal/models"
	"sourceradar/internal/repository"
)

type ScoringModelHandler struct {
	Repo repository.Repository
}

func (h *ScoringModelHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/models")
	group.GET("", h.listModels)
	group.POST("", h.registerModel)
	group.GET("/:id", h.getModel)
	group.POST("/:id/promote", h.promoteModel)
}

func (h *ScoringModelHandler) listModels(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListScoringModels(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type modelRequest struct {
	Version             string          `json:"version" binding:"required"`
	Status              string          `json:"status"`
	Accuracy            float64         `json:"accuracy"`
	Precision           float64         `json:"precision"`
	Recall              float64         `json:"recall"`
	F1                  float64         `json:"f1"`
	TrainingSampleCount int             `json:"training_sample_count"`
	Weights             json.RawMessage `json:"weights"`
}

// registerModel records a trained model version. Registration never touches
// the active flag; promotion is a separate explicit action.
func (h *ScoringModelHandler) registerModel(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	status := strings.TrimSpace(req.Status)
	switch status {
	case "":
		status = models.ModelStatusTraining
	case models.ModelStatusTraining, models.ModelStatusReady, models.ModelStatusError:
	default:
		Error(c, http.StatusBadRequest, "invalid status", nil)
		return
	}
	item := &models.ScoringModel{
		Version:             strings.TrimSpace(req.Version),
		Status:              status,
		Accuracy:            req.Accuracy,
		Precision:           req.Precision,
		Recall:              req.Recall,
		F1:                  req.F1,
		TrainingSampleCount: req.TrainingSampleCount,
	}
	if len(req.Weights) > 0 {
		item.Weights = datatypes.JSON(req.Weights)
	}
	if err := h.Repo.UpsertScoringModel(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *ScoringModelHandler) getModel(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid model id", nil)
		return
	}
	item, err := h.Repo.GetScoringModelByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "model not found", nil)
		return
	}
	Ok(c, item, nil)
}

// promoteModel atomically demotes the currently active model and activates
// this one. Only ready models are eligible.
func (h *ScoringModelHandler) promoteModel(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid model id", nil)
		return
	}
	if err := h.Repo.PromoteScoringModel(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			Error(c, http.StatusConflict, "model is not ready", nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	item, err := h.Repo.GetScoringModelByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}
