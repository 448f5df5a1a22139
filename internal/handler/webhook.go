package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sourceradar/internal/events"
	"sourceradar/internal/models"
)

// Ingestor is the event hub surface the webhook receiver needs.
type Ingestor interface {
	Ingest(event models.CandidateEvent) bool
}

// WebhookHandler accepts push notifications about external repository
// changes and feeds them into the pipeline. Admission is asynchronous: the
// response acknowledges receipt, not a decision.
type WebhookHandler struct {
	Hub Ingestor
}

func (h *WebhookHandler) Register(r *gin.Engine) {
	r.POST("/api/v1/webhooks/repository", h.receive)
}

type webhookPayload struct {
	RepositoryFullName string   `json:"repositoryFullName"`
	URL                string   `json:"url"`
	Description        *string  `json:"description,omitempty"`
	Language           *string  `json:"language,omitempty"`
	StarCount          int      `json:"starCount"`
	EventType          string   `json:"eventType"`
	CreatedAt          *string  `json:"createdAt,omitempty"`
	Topics             []string `json:"topics,omitempty"`
}

func (h *WebhookHandler) receive(c *gin.Context) {
	if h.Hub == nil {
		Error(c, http.StatusInternalServerError, "event hub unavailable", nil)
		return
	}
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	ev, err := events.CandidateFromPayload(payload.RepositoryFullName, payload.URL,
		payload.Description, payload.Language, payload.StarCount, payload.CreatedAt, payload.Topics,
		time.Now().UTC())
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if !h.Hub.Ingest(ev) {
		Error(c, http.StatusServiceUnavailable, "ingest buffer full", nil)
		return
	}
	c.JSON(http.StatusAccepted, apiResponse{Code: 0, Message: "accepted"})
}
