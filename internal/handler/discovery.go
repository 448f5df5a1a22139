package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sourceradar/internal/repository"
)

// DiscoveryHandler serves the discovery feed (audit rows) and the adapter
// health registry for dashboards.
type DiscoveryHandler struct {
	Repo repository.Repository
}

func (h *DiscoveryHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/events", h.listEvents)
	r.GET("/api/v1/sources", h.listSources)
}

func (h *DiscoveryHandler) listEvents(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	params := repository.ListEventsParams{
		Limit:    limit,
		Origin:   strQueryPtr(c, "origin"),
		Decision: strQueryPtr(c, "decision"),
		Since:    timeQueryPtr(c, "since"),
	}
	items, err := h.Repo.ListDiscoveryEvents(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountDiscoveryEvents(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, 0, total))
}

func (h *DiscoveryHandler) listSources(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListEventSources(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
