package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sourceradar/internal/models"
	"sourceradar/internal/repository"
)

// Dispatcher mirrors the worker pool surface needed by operator actions.
type Dispatcher interface {
	Dispatch(jobID uint64, priority string) bool
	QueueLen() int
}

type JobHandler struct {
	Repo repository.Repository
	Pool Dispatcher
}

func (h *JobHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/jobs")
	group.GET("", h.listJobs)
	group.GET("/stats", h.jobStats)
	group.GET("/:id", h.getJob)
	group.POST("/:id/retry", h.retryJob)
	group.POST("/:id/dispatch", h.dispatchJob)
}

func (h *JobHandler) listJobs(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListJobsParams{
		Limit:    limit,
		Offset:   offset,
		Status:   strQueryPtr(c, "status"),
		Priority: strQueryPtr(c, "priority"),
		Origin:   strQueryPtr(c, "origin"),
		Since:    timeQueryPtr(c, "since"),
		Asc:      boolPtr(false),
	}
	items, err := h.Repo.ListJobs(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountJobs(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *JobHandler) jobStats(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	counts, err := h.Repo.CountJobsGrouped(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	payload := gin.H{
		"by_status":   counts.ByStatus,
		"by_priority": counts.ByPriority,
		"by_origin":   counts.ByOrigin,
	}
	if h.Pool != nil {
		payload["queue_len"] = h.Pool.QueueLen()
	}
	Ok(c, payload, nil)
}

func (h *JobHandler) getJob(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid job id", nil)
		return
	}
	job, err := h.Repo.GetJobByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if job == nil {
		Error(c, http.StatusNotFound, "job not found", nil)
		return
	}
	Ok(c, job, nil)
}

// retryJob moves a failed job back to pending, once, and re-enqueues it.
func (h *JobHandler) retryJob(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid job id", nil)
		return
	}
	if err := h.Repo.RetryJob(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, repository.ErrRetryExhausted):
			Error(c, http.StatusConflict, "retry budget exhausted", nil)
		case errors.Is(err, repository.ErrInvalidTransition):
			Error(c, http.StatusConflict, "job is not in a failed state", nil)
		default:
			Error(c, http.StatusBadGateway, err.Error(), nil)
		}
		return
	}
	job, err := h.Repo.GetJobByID(c.Request.Context(), id)
	if err != nil || job == nil {
		Error(c, http.StatusBadGateway, "job lookup after retry failed", nil)
		return
	}
	dispatched := false
	if h.Pool != nil {
		dispatched = h.Pool.Dispatch(job.ID, job.Priority)
	}
	Ok(c, job, map[string]any{"dispatched": dispatched})
}

// dispatchJob is the operator promotion path for admitted jobs that scored
// below the auto-collect threshold.
func (h *JobHandler) dispatchJob(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid job id", nil)
		return
	}
	job, err := h.Repo.GetJobByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if job == nil {
		Error(c, http.StatusNotFound, "job not found", nil)
		return
	}
	if job.Status != models.JobStatusPending {
		Error(c, http.StatusConflict, "only pending jobs can be dispatched", nil)
		return
	}
	if err := h.Repo.MarkJobAutoDispatch(c.Request.Context(), id); err != nil {
		Error(c, http.StatusConflict, err.Error(), nil)
		return
	}
	dispatched := false
	if h.Pool != nil {
		dispatched = h.Pool.Dispatch(job.ID, job.Priority)
	}
	Ok(c, job, map[string]any{"dispatched": dispatched})
}
