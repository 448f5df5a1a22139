package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterDocs serves a plain-markdown route map for operators who do not
// want the swagger UI.
func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# Source Radar

Discovery and relevance pipeline for curated repository sources.

## Health

- GET /healthz
- GET /readyz

## Pipeline

- POST /api/v1/webhooks/repository    push a repository change notification
- POST /api/v1/evaluate               score a URL without creating a job
- GET  /api/v1/pipeline/overview      job counts, queue depth, thresholds
- GET  /api/v1/events                 discovery decision feed
- GET  /api/v1/sources                adapter health

## Jobs

- GET  /api/v1/jobs                   filter by status/priority/origin/since
- GET  /api/v1/jobs/stats
- GET  /api/v1/jobs/:id
- POST /api/v1/jobs/:id/retry         failed jobs, one retry
- POST /api/v1/jobs/:id/dispatch      promote a pending job to the queue

## Configuration

- GET/POST /api/v1/patterns, PUT /api/v1/patterns/:id
- POST /api/v1/patterns/:id/activate | /deactivate
- GET/PUT  /api/v1/thresholds         minimum <= auto_collect <= priority
- GET/POST /api/v1/models, POST /api/v1/models/:id/promote
- GET /api/v1/settings, PUT /api/v1/settings/switches/:name

Swagger UI: /swagger/index.html
`)
	})
}
