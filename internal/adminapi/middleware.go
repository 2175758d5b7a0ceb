package adminapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dnovik/scheduler/internal/metrics"
	"github.com/dnovik/scheduler/internal/requestid"
)

// RunID injects a run ID into the request context and response header, so
// log lines emitted while handling an admin request share one run_id.
func RunID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Run-ID")
		if id == "" {
			id = requestid.New()
		}
		ctx := requestid.WithRunID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Run-ID", id)
		c.Next()
	}
}

// Metrics records HTTP latency and request counts per method/path/status.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		method := c.Request.Method
		duration := time.Since(start).Seconds()

		metrics.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	}
}
