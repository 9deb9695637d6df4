package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/metrics"
)

// Logger logs request details through the structured logger and feeds
// the HTTP metrics. FullPath keeps the metric cardinality bounded on
// parameterized routes.
func Logger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(duration.Seconds())

		log.LogHTTPRequest(c.Request.Method, path, c.ClientIP(), status, duration)
	}
}
