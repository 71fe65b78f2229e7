package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jobmesh/platform/internal/platform/metrics"
)

// Metrics instruments every request with the coordinator's Prometheus
// collectors. A nil *metrics.Metrics disables instrumentation entirely.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		m.InflightInc()
		defer m.InflightDec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.ObserveAPI(c.Request.Method, route, metrics.StatusClass(c.Writer.Status()), time.Since(start))
	}
}
