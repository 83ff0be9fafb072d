package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gestion-judicial/casefile-api/internal/service"
)

// Metrics records a latency observation per request, labeled by the route
// template rather than the raw URL so /cases/:id stays one series.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	if metricsSvc == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
