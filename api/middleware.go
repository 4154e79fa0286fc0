package api

import (
	"time"

	"rewarder/infrastructure/observability"
	"rewarder/service"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// ActorHeader names the caller recorded as processed_by on audit rows
const ActorHeader = "X-Actor"

// requestLogger logs every request and records its latency
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		duration := time.Since(start)

		observability.GetMetrics().RecordHTTPRequest(c.Request.Context(), route, status, duration)

		entry := log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"route":    route,
			"status":   status,
			"duration": duration,
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		if status >= 500 {
			entry.Warn("Request served")
		} else {
			entry.Debug("Request served")
		}
	}
}

// actorFromHeader attaches the X-Actor header to the request context
func actorFromHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor := c.GetHeader(ActorHeader); actor != "" {
			c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), actor))
		}
		c.Next()
	}
}
