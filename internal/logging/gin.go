package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	HeaderRequestID = "X-Request-ID"
	// ContextUserID is the gin context key the identity middleware sets.
	ContextUserID = "user_id"
)

// GinMiddleware tags every request with an id and logs it once completed.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(HeaderRequestID, reqID)
		c.Set(HeaderRequestID, reqID)

		c.Next()

		evt := log.Info()
		if c.Writer.Status() >= 500 {
			evt = log.Warn()
		}
		evt = evt.Str("module", "adapters.http").
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Str("client_ip", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start))
		if uid := c.GetString(ContextUserID); uid != "" {
			evt = evt.Str("user_id", uid)
		}
		evt.Msg("request completed")
	}
}

// RequestID returns the id GinMiddleware assigned.
func RequestID(c *gin.Context) string {
	return c.GetString(HeaderRequestID)
}
