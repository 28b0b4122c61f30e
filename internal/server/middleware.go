// Package server wires the inbound HTTP surface (§6): four endpoints
// orchestrating preprocess -> resolve -> select -> adapt -> call upstream
// -> adapt response -> observe -> log. Grounded on the teacher's gin router
// and middleware/request-id.go (request-id generation/propagation).
package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/ctxkey"
)

// RequestID attaches a fresh request id to the gin context and response
// header, mirroring the teacher's middleware.RequestId but using
// google/uuid instead of the teacher's internal id generator.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(string(ctxkey.RequestID), id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// AccessLog logs one structured line per request after it completes.
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestIDFrom(c)),
		)
	}
}

func requestIDFrom(c *gin.Context) string {
	v, ok := c.Get(string(ctxkey.RequestID))
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
