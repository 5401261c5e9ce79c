package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	"github.com/noah-isme/instructor-dispatch-api/pkg/middleware/requestid"
)

// Audit writes one structured audit entry per successful command.
func Audit(logger *zap.Logger, action string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		fields := []zap.Field{
			zap.String("action", action),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.GetHeader("User-Agent")),
		}
		if claims, ok := c.Get(ContextUserKey); ok {
			if user, ok := claims.(*models.JWTClaims); ok {
				fields = append(fields, zap.String("actor_id", user.UserID), zap.String("actor_role", string(user.Role)))
			}
		}
		if slotID := c.Param("slotId"); slotID != "" {
			fields = append(fields, zap.String("slot_id", slotID))
		}
		if requestID := requestid.Value(c); requestID != "" {
			fields = append(fields, zap.String("request_id", requestID))
		}
		logger.Info("audit", fields...)
	}
}
