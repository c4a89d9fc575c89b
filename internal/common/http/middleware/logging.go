package middleware

import (
	"time"

	pkgerrors "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"
	"codeduel/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessLogMiddleware logs one line per request once the handler chain returns.
func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case status >= 500:
			logger.Error(c.Request.Context(), "http request", fields...)
		case status >= 400:
			logger.Warn(c.Request.Context(), "http request", fields...)
		default:
			logger.Debug(c.Request.Context(), "http request", fields...)
		}
	}
}

// RecoveryMiddleware converts handler panics into a 500 envelope.
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error(c.Request.Context(), "http handler panic", zap.Any("panic", recovered))
		response.AbortWithErrorCode(c, pkgerrors.InternalServerError, "")
	})
}
