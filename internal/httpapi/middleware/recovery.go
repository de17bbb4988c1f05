package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-interview/internal/common"
	"go.uber.org/zap"
)

// Recovery turns a handler panic into the standard failure envelope. Each
// request starts clean, so no state survives a recovered fault.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panic",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(RequestIDKey)),
					zap.Stack("stack"),
				)
				if c.Writer.Written() {
					c.Abort()
					return
				}
				common.Fail(c, http.StatusInternalServerError, 50000, "something went wrong")
			}
		}()
		c.Next()
	}
}

// Logger is a zap access log.
func Logger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("request_id", c.GetString(RequestIDKey)),
		)
	}
}
