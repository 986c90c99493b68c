package middleware

import (
	"net/http"

	"relay-chat/internal/transport/httpdto"
	relay_errors "relay-chat/pkg/errors"
	"relay-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error a handler attached with c.Error as an
// error envelope, with the status derived from the error's sentinel.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status := relay_errors.HTTPStatus(err)
		if status >= 500 {
			l.ErrorCtx(c.Request.Context(), "request failed", zap.Error(err))
		} else {
			l.WarnCtx(c.Request.Context(), "request rejected", zap.Int("status", status), zap.Error(err))
		}
		c.JSON(status, httpdto.NewErrorResponse(err.Error(), relay_errors.Code(err)))
	}
}

// Recovery turns a panic into a 500 envelope.
func Recovery(l *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		l.ErrorCtx(c.Request.Context(), "panic recovered", zap.Any("panic", recovered), zap.Stack("stack"))
		c.AbortWithStatusJSON(http.StatusInternalServerError, httpdto.NewErrorResponse("internal error", "INTERNAL_ERROR"))
	})
}
