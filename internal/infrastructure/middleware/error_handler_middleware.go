package middleware

import (
	"net/http"

	"roomrelay/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders the last error attached with c.Error.
// Domain errors are mapped to their AppError first.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr := errors.FromDomain(c.Errors.Last().Err)
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed",
				"code", appErr.Code,
				"error", appErr.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		} else {
			logger.Debugw("request rejected",
				"code", appErr.Code,
				"message", appErr.Message,
				"path", c.Request.URL.Path,
			)
		}

		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
