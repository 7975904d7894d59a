package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"prodlog/internal/core/apperror"
	"prodlog/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Exactly one message is rendered per failed request; internal causes are
// logged, never sent to the client.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		// If response already written by handler, do not override it.
		if c.Writer.Written() {
			return
		}

		ctx := c.Request.Context()
		if appErr, ok := apperror.AsAppError(err); ok {
			if appErr.Err != nil || appErr.HTTPStatus >= http.StatusInternalServerError {
				logger.Error(ctx, "request error",
					"code", appErr.Code,
					"message", appErr.Message,
					"cause", appErr.Err,
				)
			}

			details := appErr.Details
			if appErr.HTTPStatus >= http.StatusInternalServerError {
				details = map[string]any{"request_id": c.GetString("request_id")}
				for _, k := range []string{"period", "op"} {
					if v, ok := appErr.Details[k]; ok {
						details[k] = v
					}
				}
			}
			c.JSON(appErr.HTTPStatus, gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
				"details": details,
			})
			return
		}

		logger.Error(ctx, "unhandled error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    apperror.CodeInternal,
			"message": "Internal server error",
			"details": map[string]any{
				"request_id": c.GetString("request_id"),
			},
		})
	}
}
