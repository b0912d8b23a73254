package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bar-crm/internal/api/response"
	"bar-crm/internal/model"
	"bar-crm/internal/service"
)

// Recovery turns a handler panic into a 500 and raises an admin alert. Panics
// from the domain's invariant checks are logged as corruption rather than
// programming errors.
func Recovery(logger *zap.Logger, alerts service.Alerter) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}

			invariant := model.IsInvariantPanic(recovered)
			logger.Error("http handler panic recovered",
				zap.String("request_id", RequestID(c)),
				zap.String("path", c.Request.URL.Path),
				zap.Bool("invariant_violation", invariant),
				zap.Any("panic", recovered),
				zap.ByteString("stack", debug.Stack()),
			)

			if alerts != nil {
				_ = alerts.Notify(c.Request.Context(), service.AlertPanicRecovered, map[string]string{
					"where": c.Request.Method + " " + c.FullPath(),
					"value": fmt.Sprint(recovered),
				})
			}

			if c.Writer.Written() {
				c.Abort()
				return
			}
			code := response.ErrInternal
			if invariant {
				code = response.ErrCorruptedData
			}
			response.Fail(c, http.StatusInternalServerError, code, "internal server error")
			c.Abort()
		}()

		c.Next()
	}
}
