package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/profman-api/pkg/middleware/requestid"
	"github.com/noah-isme/profman-api/pkg/reporting"
	"github.com/noah-isme/profman-api/pkg/response"
)

// ErrorHandler recovers panics and reports server errors.
// With mask set, 5xx envelopes carry a generic message instead of the cause.
func ErrorHandler(logger *zap.Logger, reporter reporting.Reporter, mask bool) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reporter == nil {
		reporter = reporting.Nop{}
	}
	return func(c *gin.Context) {
		c.Set(response.MaskInternalKey, mask)

		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic: %v", rec)
				logger.Error("panic recovered",
					zap.Error(err),
					zap.String("route", c.FullPath()),
					zap.String("request_id", requestid.Value(c)),
					zap.Stack("stack"),
				)
				reporter.Report(err, c.Request, map[string]interface{}{"request_id": requestid.Value(c)})
				if !c.Writer.Written() {
					response.Error(c, err)
				}
				c.Abort()
			}
		}()

		c.Next()

		if c.Writer.Status() < http.StatusInternalServerError || len(c.Errors) == 0 {
			return
		}
		for _, ginErr := range c.Errors {
			logger.Error("request failed",
				zap.Error(ginErr.Err),
				zap.String("method", c.Request.Method),
				zap.String("route", c.FullPath()),
				zap.String("request_id", requestid.Value(c)),
			)
			reporter.Report(ginErr.Err, c.Request, map[string]interface{}{
				"request_id": requestid.Value(c),
				"route":      c.FullPath(),
			})
		}
	}
}
