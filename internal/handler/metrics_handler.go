package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/profman-api/internal/service"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
	"github.com/noah-isme/profman-api/pkg/response"
)

type readinessChecker interface {
	Ready(ctx context.Context) map[string]string
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	ready   readinessChecker
}

// NewMetricsHandler constructs a metrics handler.
func NewMetricsHandler(metrics *service.MetricsService, ready readinessChecker) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, ready: ready}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds with a generic OK payload for liveness probes.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready pings the database and Redis.
func (h *MetricsHandler) Ready(c *gin.Context) {
	if h.ready == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	failures := h.ready.Ready(c.Request.Context())
	if len(failures) > 0 {
		unavailable := appErrors.New("NOT_READY", http.StatusServiceUnavailable, "dependencies unavailable")
		c.JSON(http.StatusServiceUnavailable, response.Envelope{Success: false, Error: appErrors.WithDetails(unavailable, failures)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
