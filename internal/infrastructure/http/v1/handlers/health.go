package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Check probes one dependency for readiness.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	version string
	checks  []Check
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, checks ...Check) *HealthHandler {
	return &HealthHandler{version: version, checks: checks, timeout: 3 * time.Second}
}

// Live handles liveness probe (is the process alive?).
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready handles readiness probe: storage and lock backends must respond.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, check := range h.checks {
		if err := check.Probe(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[check.Name] = "unhealthy: " + err.Error()
			continue
		}
		results[check.Name] = "healthy"
	}

	body := gin.H{"status": "ok", "checks": results}
	if status != http.StatusOK {
		body["status"] = "error"
	}
	c.JSON(status, body)
}

// Info returns application information.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":     "prodlog",
		"version": h.version,
	})
}
