package handlers

import (
	"github.com/gin-gonic/gin"

	"prodlog/internal/core/lock"
	"prodlog/internal/infrastructure/http/v1/dto"
	"prodlog/pkg/logger"
)

// LockHandler exposes period lock status and the operator override.
type LockHandler struct {
	*BaseHandler
	locks lock.Inspector
}

// NewLockHandler creates a lock handler.
func NewLockHandler(base *BaseHandler, locks lock.Inspector) *LockHandler {
	return &LockHandler{BaseHandler: base, locks: locks}
}

// Status reports who holds the period lock.
// GET /api/v1/ledgers/:year/:month/lock
func (h *LockHandler) Status(c *gin.Context) {
	period, ok := h.Period(c)
	if !ok {
		return
	}
	st, err := h.locks.Status(c.Request.Context(), period)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromLockStatus(st))
}

// ForceRelease clears a lock left by a crashed process.
// DELETE /api/v1/ledgers/:year/:month/lock
func (h *LockHandler) ForceRelease(c *gin.Context) {
	period, ok := h.Period(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.locks.ForceRelease(ctx, period); err != nil {
		h.Error(c, err)
		return
	}
	logger.Warn(ctx, "lock cleared by operator", "period", period.Key())
	h.Success(c, "lock released")
}
