package v1

import (
	"github.com/gin-gonic/gin"

	appctx "prodlog/internal/core/context"
	"prodlog/internal/infrastructure/http/v1/handlers"
	"prodlog/internal/infrastructure/http/v1/middleware"
)

// RegisterLedgerRoutes registers the period ledger endpoints on a
// /ledgers/:year/:month group. limit guards the mutating routes.
func RegisterLedgerRoutes(group *gin.RouterGroup, h *handlers.LedgerHandler, limit gin.HandlerFunc) {
	staff := middleware.RequireRole(appctx.RoleStaff, appctx.RoleOperator)
	group.GET("/entries", staff, h.ListEntries)
	group.POST("/entries", staff, limit, h.PostEntry)
	group.POST("/cancellations", staff, limit, h.Cancel)
	group.GET("/verify", staff, h.Verify)
}

// RegisterLockRoutes registers lock inspection; clearing needs the operator role.
func RegisterLockRoutes(group *gin.RouterGroup, h *handlers.LockHandler) {
	group.GET("/lock", middleware.RequireRole(appctx.RoleStaff, appctx.RoleOperator), h.Status)
	group.DELETE("/lock", middleware.RequireRole(appctx.RoleOperator), h.ForceRelease)
}
