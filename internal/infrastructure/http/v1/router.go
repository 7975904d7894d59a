// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"prodlog/internal/core/lock"
	"prodlog/internal/domain/voucher"
	"prodlog/internal/infrastructure/http/v1/handlers"
	"prodlog/internal/infrastructure/http/v1/middleware"
	"prodlog/internal/infrastructure/metrics"
	"prodlog/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	Ledger    handlers.LedgerService
	Locks     lock.Inspector
	Validator voucher.Validator
	Rates     voucher.Rates

	// Metrics is optional; without it /metrics is not served.
	Metrics *metrics.Metrics

	Health *handlers.HealthHandler

	// MaxUploadBytes overrides handlers.DefaultMaxUpload when positive.
	MaxUploadBytes int64

	// SubmitRate limits posts and cancellations per caller; zero disables it.
	SubmitRate  float64
	SubmitBurst int
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = 8 << 20

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Middleware())
	}
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealthHandler("dev")
	}
	hg := router.Group("/health")
	{
		hg.GET("/live", health.Live)
		hg.GET("/ready", health.Ready)
		hg.GET("/info", health.Info)
	}
	if cfg.Metrics != nil {
		router.GET("/metrics", cfg.Metrics.GinHandler())
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.JWTValidator))
	{
		base := handlers.NewBaseHandler()
		period := v1.Group("/ledgers/:year/:month")

		ledgerHandler := handlers.NewLedgerHandler(base, cfg.Ledger, cfg.Validator, cfg.Rates)
		if cfg.MaxUploadBytes > 0 {
			ledgerHandler.SetMaxUpload(cfg.MaxUploadBytes)
		}
		RegisterLedgerRoutes(period, ledgerHandler, middleware.RateLimit(cfg.SubmitRate, cfg.SubmitBurst))
		RegisterLockRoutes(period, handlers.NewLockHandler(base, cfg.Locks))
	}

	return router
}
