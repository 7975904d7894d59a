// Package main is the entry point for the production log API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"prodlog/internal/app"
	"prodlog/internal/config"
	"prodlog/internal/domain/auth"
	"prodlog/internal/domain/voucher"
	v1 "prodlog/internal/infrastructure/http/v1"
	"prodlog/internal/infrastructure/http/v1/handlers"
	"prodlog/pkg/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: !cfg.IsProduction(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := logger.WithLogger(context.Background(), log)
	log.Infow("starting prodlog server", "version", version, "env", cfg.Env)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Storage, locks and ledger service ---
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer a.Close()

	// --- JWT Service ---
	jwtConfig := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtConfig.AccessTokenTTL = cfg.JWTTokenTTL
	jwtService, err := auth.NewJWTService(jwtConfig)
	if err != nil {
		log.Fatalw("failed to initialize jwt service", "error", err)
	}

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Logger:         log,
		JWTValidator:   jwtService,
		Ledger:         a.Ledger,
		Locks:          a.Locks,
		Validator:      voucher.RuleValidator{},
		Rates:          a.Rates,
		Metrics:        a.Metrics,
		Health:         handlers.NewHealthHandler(version, a.Checks...),
		MaxUploadBytes: cfg.MaxUploadBytes,
		SubmitRate:     cfg.SubmitRate,
		SubmitBurst:    cfg.SubmitBurst,
	})

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infow("server starting", "addr", cfg.HTTPAddr, "storage", cfg.StorageBackend, "locks", cfg.LockBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// In-flight mutations release their period locks on the way out.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
