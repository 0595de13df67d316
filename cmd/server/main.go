package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/klear-compensation/internal/auth"
	"github.com/ksred/klear-compensation/internal/compensation"
	"github.com/ksred/klear-compensation/internal/config"
	"github.com/ksred/klear-compensation/internal/database"
	"github.com/ksred/klear-compensation/internal/metrics"
	"github.com/ksred/klear-compensation/internal/netting"
	"github.com/ksred/klear-compensation/internal/registry"
	"github.com/ksred/klear-compensation/internal/settlement"
	"github.com/ksred/klear-compensation/pkg/middleware"
)

// setupLogging configures pretty printing outside production and the global
// level from DEBUG
func setupLogging(cfg *config.Config) {
	if !cfg.IsProduction() {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the compensation API server with graceful shutdown support
func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authService.RegisterClient(cfg.APIKey, cfg.APISecret)
	authHandlers := auth.NewGinHandlers(authService)

	registryService := registry.NewService(db)
	registryHandlers := registry.NewGinHandlers(registryService)

	engine := netting.NewEngine(cfg.EngineWorkers)
	compensationService := compensation.NewService(db, registryService, engine, cfg.EngineDefaults())
	compensationHandlers := compensation.NewGinHandlers(compensationService)

	settlementService := settlement.NewService(db)
	settlementHandlers := settlement.NewGinHandlers(settlementService)

	// Create and start the schedule processor
	processor := settlement.NewProcessor(settlementService.GetDB(), cfg.ScheduleInterval)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go processor.Start(processorCtx)

	// Setup middleware
	router.Use(metrics.Middleware())
	router.Use(middleware.RateLimit())

	setupRoutes(router, authService, authHandlers, registryHandlers, compensationHandlers, settlementHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		zlog.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")
	processorCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// - Auth routes: public token endpoint
// - Participant and optimization routes: JWT with the optimize permission
// - Match execution routes: JWT with the execute permission
func setupRoutes(
	router *gin.Engine,
	authService *auth.Service,
	authHandlers *auth.GinHandlers,
	registryHandlers *registry.GinHandlers,
	compensationHandlers *compensation.GinHandlers,
	settlementHandlers *settlement.GinHandlers,
) {
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	{
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/token", authHandlers.GenerateTokenHandler())
		}

		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(authService))

		participants := protected.Group("/participants")
		participants.Use(middleware.RequirePermission(auth.PermissionOptimize))
		{
			participants.POST("", registryHandlers.RegisterParticipantHandler())
			participants.GET("", registryHandlers.ListParticipantsHandler())
			participants.GET("/:participant_id", registryHandlers.GetParticipantHandler())
			participants.DELETE("/:participant_id", registryHandlers.DeleteParticipantHandler())
		}

		optimizations := protected.Group("/optimizations")
		optimizations.Use(middleware.RequirePermission(auth.PermissionOptimize))
		{
			optimizations.POST("/evaluate", compensationHandlers.EvaluateHandler())
			optimizations.POST("", compensationHandlers.CreateRunHandler())
			optimizations.GET("/:run_id", compensationHandlers.GetRunHandler())
		}

		matches := protected.Group("/matches")
		{
			matches.GET("/:match_id", middleware.RequirePermission(auth.PermissionOptimize), compensationHandlers.GetMatchHandler())
			matches.GET("/:match_id/events", middleware.RequirePermission(auth.PermissionOptimize), settlementHandlers.GetMatchEventsHandler())
			matches.POST("/:match_id/execute", middleware.RequirePermission(auth.PermissionExecute), compensationHandlers.ExecuteMatchHandler())
			matches.PATCH("/:match_id/steps/:order", middleware.RequirePermission(auth.PermissionExecute), compensationHandlers.UpdateStepHandler())
		}
	}
}
