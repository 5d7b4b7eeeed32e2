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
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/leadforge/mission-service/config"
	_ "github.com/leadforge/mission-service/docs"
	"github.com/leadforge/mission-service/internal/app"
	"github.com/leadforge/mission-service/internal/handlers"
	"github.com/leadforge/mission-service/internal/middleware"
	"github.com/leadforge/mission-service/internal/sweepers"
	"github.com/leadforge/mission-service/internal/telemetry"
)

// @title Mission Service API
// @version 1.0
// @description Operator API for mission task orchestration, quotas and campaign follow-ups.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := app.InitLogger(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.Info().Msg("Starting mission service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}

	pool, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	a, err := app.Build(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build services")
	}
	defer a.Close()

	bg, bgCtx := errgroup.WithContext(ctx)

	if cfg.Processor.Enabled {
		a.Processor.Start(bgCtx)
	} else {
		logger.Info().Msg("Processor disabled, tasks run only through /cron/tick")
	}

	stuckSweeper := sweepers.NewStuckTaskSweeper(a.Tasks, a.Cleaner, sweepers.Config{
		Interval:         cfg.Rescue.Interval,
		OlderThanMinutes: cfg.Rescue.OlderThanMinutes,
		Limit:            cfg.Rescue.Limit,
	}, logger)
	bg.Go(func() error {
		stuckSweeper.Start(bgCtx)
		return nil
	})

	var followupSweeper *sweepers.FollowupSweeper
	if cfg.Followup.Enabled {
		followupSweeper = sweepers.NewFollowupSweeper(a.Followups, cfg.Followup.Interval, logger)
		bg.Go(func() error {
			followupSweeper.Start(bgCtx)
			return nil
		})
	}

	limiter := middleware.NewIPRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.Server.APIRequestsPerSecond,
		BurstSize:         cfg.Server.APIBurst,
	})
	limiter.StartCleanup(bgCtx, time.Minute)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))

	h := handlers.New(handlers.Deps{
		Auth:        a.Auth,
		Tasks:       a.Tasks,
		Trigger:     a.Trigger,
		Quota:       a.Quota,
		Missions:    a.Missions,
		Processor:   a.Processor,
		Followups:   a.Followups,
		DB:          pool,
		InternalKey: cfg.Auth.InternalAPIKey,
		CronTimeout: cfg.Server.CronTimeout,
	}, logger)
	h.Register(router, limiter)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(router, "mission-service"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Processor.TaskTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	stopBackground(logger, a.Processor.Stop, stuckSweeper.Stop, followupSweeper)
	if err := bg.Wait(); err != nil {
		logger.Error().Err(err).Msg("Background worker failed")
	}

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Telemetry shutdown failed")
	}

	logger.Info().Msg("Server exited")
}

// stopBackground stops the loops in order: the processor first so in-flight
// tasks record their outcome before the sweepers go away.
func stopBackground(logger zerolog.Logger, stopProcessor, stopSweeper func(), followups *sweepers.FollowupSweeper) {
	stopProcessor()
	stopSweeper()
	if followups != nil {
		followups.Stop()
	}
	logger.Info().Msg("Background workers stopped")
}
