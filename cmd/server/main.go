package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-session/internal/budget"
	"github.com/stemsi/exam-session/internal/config"
	"github.com/stemsi/exam-session/internal/database"
	"github.com/stemsi/exam-session/internal/handler"
	"github.com/stemsi/exam-session/internal/logger"
	"github.com/stemsi/exam-session/internal/middleware"
	"github.com/stemsi/exam-session/internal/repository"
	"github.com/stemsi/exam-session/internal/router"
	"github.com/stemsi/exam-session/internal/service"
	"github.com/stemsi/exam-session/internal/session"
	"github.com/stemsi/exam-session/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Dur("autosave_interval", cfg.AutosaveInterval).
		Msg("Starting exam session service")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Time Budget Table ─────────────────────────────────────────────
	table, err := budget.LoadTable(cfg.BudgetTablePath, cfg.BudgetDefaultSeconds)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.BudgetTablePath).Msg("Failed to load budget table")
	}
	if table.Empty() {
		log.Warn().Int("default_seconds", table.DefaultSeconds).Msg("Budget table allots no time, set BUDGET_TABLE_PATH or BUDGET_DEFAULT_SECONDS")
	}
	calc := budget.NewCalculator(table)

	// ─── Initialize Repositories ───────────────────────────────────────
	questionRepo := repository.NewQuestionRepository(pool)
	checkpoints := repository.NewCheckpointCache(rdb, cfg.CheckpointTTL)
	gateway := repository.NewCachedGateway(repository.NewSessionGateway(pool), checkpoints, log)

	// ─── Initialize Services ──────────────────────────────────────────
	registry := session.NewRegistry(gateway, calc, log, session.Options{
		AutosaveInterval: cfg.AutosaveInterval,
		TeardownTimeout:  cfg.TeardownFlushTimeout,
		IdleTTL:          cfg.SessionIdleTTL,
	})
	pruneDone := make(chan struct{})
	go registry.StartPruning(pruneDone)
	authService := service.NewAuthService(cfg)
	sessionService := service.NewExamSessionService(registry, questionRepo, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(sessionService, log),
		WS:      handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins),
		System: handler.NewSystemHandler(map[string]handler.Pinger{
			"postgres": pool,
			"redis": handler.PingFunc(func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}),
		}, registry, log),
	}

	// ─── Rate Limiter ──────────────────────────────────────────────────
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	limiterDone := make(chan struct{})
	go limiter.Start(limiterDone)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, limiter, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	close(limiterDone)
	close(pruneDone)

	// 2. Checkpoint every live session so it can be resumed after restart.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.TeardownFlushTimeout)
	defer flushCancel()

	if err := registry.FlushAll(flushCtx); err != nil {
		log.Error().Err(err).Msg("Final checkpoint failed for some sessions")
	}
	registry.Close()

	log.Info().Int("active_sessions", registry.ActiveCount()).Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
