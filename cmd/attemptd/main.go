package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/lingua-attempt/internal/config"
	"github.com/stemsi/lingua-attempt/internal/database"
	"github.com/stemsi/lingua-attempt/internal/handler"
	"github.com/stemsi/lingua-attempt/internal/logger"
	"github.com/stemsi/lingua-attempt/internal/metrics"
	"github.com/stemsi/lingua-attempt/internal/middleware"
	"github.com/stemsi/lingua-attempt/internal/repository"
	"github.com/stemsi/lingua-attempt/internal/router"
	"github.com/stemsi/lingua-attempt/internal/service"
	"github.com/stemsi/lingua-attempt/internal/validator"
	"github.com/stemsi/lingua-attempt/internal/worker"
)

func main() {
	runMigrations := flag.Bool("migrate", false, "apply pending migrations before serving")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Int("max_attempts", cfg.MaxAttemptsPerExam).
		Msg("Starting attempt service")

	validator.Setup()
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *runMigrations {
		if err := database.MigrateUp(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("Migration failed")
		}
		log.Info().Msg("Migrations applied")
	}

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

	// ─── Repositories & Services ───────────────────────────────────────
	learnerRepo := repository.NewLearnerRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)

	authService := service.NewAuthService(cfg, rdb, learnerRepo)
	examService := service.NewExamService(examRepo, questionRepo, rdb, log)
	attemptService := service.NewAttemptService(attemptRepo, examService, rdb, cfg, log)

	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Attempt: handler.NewAttemptHandler(attemptService, examService, log),
		WS:      handler.NewWSHandler(rdb, attemptService, log, cfg.AllowedOrigins),
		Health:  handler.NewHealthHandler(pool, rdb),
	}

	limiter := middleware.NewRateLimiter(cfg.AuthRatePerMinute, time.Minute)
	go limiter.Run(ctx)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	answerWorker := worker.NewAnswerWorker(attemptRepo, rdb, log)
	gradeWorker := worker.NewGradeWorker(attemptRepo, rdb, log)

	workers.Add(2)
	go func() {
		defer workers.Done()
		answerWorker.Start(workerCtx)
	}()
	go func() {
		defer workers.Done()
		gradeWorker.Start(workerCtx)
	}()

	// Published exams go to Redis before the first request arrives.
	if err := examService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	r := router.SetupRouter(handlers, router.Guards{
		Tokens:      authService,
		Sessions:    authService,
		AuthLimiter: limiter,
	}, cfg, log)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop workers; each drains its queue before returning.
	workerCancel()
	workers.Wait()
	cancel()

	log.Info().Msg("Shutdown complete")
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
