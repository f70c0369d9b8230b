package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/database"
	"github.com/stemsi/exstem-assess/internal/handler"
	"github.com/stemsi/exstem-assess/internal/logger"
	"github.com/stemsi/exstem-assess/internal/repository"
	"github.com/stemsi/exstem-assess/internal/router"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/session"
	"github.com/stemsi/exstem-assess/internal/store"
	"github.com/stemsi/exstem-assess/internal/validator"
	"github.com/stemsi/exstem-assess/internal/worker"
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
		Msg("Starting ExStem Assess")

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

	// ─── Initialize Repositories ───────────────────────────────────────
	assessmentRepo := repository.NewAssessmentRepository(pool)
	completionRepo := repository.NewCompletionRepository(pool)
	eligibilityRepo := repository.NewEligibilityRepository(pool)
	recoveryRepo := repository.NewRecoveryRepository(pool)
	dashboardRepo := repository.NewDashboardRepository(pool)

	// Templates added later are picked up through the refresh-cache route.
	catalog, err := assessmentRepo.LoadCatalog(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load item templates")
	}

	// ─── Session Engine & Store ────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	queueService := service.NewQueueService(rdb, log)
	monitorService := service.NewMonitorService(rdb, log)
	documentService := service.NewDocumentService(assessmentRepo, rdb, log)

	timing := session.Timing{
		IdleBound: cfg.InstructionsIdle,
		Retention: cfg.PurgeRetention,
	}
	engine := session.NewEngine(session.Deps{
		Catalog:     catalog,
		Eligibility: eligibilityRepo,
		Records:     completionRepo,
		Recovery:    queueService,
	}, timing, log)

	sessionStore := store.New(timing, log,
		store.WithLiveness(authService.InteractionLive),
		store.WithCodePruneInterval(cfg.CodePruneInterval),
	)

	restored, err := sessionStore.RestoreAll(cfg.SessionPersistDir, catalog)
	if err != nil {
		log.Error().Err(err).Str("dir", cfg.SessionPersistDir).Msg("Session restore failed")
	}
	log.Info().Int("sessions", len(restored)).Msg("Sessions restored")

	contentService := service.NewContentService(assessmentRepo, catalog, documentService, log)

	assessmentService := service.NewAssessmentService(
		sessionStore, engine, documentService, queueService, monitorService, completionRepo, log,
	)

	dashboardService := service.NewDashboardService(dashboardRepo, assessmentService)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:       handler.NewAuthHandler(authService, eligibilityRepo, log),
		Assessment: handler.NewAssessmentHandler(assessmentService, log),
		Admin:      handler.NewAdminHandler(assessmentService, authService, assessmentRepo, contentService, recoveryRepo, log),
		WS:         handler.NewWSHandler(assessmentService, log, cfg.AllowedOrigins),
		Monitor:    handler.NewMonitorHandler(assessmentService, monitorService, log),
		Dashboard:  handler.NewDashboardHandler(dashboardService, log),
		System:     handler.NewSystemHandler(rdb, sessionStore, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	sweepWorker := worker.NewSweepWorker(assessmentService, cfg.PurgeInterval, log)
	completionWorker := worker.NewCompletionWorker(completionRepo, rdb, log)
	recoveryWorker := worker.NewRecoveryWorker(recoveryRepo, rdb, log)

	for _, start := range []func(context.Context){
		sweepWorker.Start,
		completionWorker.Start,
		recoveryWorker.Start,
	} {
		workers.Add(1)
		go func() {
			defer workers.Done()
			start(workerCtx)
		}()
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(ctx, authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
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

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	workers.Wait()

	// 3. Write live sessions for the next start.
	n, err := sessionStore.PersistAll(cfg.SessionPersistDir)
	if err != nil {
		log.Error().Err(err).Str("dir", cfg.SessionPersistDir).Msg("Session persist failed")
	} else {
		log.Info().Int("sessions", n).Msg("Sessions persisted")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
