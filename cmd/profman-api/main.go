package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/profman-api/internal/handler"
	"github.com/noah-isme/profman-api/internal/repository"
	"github.com/noah-isme/profman-api/internal/router"
	"github.com/noah-isme/profman-api/internal/service"
	"github.com/noah-isme/profman-api/pkg/cache"
	"github.com/noah-isme/profman-api/pkg/config"
	"github.com/noah-isme/profman-api/pkg/database"
	"github.com/noah-isme/profman-api/pkg/google"
	"github.com/noah-isme/profman-api/pkg/jobs"
	"github.com/noah-isme/profman-api/pkg/logger"
	"github.com/noah-isme/profman-api/pkg/mail"
	"github.com/noah-isme/profman-api/pkg/reporting"
	"github.com/noah-isme/profman-api/pkg/signing"
	"github.com/noah-isme/profman-api/pkg/storage"
	"github.com/noah-isme/profman-api/pkg/validation"
)

// @title ProfMan API
// @version 1.0.0
// @description Course management backend for professors, students and administrators
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reporter := reporting.New(cfg)
	if closer, ok := reporter.(interface{ Close() }); ok {
		defer closer.Close()
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	store, err := newExportStore(ctx, cfg.Exports)
	if err != nil {
		return err
	}

	validate := validation.New()
	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	userRepo := repository.NewUserRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	branchRepo := repository.NewBranchRepository(db)
	quizRepo := repository.NewQuizRepository(db)
	attemptRepo := repository.NewQuizAttemptRepository(db)
	examRepo := repository.NewExamRepository(db)
	submissionRepo := repository.NewExamSubmissionRepository(db)
	exportRepo := repository.NewExportJobRepository(db)
	googleTokens := repository.NewGoogleTokenRepository(db)

	googleClient := google.NewClient(cfg.Google)
	exportSigner := signing.NewSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	stateSigner := signing.NewSigner(cfg.JWT.Secret+":google-state", cfg.Google.StateTTL)

	authSvc := service.NewAuthService(userRepo, mail.New(cfg.Mail, logr), validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		ResetTokenExpiry:   cfg.JWT.ResetExpiration,
		Issuer:             cfg.JWT.Issuer,
		FrontendBaseURL:    cfg.FrontendBaseURL,
	}).WithMetrics(metrics)
	userSvc := service.NewUserService(userRepo, validate, logr)
	subjectSvc := service.NewSubjectService(subjectRepo, userRepo, cacheSvc, validate, logr)
	branchSvc := service.NewBranchService(branchRepo, userRepo, subjectRepo, userRepo, cacheSvc, validate, logr)
	quizSvc := service.NewQuizService(quizRepo, attemptRepo, branchRepo, userRepo, cacheSvc, metrics, validate, logr)
	examSvc := service.NewExamService(examRepo, submissionRepo, branchRepo, userRepo, cacheSvc, metrics, validate, logr)
	gradebookSvc := service.NewGradebookService(branchRepo,
		service.QuizResults{Quizzes: quizRepo, Attempts: attemptRepo},
		service.ExamResults{Exams: examRepo, Submissions: submissionRepo},
		cacheSvc, logr)
	statsSvc := service.NewStatsService(repository.NewStatsRepository(db), cacheSvc, metrics, map[string]service.Pinger{
		"database": database.Pinger{DB: db},
		"redis":    cache.Pinger{Client: redisClient},
	}, logr)
	googleSvc := service.NewGoogleIntegrationService(googleTokens, googleClient, stateSigner, userRepo, logr)

	worker := service.NewExportWorker(exportRepo, branchRepo, gradebookSvc, store, exportSigner, googleClient, googleTokens, metrics, cfg.APIPrefix, logr)
	// The queue reports exhausted jobs back to the service that owns them,
	// which in turn needs the queue to dispatch.
	var exportSvc *service.ExportJobService
	queue := jobs.NewQueue("exports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
		OnExhausted: func(ctx context.Context, job jobs.Job, cause error) {
			exportSvc.MarkExhausted(ctx, job, cause)
		},
	})
	exportSvc = service.NewExportJobService(exportRepo, gradebookSvc, googleTokens, googleClient, queue, store, exportSigner, userRepo, metrics, validate, logr, service.ExportJobConfig{
		APIPrefix:       cfg.APIPrefix,
		CleanupInterval: cfg.Exports.CleanupInterval,
	})

	queue.Start(ctx)
	defer queue.Stop()
	exportSvc.RecoverPendingJobs(ctx)
	exportSvc.StartCleanup(ctx)

	engine := router.New(router.Dependencies{
		Config:     cfg,
		Logger:     logr,
		Reporter:   reporter,
		Metrics:    metrics,
		Tokens:     authSvc,
		Auth:       handler.NewAuthHandler(authSvc),
		Users:      handler.NewUserHandler(userSvc, statsSvc),
		Subjects:   handler.NewSubjectHandler(subjectSvc),
		Branches:   handler.NewBranchHandler(branchSvc),
		Quizzes:    handler.NewQuizHandler(quizSvc),
		Exams:      handler.NewExamHandler(examSvc),
		Gradebooks: handler.NewGradebookHandler(gradebookSvc, exportSvc),
		Google:     handler.NewGoogleHandler(googleSvc, cfg.FrontendBaseURL),
		Probes:     handler.NewMetricsHandler(metrics, statsSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newExportStore(ctx context.Context, cfg config.ExportsConfig) (storage.Store, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverB2:
		return storage.NewB2Storage(ctx, cfg.B2AccountID, cfg.B2ApplicationKey, cfg.B2Bucket)
	default:
		return storage.NewLocalStorage(cfg.StorageDir)
	}
}
