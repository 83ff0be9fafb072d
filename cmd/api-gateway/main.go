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

	"github.com/gin-gonic/gin"

	_ "github.com/gestion-judicial/casefile-api/api/swagger"
	"github.com/gestion-judicial/casefile-api/internal/authz"
	"github.com/gestion-judicial/casefile-api/internal/handler"
	"github.com/gestion-judicial/casefile-api/internal/middleware"
	"github.com/gestion-judicial/casefile-api/internal/repository"
	"github.com/gestion-judicial/casefile-api/internal/service"
	"github.com/gestion-judicial/casefile-api/pkg/cache"
	"github.com/gestion-judicial/casefile-api/pkg/config"
	"github.com/gestion-judicial/casefile-api/pkg/database"
	"github.com/gestion-judicial/casefile-api/pkg/jobs"
	"github.com/gestion-judicial/casefile-api/pkg/logger"
	corsmiddleware "github.com/gestion-judicial/casefile-api/pkg/middleware/cors"
	reqidmiddleware "github.com/gestion-judicial/casefile-api/pkg/middleware/requestid"
	"github.com/gestion-judicial/casefile-api/pkg/storage"
)

// @title Casefile API
// @version 1.0.0
// @description Judicial case management backend
// @BasePath /api/v1
// @schemes http
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, stats cache and login rate limit disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	store, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init document storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	caseRepo := repository.NewCaseRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	evaluator := authz.NewEvaluator()
	metricsSvc := service.NewMetricsService()

	auditSvc := service.NewAuditService(db, auditRepo, cfg.Audit, logr)
	authSvc := service.NewAuthService(userRepo, auditSvc, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, evaluator, auditSvc, nil, logr)
	balancer := service.NewAssignmentService(caseRepo, logr)

	queueCfg := jobs.QueueConfig{
		Workers:    cfg.Tasks.Workers,
		BufferSize: cfg.Tasks.BufferSize,
		MaxRetries: cfg.Tasks.MaxRetries,
		RetryDelay: cfg.Tasks.RetryDelay,
		Logger:     logr,
	}

	var notifyQueue *jobs.Queue
	if cfg.Notifications.Enabled {
		notifyQueue = jobs.NewQueue("notifications", service.HandleNotificationJob(logr), queueCfg)
	}
	notifier := service.NewNotificationService(notifyQueue, logr)

	caseSvc := service.NewCaseService(db, caseRepo, userRepo, evaluator, auditSvc, balancer, notifier, redisClient, metricsSvc, cfg.Cases, nil, logr)

	var documentSvc *service.DocumentService
	ocrQueue := jobs.NewQueue("document-ocr", func(ctx context.Context, job jobs.Job) error {
		return documentSvc.HandleOCRJob()(ctx, job)
	}, queueCfg)
	documentSvc = service.NewDocumentService(db, documentRepo, caseRepo, evaluator, auditSvc, store, signer, ocrQueue, cfg.Documents, nil, logr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ocrQueue.Start(ctx)
	defer ocrQueue.Stop()
	if notifyQueue != nil {
		notifyQueue.Start(ctx)
		defer notifyQueue.Stop()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	var loginLimiter gin.HandlerFunc
	if cfg.RateLimit.Enabled && redisClient != nil {
		store := middleware.NewRedisRateLimitStore(redisClient)
		loginLimiter = middleware.RateLimit(store, "login", cfg.RateLimit.LoginLimit, cfg.RateLimit.LoginWindow, logr)
	}

	handler.RegisterRoutes(r, handler.Handlers{
		Auth:        handler.NewAuthHandler(authSvc),
		Users:       handler.NewUserHandler(userSvc),
		Cases:       handler.NewCaseHandler(caseSvc),
		Documents:   handler.NewDocumentHandler(documentSvc),
		Audit:       handler.NewAuditHandler(auditSvc, evaluator),
		Metrics:     handler.NewMetricsHandler(metricsSvc, db),
		AuthService:  authSvc,
		Config:       cfg,
		LoginLimiter: loginLimiter,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}
