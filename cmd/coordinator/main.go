// Command coordinator runs the authoritative job-queue server: the HTTP API
// (registration, heartbeat, claim/start/complete/fail, admin) plus the
// background recovery loops. Grounded on the teacher's cmd/main.go
// app.New/app.Start/app.Run shape, generalized from the single combined
// server+worker binary to a coordinator-only process (the worker half lives
// in cmd/agent).
package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"

	"github.com/jobmesh/platform/internal/auth"
	"github.com/jobmesh/platform/internal/coordinator"
	"github.com/jobmesh/platform/internal/platform/config"
	"github.com/jobmesh/platform/internal/platform/logger"
	"github.com/jobmesh/platform/internal/platform/metrics"
	"github.com/jobmesh/platform/internal/recovery"
	"github.com/jobmesh/platform/internal/server"
	"github.com/jobmesh/platform/internal/store"
)

func main() {
	cfg := config.LoadCoordinatorConfig(nil)

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("coordinator exited with error", "error", err)
	}
}

func run(cfg config.CoordinatorConfig, log *logger.Logger) error {
	gormDB, err := store.Open(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, postgres.Open(cfg.DatabaseURL))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(gormDB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db := store.NewDB(gormDB)

	jobStore := store.NewJobStore(gormDB)
	workerStore := store.NewWorkerStore(gormDB)
	resultStore := store.NewResultStore(gormDB)
	idempotencyStore := store.NewIdempotencyStore(gormDB)

	if cfg.JWTPrivateKeyPath == "" {
		return fmt.Errorf("JWT_PRIVATE_KEY_PATH must be set")
	}
	privateKey, err := auth.LoadRSAPrivateKey(cfg.JWTPrivateKeyPath)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	issuer, err := auth.NewTokenIssuer(privateKey, cfg.JWTKeyID, "jobmesh-coordinator", auth.MinTokenLifetime)
	if err != nil {
		return fmt.Errorf("build token issuer: %w", err)
	}
	verifier := auth.NewTokenVerifier("jobmesh-coordinator", map[string]*rsa.PublicKey{cfg.JWTKeyID: &privateKey.PublicKey})
	jwksDoc := auth.PublicJWKS(cfg.JWTKeyID, &privateKey.PublicKey)

	principals, err := coordinator.ParseBotCredentials(os.Getenv("BOT_CREDENTIALS"))
	if err != nil {
		return fmt.Errorf("parse BOT_CREDENTIALS: %w", err)
	}
	principalStore := coordinator.NewStaticPrincipalStore(principals)

	limiter, closeLimiter := buildRateLimiter(cfg, log)
	defer closeLimiter()

	authSvc := auth.NewService(issuer, verifier, principalStore, limiter, cfg.MinClientVersion, log)

	m := metrics.New(cfg.MetricsNamespace, prometheus.DefaultRegisterer)

	svcCfg := coordinator.Config{
		Region:                      "local",
		Version:                     "1.0.0",
		Queue:                       "default",
		HeartbeatIntervalSec:        30,
		ClaimedJobTimeoutSeconds:    cfg.ClaimedJobTimeoutSeconds,
		ProcessingJobTimeoutSeconds: cfg.ProcessingJobTimeoutSeconds,
		BotRetentionDays:            cfg.BotRetentionDays,
	}
	svc := coordinator.NewService(jobStore, workerStore, resultStore, idempotencyStore, db, authSvc, m, log, svcCfg)

	authHandler := coordinator.NewAuthHandler(authSvc, jwksDoc)
	botsHandler := coordinator.NewBotsHandler(svc)
	jobsHandler := coordinator.NewJobsHandler(svc)
	adminHandler := coordinator.NewAdminHandler(svc, jobStore, workerStore, db, svcCfg)
	healthHandler := coordinator.NewHealthHandler(db)

	router := server.NewRouter(server.RouterConfig{
		AuthHandler:   authHandler,
		BotsHandler:   botsHandler,
		JobsHandler:   jobsHandler,
		AdminHandler:  adminHandler,
		HealthHandler: healthHandler,
		AuthSvc:       authSvc,
		AdminToken:    cfg.AdminToken,
		Metrics:       m,
		Log:           log,
	})

	recoveryCfg := recovery.Config{
		OrphanHeartbeatTimeout: time.Duration(cfg.ClaimedJobTimeoutSeconds) * time.Second,
		ClaimedJobTimeout:      time.Duration(cfg.ClaimedJobTimeoutSeconds) * time.Second,
		ProcessingJobTimeout:   time.Duration(cfg.ProcessingJobTimeoutSeconds) * time.Second,
		AutoPopulateEnabled:    cfg.PopulateIntervalMS > 0,
		AutoPopulateInterval:   cfg.PopulateIntervalMS,
		AutoPopulateBatchSize:  cfg.PopulateBatchSize,
	}
	authWindowStore, _ := limiter.(recovery.AuthWindowStore)
	manager := recovery.NewManager(jobStore, workerStore, idempotencyStore, authWindowStore, m, log, recoveryCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Start(ctx)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("coordinator listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		log.Info("coordinator received shutdown signal", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
	}
	return nil
}

func buildRateLimiter(cfg config.CoordinatorConfig, log *logger.Logger) (auth.RateLimiter, func()) {
	if cfg.RedisURL == "" {
		return auth.NewInMemoryRateLimiter(auth.DefaultFailureThreshold, auth.DefaultWindow, auth.DefaultBackoffSchedule), func() {}
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Warn("invalid REDIS_URL, falling back to in-memory rate limiter", "error", err)
		return auth.NewInMemoryRateLimiter(auth.DefaultFailureThreshold, auth.DefaultWindow, auth.DefaultBackoffSchedule), func() {}
	}
	rdb := redis.NewClient(opts)
	limiter := auth.NewRedisRateLimiter(rdb, auth.DefaultFailureThreshold, auth.DefaultWindow, auth.DefaultBackoffSchedule, log)
	return limiter, func() { _ = rdb.Close() }
}
