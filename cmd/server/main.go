// Package main is the entrypoint for the datapump job orchestrator.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsemr "github.com/aws/aws-sdk-go-v2/service/emr"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/datapump/internal/api"
	"github.com/kiranshivaraju/datapump/internal/api/handler"
	mw "github.com/kiranshivaraju/datapump/internal/api/middleware"
	"github.com/kiranshivaraju/datapump/internal/api/response"
	"github.com/kiranshivaraju/datapump/internal/areas"
	"github.com/kiranshivaraju/datapump/internal/cache"
	"github.com/kiranshivaraju/datapump/internal/cluster"
	"github.com/kiranshivaraju/datapump/internal/config"
	"github.com/kiranshivaraju/datapump/internal/dataapi"
	"github.com/kiranshivaraju/datapump/internal/emr"
	"github.com/kiranshivaraju/datapump/internal/jobs"
	"github.com/kiranshivaraju/datapump/internal/launchplan"
	"github.com/kiranshivaraju/datapump/internal/notify"
	"github.com/kiranshivaraju/datapump/internal/objectstore"
	"github.com/kiranshivaraju/datapump/internal/observability"
	"github.com/kiranshivaraju/datapump/internal/pipeline"
	"github.com/kiranshivaraju/datapump/internal/scheduler"
	"github.com/kiranshivaraju/datapump/internal/sizing"
	"github.com/kiranshivaraju/datapump/internal/store"
	"github.com/kiranshivaraju/datapump/pkg/models"
)

const (
	shutdownTimeout   = 30 * time.Second
	requestsPerMinute = 60
	migrationsDir     = "migrations"
	healthTimeout     = 2 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "region", cfg.Cluster.Region)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Cluster.Region))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	pgStore := store.NewPostgresStore(pool)
	dataAPI := dataapi.NewClient(cfg.DataAPI.BaseURL, cfg.DataAPI.Token, cfg.DataAPI.Timeout)
	svc := newJobService(cfg, awsCfg, pgStore, redisCache, dataAPI, metrics)

	sched := scheduler.New(scheduler.Config{
		Interval:    cfg.Scheduler.Interval,
		Concurrency: cfg.Scheduler.Concurrency,
		BatchSize:   cfg.Scheduler.BatchSize,
		LockTTL:     cfg.Scheduler.LockTTL,
	}, pgStore, svc, redisCache)
	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(schedDone)
	}()

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, requestsPerMinute),
		Metrics:   metrics,

		HealthHandler:  healthHandler(pgStore, redisCache, dataAPI),
		MetricsHandler: metricsHandler,

		SubmitAnalysis:      handler.NewSubmitAnalysisHandler(svc),
		SubmitVersionUpdate: handler.NewSubmitVersionUpdateHandler(svc),
		GetJob:              handler.NewGetJobHandler(svc),
		JobStatus:           handler.NewJobStatusHandler(svc),
		TickJob:             handler.NewTickJobHandler(lockedJobs{Service: svc, sched: sched}),
		ListSyncConfigs:     handler.NewListSyncConfigsHandler(pgStore),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-schedDone

	slog.Info("server stopped gracefully")
	return nil
}

// newJobService builds both engines and the service that drives them.
func newJobService(cfg *config.Config, awsCfg aws.Config, st store.Store, c cache.Cache, assets pipeline.AssetService, metrics *observability.Metrics) *jobs.Service {
	s3Client := s3.NewFromConfig(awsCfg)
	sizer := sizing.NewSizer(sizing.Config{
		MinWorkers:   cfg.Sizing.MinWorkers,
		WorkersPerMB: cfg.Sizing.WorkersPerMB,
	}, objectstore.NewS3Sizer(s3Client))

	builder := launchplan.NewBuilder(launchplan.Config{
		ReleaseLabel:        cfg.Cluster.ReleaseLabel,
		ResultBucket:        cfg.Cluster.ResultBucket,
		PrimaryInstanceType: cfg.Cluster.PrimaryInstanceType,
		WorkerInstanceTypes: cfg.Cluster.WorkerInstanceTypes,
		KeyName:             cfg.Cluster.KeyName,
		SubnetIDs:           cfg.Cluster.SubnetIDs,
		JobFlowRole:         cfg.Cluster.JobFlowRole,
		ServiceRole:         cfg.Cluster.ServiceRole,
	})

	clusters := cluster.NewEngine(sizer, builder,
		emr.NewClient(awsemr.NewFromConfig(awsCfg), cfg.Cluster.Timeout),
		cluster.StepConfig{
			ResultBucket: cfg.Cluster.ResultBucket,
			JarPath:      cfg.Cluster.JarPath,
		})

	pipelines := pipeline.NewEngine(assets)

	var areaUpdater jobs.AreaUpdater
	if cfg.Areas.BaseURL != "" {
		areaUpdater = areas.NewUpdater(objectstore.NewS3Reader(s3Client),
			areas.NewClient(cfg.Areas.BaseURL, cfg.Areas.Token, cfg.Areas.Timeout))
	}

	return jobs.NewService(jobs.Options{
		Store:     st,
		Clusters:  clusters,
		Pipelines: pipelines,
		Cache:     c,
		Notifier:  notify.New(cfg.Notify.SlackWebhookURL, cfg.Server.Env, cfg.Notify.Timeout),
		Metrics:   metrics,
		Locks:     c,
		LockTTL:   cfg.Scheduler.LockTTL,
		Areas:     areaUpdater,
	})
}

// lockedJobs routes manual ticks through the scheduler so they never race
// a scheduled tick of the same job.
type lockedJobs struct {
	*jobs.Service
	sched *scheduler.Scheduler
}

func (l lockedJobs) Tick(ctx context.Context, id uuid.UUID) (models.Job, error) {
	return l.sched.Tick(ctx, id)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database, cache and data API connectivity. The data
// API only degrades version-update jobs, so it is reported but never turns
// the response into a 503.
func healthHandler(db, c, dataAPI pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"data_api": "ok",
		}

		if err := ping(r.Context(), db); err != nil {
			checks["database"] = "degraded"
		}
		if err := ping(r.Context(), c); err != nil {
			checks["cache"] = "degraded"
		}
		if err := ping(r.Context(), dataAPI); err != nil {
			slog.WarnContext(r.Context(), "data api health check failed", "error", err)
			checks["data_api"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

func ping(ctx context.Context, p pinger) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return p.Ping(ctx)
}
