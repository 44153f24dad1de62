// Package main is the entrypoint for the video jobs API server.
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

	"github.com/kiranshivaraju/videojobs/internal/api"
	"github.com/kiranshivaraju/videojobs/internal/api/handler"
	mw "github.com/kiranshivaraju/videojobs/internal/api/middleware"
	"github.com/kiranshivaraju/videojobs/internal/cache"
	"github.com/kiranshivaraju/videojobs/internal/chat"
	"github.com/kiranshivaraju/videojobs/internal/config"
	"github.com/kiranshivaraju/videojobs/internal/drive"
	"github.com/kiranshivaraju/videojobs/internal/media"
	"github.com/kiranshivaraju/videojobs/internal/store"
	"github.com/kiranshivaraju/videojobs/internal/video"
)

const shutdownTimeout = 30 * time.Second

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
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "store", cfg.Database.Driver, "peer", cfg.Chat.Peer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Job store (runs migrations for postgres)
	jobStore, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Collaborators
	mediaDir, err := media.New(cfg.Media.Dir)
	if err != nil {
		return fmt.Errorf("prepare media dir: %w", err)
	}

	bridge := chat.NewHTTPBridge(cfg.Chat.GatewayURL, cfg.Chat.Token, cfg.Chat.Timeout,
		chat.WithSendRate(cfg.Chat.SendRatePerMin),
		chat.WithMediaTimeout(cfg.Chat.MediaTimeout),
		chat.WithSenderCache(redisCache))
	if err := bridge.Ready(ctx); err != nil {
		slog.Warn("chat gateway not ready, jobs will fail until it is", "url", cfg.Chat.GatewayURL, "error", err)
	}

	waiter := chat.NewWaiter(bridge, cfg.Chat.Peer,
		chat.WithPollInterval(cfg.Correlation.PollInterval),
		chat.WithWaitTimeout(cfg.Correlation.Timeout),
		chat.WithFetchLimit(cfg.Correlation.FetchLimit),
		chat.WithReplyClaimer(redisCache),
		chat.WithLogger(slog.Default()))

	uploader, err := drive.New(ctx, cfg.Drive)
	if err != nil {
		return fmt.Errorf("create drive uploader: %w", err)
	}

	// 5. Orchestrator, resumed from whatever the last process left behind
	orch := video.NewOrchestrator(video.Deps{
		Store:     jobStore,
		Bridge:    bridge,
		Waiter:    waiter,
		Uploader:  uploader,
		Media:     mediaDir,
		Admission: video.NewAdmission(jobStore, cfg.Jobs.MaxActive),
		Cache:     redisCache,
		Logger:    slog.Default(),
		ListLimit: cfg.Jobs.ListLimit,
	})

	res, err := orch.Resume(ctx, 0)
	if err != nil {
		return fmt.Errorf("resume jobs: %w", err)
	}
	slog.Info("unfinished jobs resumed", "resumed", res.Resumed, "rolled_back", res.RolledBack)

	scheduler := video.NewRecoveryScheduler(orch, cfg.Recovery.StaleAfter, slog.Default())
	if err := scheduler.Start(cfg.Recovery.Schedule); err != nil {
		return err
	}

	// 6. Router
	router := api.NewRouter(newDependencies(cfg, jobStore, redisCache, orch))

	// 7. HTTP server; previews stream whole videos, hence the long write timeout
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
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
		scheduler.Stop()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	scheduler.Stop()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		slog.Warn("background jobs still running at shutdown", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openStore returns the configured job store and a func releasing it.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory job store, jobs are lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	case config.DriverPostgres:
		pool, err := store.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.URL, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		return store.NewPostgresStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newDependencies(cfg *config.Config, db handler.Pinger, c cache.Cache, jobs handler.JobService) api.Dependencies {
	return api.Dependencies{
		Auth:      mw.NewAuth(cfg.Auth.APIKeyHashes, cfg.IsDevelopment()),
		RateLimit: mw.NewRateLimit(c, cfg.Auth.RateLimitPerMin),

		HealthHandler:     handler.NewHealthHandler(db, c),
		CreateJobHandler:  handler.NewCreateJobHandler(jobs),
		ListJobsHandler:   handler.NewListJobsHandler(jobs),
		GetJobHandler:     handler.NewGetJobHandler(jobs),
		JobStatusHandler:  handler.NewJobStatusHandler(jobs),
		PreviewHandler:    handler.NewPreviewHandler(jobs),
		ApproveHandler:    handler.NewApproveHandler(jobs),
		RejectHandler:     handler.NewRejectHandler(jobs),
		RegenerateHandler: handler.NewRegenerateHandler(jobs),
	}
}
