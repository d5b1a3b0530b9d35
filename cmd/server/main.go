// Package main is the entrypoint for the imagehunter server: the HTTP API
// and the job poller run in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/imagehunter/internal/api"
	"github.com/kiranshivaraju/imagehunter/internal/api/handler"
	mw "github.com/kiranshivaraju/imagehunter/internal/api/middleware"
	"github.com/kiranshivaraju/imagehunter/internal/cache"
	"github.com/kiranshivaraju/imagehunter/internal/config"
	"github.com/kiranshivaraju/imagehunter/internal/dedupe"
	"github.com/kiranshivaraju/imagehunter/internal/fetch"
	"github.com/kiranshivaraju/imagehunter/internal/metrics"
	"github.com/kiranshivaraju/imagehunter/internal/notify"
	"github.com/kiranshivaraju/imagehunter/internal/pipeline"
	"github.com/kiranshivaraju/imagehunter/internal/poller"
	"github.com/kiranshivaraju/imagehunter/internal/relevance"
	"github.com/kiranshivaraju/imagehunter/internal/store"
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
	// A missing .env is normal in production.
	_ = godotenv.Load()

	// 1. Load config; fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"relevance_provider", cfg.Relevance.Provider,
		"sqlite", cfg.Database.IsSQLite(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the job ledger (migrations run for Postgres)
	st, err := store.Open(ctx, cfg.Database, "migrations")
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	slog.Info("database ready")

	// 3. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL, cache.WithPrefix(cfg.Redis.KeyPrefix))
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	if err := os.MkdirAll(cfg.Storage.DownloadsDir, 0o755); err != nil {
		return fmt.Errorf("create downloads dir: %w", err)
	}

	m := metrics.New()

	// 4. Pipeline stages
	pexels := fetch.NewPexelsClient(cfg.Fetch.PexelsBaseURL, cfg.Fetch.PexelsAPIKey, cfg.Fetch.DownloadTimeout)
	if !pexels.HasCredentials() {
		slog.Warn("PEXELS_API_KEY not set, fetch will return no images")
	}
	searcher := fetch.NewCachingSearcher(pexels, redisCache, "pexels", cfg.Fetch.SearchCacheTTL, nil)
	fetcher := fetch.New(searcher, fetch.Config{
		DownloadsDir: cfg.Storage.DownloadsDir,
		PageSize:     cfg.Fetch.PageSize,
		MaxPages:     cfg.Fetch.MaxPages,
		Delay:        cfg.Fetch.DownloadDelay,
		Timeout:      cfg.Fetch.DownloadTimeout,
	}, nil)

	scorer, err := relevance.NewScorer(cfg.Relevance)
	if err != nil {
		return fmt.Errorf("create relevance scorer: %w", err)
	}
	threshold := cfg.Relevance.Threshold
	filter := relevance.NewFilter(scorer, relevance.FilterConfig{
		Threshold: &threshold,
		BatchSize: cfg.Relevance.BatchSize,
	}, nil)
	slog.Info("relevance scorer initialized", "provider", scorer.Name())

	runner := pipeline.NewRunner(pipeline.Dependencies{
		Store:      st,
		Cache:      redisCache,
		Fetcher:    fetcher,
		Dedupe:     dedupe.New(nil),
		Filter:     filter,
		Metrics:    m,
		Oversample: cfg.Fetch.Oversample,
	})

	// 5. Notifier and poller
	notifier, err := notify.New(notify.NewSMTPSender(cfg.Mail), nil)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}

	p := poller.New(st, runner, notifier, poller.Config{
		Interval: cfg.Poller.Interval,
		BaseURL:  cfg.Server.BaseURL,
		Cache:    redisCache,
		Metrics:  m,
	}, nil)

	// 6. Build router with dependencies
	router := buildRouter(cfg, st, redisCache, m, p)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // large zip downloads
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		// Warm the model so the first job does not pay for it.
		if err := filter.Load(ctx); err != nil {
			slog.Warn("relevance model unavailable, filter will pass images through", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
		stop()
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server shutdown: %w", err)
	}
	wg.Wait()

	if serveErr != nil {
		return serveErr
	}
	slog.Info("server stopped gracefully")
	return nil
}

// buildRouter wires handlers and middleware onto the API router.
func buildRouter(cfg *config.Config, st store.Store, c cache.Cache, m *metrics.Metrics, w handler.Waker) http.Handler {
	jobs := handler.NewJobs(st, c, m, w, cfg.Storage.DownloadsDir, nil)

	return api.NewRouter(api.Dependencies{
		AdminAuth:      mw.NewAdminAuth(cfg.Server.AdminKeyHash),
		RateLimit:      mw.NewRateLimit(c, cfg.Server.RateLimit),
		DownloadsDir:   cfg.Storage.DownloadsDir,
		TrustedProxies: cfg.Server.TrustedProxies,

		IndexHandler:     jobs.Index,
		HealthHandler:    handler.NewHealthHandler(st, c),
		MetricsHandler:   m.Handler(),
		CreateJobHandler: jobs.Create,
		ListJobsHandler:  jobs.List,
		GetJobHandler:    jobs.Get,
		JobStatusHandler: jobs.Status,
		ResultsHandler:   jobs.Results,
		DownloadHandler:  jobs.Download,
		FailJobHandler:   jobs.FailJob,
	})
}
