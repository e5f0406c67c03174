// Package main is the entrypoint for a renderq process: the worker loop,
// recovery, heartbeat and the HTTP surface in one binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/renderq/internal/api"
	"github.com/kiranshivaraju/renderq/internal/api/handler"
	mw "github.com/kiranshivaraju/renderq/internal/api/middleware"
	"github.com/kiranshivaraju/renderq/internal/backend"
	"github.com/kiranshivaraju/renderq/internal/config"
	"github.com/kiranshivaraju/renderq/internal/heartbeat"
	"github.com/kiranshivaraju/renderq/internal/jobs"
	"github.com/kiranshivaraju/renderq/internal/lease"
	"github.com/kiranshivaraju/renderq/internal/pipeline"
	"github.com/kiranshivaraju/renderq/internal/recovery"
	"github.com/kiranshivaraju/renderq/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	slog.SetDefault(newLogger(os.Stdout, config.LogConfig{Level: "info", Format: "json"}))

	if err := run(); err != nil {
		slog.Error("renderq failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	b, err := config.Resolve(cfg.Backend)
	if err != nil {
		return fmt.Errorf("resolve backends: %w", err)
	}
	if b.SoloOverride {
		logger.Warn("solo mode ignores the shared backend settings in the environment",
			"store_backend", cfg.Backend.StoreBackend, "queue_backend", cfg.Backend.QueueBackend)
	}
	logger.Info("config loaded", "mode", b.RunMode, "instance_id", b.InstanceID,
		"store_backend", b.StoreBackend, "queue_backend", b.QueueBackend)

	// 2. Rendering pipeline
	pipe, err := pipeline.New(cfg.Renderer, cfg.Worker.JobTimeout)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Storage components
	comps, err := backend.Build(ctx, cfg, b, logger)
	if err != nil {
		return fmt.Errorf("build backends: %w", err)
	}
	defer comps.Close()
	logger.Info("backends ready", "store", comps.Store.Backend(), "queue", comps.Queue.Name())

	token := lease.NewToken(b.InstanceID)

	w := worker.New(worker.Deps{
		Store:    comps.Store,
		Queue:    comps.Queue,
		Leases:   comps.Leases,
		Events:   comps.Events,
		Pipeline: pipe,
		Logger:   logger,
	}, worker.Config{
		Token:          token,
		JobTimeout:     cfg.Worker.JobTimeout,
		DequeueTimeout: cfg.Worker.DequeueTimeout,
		RenewInterval:  cfg.Lease.RenewInterval,
		WorkDir:        cfg.Worker.WorkDir,
	})

	beater := heartbeat.NewBeater(comps.Heartbeat, heartbeat.Identity{
		InstanceID:   b.InstanceID,
		Mode:         b.RunMode,
		QueueBackend: b.QueueBackend,
		StoreBackend: b.StoreBackend,
		Provider:     cfg.Renderer.Provider,
	}, cfg.Beat.Interval, cfg.Beat.TTL, logger)

	// Recovery exists only where leases do.
	var pass *recovery.Pass
	if comps.Leases != nil {
		pass = recovery.NewPass(recovery.Deps{
			Store:  comps.Store,
			Queue:  comps.Queue,
			Leases: comps.Leases,
			Lock:   comps.RecoveryLock(token, cfg.Recovery.LockTTL),
			Events: comps.Events,
			Logger: logger,
		}, cfg.Recovery.MaxRetries)
	}

	svc := jobs.NewService(comps.Store, comps.Queue, comps.Leases, comps.Events, logger)
	router := api.NewRouter(buildDependencies(cfg, comps, svc, beater, pass))

	// 4. Run everything until a signal or the first fatal error
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return beater.Run(gctx) })
	if pass != nil {
		g.Go(func() error { return recovery.NewRunner(pass, cfg.Recovery.Interval).Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("renderq stopped gracefully")
	return nil
}

// buildDependencies wires handlers to the running components. The
// recovery endpoint stays unset without a pass.
func buildDependencies(cfg *config.Config, comps *backend.Components, svc *jobs.Service,
	beater *heartbeat.Beater, pass *recovery.Pass) api.Dependencies {
	deps := api.Dependencies{
		Auth:      mw.NewAdminAuth(cfg.Server.AdminTokenHash),
		RateLimit: mw.NewRateLimit(comps.Counter, comps.Keys.RateLimit, cfg.Server.RateLimitPerMinute),

		HealthHandler:        handler.NewHealthHandler(beater, comps),
		GetJobHandler:        handler.NewGetJobHandler(svc),
		JobEventsHandler:     handler.NewJobEventsHandler(svc),
		SubmitHandler:        handler.NewSubmitHandler(svc),
		SectionImagesHandler: handler.NewSectionImagesHandler(svc),
		RetryHandler:         handler.NewRetryHandler(svc),
		ListJobsHandler:      handler.NewListJobsHandler(svc),
	}
	if pass != nil {
		deps.RecoveryHandler = handler.NewRecoveryHandler(pass)
	}
	if !deps.Auth.Enabled() {
		slog.Warn("ADMIN_TOKEN_HASH is not set; admin routes are disabled")
	}
	return deps
}

func newLogger(out io.Writer, lc config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(lc.Format, "text") {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}
