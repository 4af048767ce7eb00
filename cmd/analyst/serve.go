package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/analyst/internal/api"
	"github.com/mattjoyce/analyst/internal/config"
	"github.com/mattjoyce/analyst/internal/events"
	"github.com/mattjoyce/analyst/internal/executor"
	"github.com/mattjoyce/analyst/internal/lock"
	"github.com/mattjoyce/analyst/internal/log"
	"github.com/mattjoyce/analyst/internal/metrics"
	"github.com/mattjoyce/analyst/internal/registry"
	"github.com/mattjoyce/analyst/internal/rpc"
	"github.com/mattjoyce/analyst/internal/worker"
	"github.com/mattjoyce/analyst/internal/workspace"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker RPC service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file or directory")
	return cmd
}

// components is everything serve wires together.
type components struct {
	registry   *registry.Registry
	hub        *events.Hub
	workspaces workspace.Manager
	service    *worker.Service
	rpc        *rpc.Server
}

func buildComponents(cfg *config.Config, newReporter worker.ReporterFactory) (*components, error) {
	ws, err := workspace.NewFSManager(cfg.TasksDir())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize workspace manager: %w", err)
	}
	exec, err := executor.New(executor.Config{
		Command:        cfg.Executor.Command,
		SharedDir:      cfg.SharedDir,
		PathVar:        cfg.Executor.PathVar,
		KillGrace:      cfg.Executor.KillGrace,
		MaxStderrBytes: cfg.Executor.MaxStderrBytes,
		MaxLineBytes:   cfg.Worker.MaxFrameBytes,
		Workspaces:     ws,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	reg := registry.New()
	hub := events.NewHub(256)
	svc := worker.New(exec, reg, hub, newReporter)
	srv := rpc.NewServer(rpc.ServerConfig{
		Workers:       cfg.Worker.Workers,
		MaxFrameBytes: cfg.Worker.MaxFrameBytes,
		OnRequest:     metrics.ObserveRPC,
	})
	svc.Register(srv)

	return &components{registry: reg, hub: hub, workspaces: ws, service: svc, rpc: srv}, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("analyst starting", "version", version, "shared_dir", cfg.SharedDir)

	pidLockPath := cfg.LockPath()
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		return fmt.Errorf("failed to acquire PID lock %s (another worker may be running): %w", pidLockPath, err)
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	c, err := buildComponents(cfg, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := c.rpc.ListenAndServe(gctx, cfg.Worker.Listen); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("rpc: %w", err)
		}
		return nil
	})

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{Listen: cfg.API.Listen, SharedDir: cfg.SharedDir}, c.registry, c.service, c.hub, log.WithComponent("api"))
		g.Go(func() error {
			if err := apiServer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if cfg.Workspace.Retention > 0 {
		g.Go(func() error {
			runWorkspaceCleanup(gctx, c.workspaces, c.registry, cfg.Workspace.Retention, logger)
			return nil
		})
	}

	// Tasks outlive the RPC calls that started them, so shutdown kills them
	// explicitly.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down, killing running tasks", "tasks", c.registry.Len())
		if err := c.service.Shutdown(context.Background()); err != nil {
			logger.Warn("kill all on shutdown reported failures", "error", err)
		}
		return nil
	})

	logger.Info("analyst running (press Ctrl+C to stop)")
	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		return err
	}
	logger.Info("analyst stopped")
	return nil
}

// cleanupInterval spreads cleanup runs across the retention window.
func cleanupInterval(retention time.Duration) time.Duration {
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > time.Hour {
		interval = time.Hour
	}
	return interval
}

func runWorkspaceCleanup(ctx context.Context, ws workspace.Manager, reg *registry.Registry, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(cleanupInterval(retention))
	defer ticker.Stop()

	for {
		report, err := ws.Cleanup(ctx, retention, reg.Contains)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("workspace cleanup failed", "error", err)
		} else if report.DeletedDirs > 0 || report.SkippedBusy > 0 {
			logger.Info("workspace cleanup", "deleted", report.DeletedDirs, "skipped_busy", report.SkippedBusy)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
