package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hiepyeuh/nevron/internal/agent"
	"github.com/hiepyeuh/nevron/internal/config"
	"github.com/hiepyeuh/nevron/internal/execution"
	"github.com/hiepyeuh/nevron/internal/feedback"
	"github.com/hiepyeuh/nevron/internal/health"
	"github.com/hiepyeuh/nevron/internal/logging"
	"github.com/hiepyeuh/nevron/internal/loop"
	"github.com/hiepyeuh/nevron/internal/memory"
	"github.com/hiepyeuh/nevron/internal/policy"
	"github.com/hiepyeuh/nevron/internal/signals"
	"github.com/hiepyeuh/nevron/internal/telemetry"
)

// #region run-cmd

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the decision loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}
}

// #endregion run-cmd

// #region compose

// runAgent is the composition root: every collaborator is built here once
// and handed to the loop.
func runAgent(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return withCode(exitConfig, err)
	}

	logger, closeLog, err := logging.New(cfg.LogOptions())
	if err != nil {
		return withCode(exitConfig, err)
	}
	defer closeLog()
	logger.Info("settings", "config", cfg)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := telemetry.Setup(ctx, cfg.TelemetryConfig())
	if err != nil {
		return withCode(exitFatal, err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := openPolicyStore(*cfg, logger)
	if err != nil {
		return withCode(exitFatal, err)
	}
	defer closeStore()

	pol, err := policy.New(cfg.Actions(), cfg.PolicyParams(), store, policy.WithLogger(logger))
	if err != nil {
		return withCode(exitConfig, err)
	}

	mem, err := memory.Open(cfg.MemoryConfig(), logger)
	if err != nil {
		return withCode(exitFatal, fmt.Errorf("open memory: %w", err))
	}
	defer mem.Close()

	registry := execution.NewStandardRegistry(execution.Deps{
		Source: signals.New(cfg.SignalConfig(), logger),
		Memory: mem,
		Logger: logger,
	})
	if err := registry.Validate(cfg.Actions()); err != nil {
		return withCode(exitConfig, err)
	}

	hs, err := startHealth(cfg.Health.ListenAddress, logger)
	if err != nil {
		return withCode(exitFatal, err)
	}
	if hs != nil {
		defer hs.Stop()
	}

	l, err := loop.New(loop.Deps{
		Policy:   pol,
		Machine:  agent.NewMachine(cfg.Transitions()),
		Executor: registry,
		Scorer:   feedback.NewScorer(cfg.FeedbackConfig(), logger),
		Memory:   mem,
		Logger:   logger,
		Tracer:   tp.Tracer(telemetry.TracerName),
	}, loop.Options{
		Interval: cfg.Agent.RestInterval,
		OnStatus: func(s loop.Status) {
			if hs != nil {
				hs.SetServing(s == loop.StatusRunning)
			}
		},
	})
	if err != nil {
		return withCode(exitConfig, err)
	}

	status, err := l.Run(ctx)
	logger.Info("agent exited", "status", status, "ticks", l.Ticks(), "state", l.State())
	if err != nil {
		return withCode(exitFatal, err)
	}
	return nil
}

// #endregion compose

// #region helpers

// openPolicyStore builds the configured policy store and its close func.
func openPolicyStore(cfg config.Config, logger *slog.Logger) (policy.Store, func() error, error) {
	switch cfg.Planning.Store {
	case "sqlite":
		s, err := policy.NewSQLiteStore(cfg.Planning.DBPath, logger, policy.WithKeepVersions(cfg.Planning.KeepVersions))
		if err != nil {
			return nil, nil, fmt.Errorf("open policy db: %w", err)
		}
		return s, s.Close, nil
	default:
		return policy.NewFileStore(cfg.Planning.QTablePath, logger), func() error { return nil }, nil
	}
}

func startHealth(addr string, logger *slog.Logger) (*health.Server, error) {
	if addr == "" {
		return nil, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("health listen %s: %w", addr, err)
	}
	hs := health.NewServer(logger)
	go func() {
		if err := hs.Serve(lis); err != nil {
			logger.Error("health server stopped", "error", err)
		}
	}()
	return hs, nil
}

// #endregion helpers
