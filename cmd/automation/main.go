package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/practiq/automation/internal/conditions"
	"github.com/practiq/automation/internal/engine"
	"github.com/practiq/automation/internal/expressions"
	"github.com/practiq/automation/internal/logging"
	"github.com/practiq/automation/internal/notify"
	"github.com/practiq/automation/internal/records"
	"github.com/practiq/automation/internal/scheduler"
	"github.com/practiq/automation/internal/steps"
	"github.com/practiq/automation/internal/store"
	"github.com/practiq/automation/internal/validation"
	"github.com/practiq/automation/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "automation:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	engines, err := expressions.NewRegistry()
	if err != nil {
		return fmt.Errorf("build expression engines: %w", err)
	}
	evaluator := conditions.NewEvaluator(engines)

	registry, err := steps.NewDefaultRegistry(steps.Deps{
		Sender:    notify.NewLogSender(logger),
		Mutator:   records.NewLogMutator(logger),
		Evaluator: evaluator,
		JQ:        engines.JQ(),
	})
	if err != nil {
		return fmt.Errorf("build step registry: %w", err)
	}

	eng := engine.New(st, registry, evaluator, engine.Options{
		Logger:       logger,
		WorkerID:     cfg.WorkerID,
		MaxSteps:     cfg.MaxSteps,
		LeaseSeconds: cfg.LeaseSeconds,
		PoolSize:     cfg.PoolSize,
	})
	defer eng.Close()

	sched := scheduler.NewScheduler(st, eng, time.Duration(cfg.TickSeconds)*time.Second, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("scheduler stop failed", slog.Any("error", err))
		}
	}()

	validator, err := validation.NewWorkflowValidator()
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	srv := mcp.NewAutomationServer(mcp.AutomationServerDeps{
		Engine:    eng,
		Store:     st,
		Validator: validator,
		Logger:    logger,
	})

	logger.Info("automation engine ready",
		slog.String("db_path", cfg.DBPath),
		slog.String("worker_id", eng.WorkerID()))

	// Blocks until stdin closes or a signal arrives.
	return srv.Serve(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	// Logs go to stderr: stdout carries the MCP stdio transport.
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(logging.NewCorrelationHandler(inner))
	slog.SetDefault(logger)
	return logger
}
