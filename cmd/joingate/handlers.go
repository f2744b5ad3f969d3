package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/haasonsaas/joingate/internal/config"
	"github.com/haasonsaas/joingate/internal/history"
	"github.com/haasonsaas/joingate/internal/observability"
)

const shutdownTimeout = 30 * time.Second

// runServe loads the config, runs the bot until SIGINT/SIGTERM and shuts down
// gracefully.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	logger.Info("starting joingate",
		"version", version,
		"commit", commit,
		"config", configPath,
		"platform", cfg.Platform,
		"review_group", cfg.Review.ReviewGroup,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	if err := a.start(ctx); err != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		a.close(shutdownCtx)
		return err
	}

	watcher, err := config.Watch(ctx, configPath, a.reload, logger)
	if err != nil {
		logger.Warn("config hot reload disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	logger.Info("joingate started",
		"admin_addr", cfg.Server.Addr,
		"auto_approve_after", cfg.Review.Countdown().String(),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	a.close(shutdownCtx)

	logger.Info("joingate stopped")
	return nil
}

func runValidate(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: ok (platform %s, review group %s, %d reviewers)\n",
		configPath, cfg.Platform, cfg.Review.ReviewGroup, len(cfg.Review.Reviewers))
	return nil
}

func runSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	_, err = fmt.Fprintln(out, string(schema))
	return err
}

func runHistory(ctx context.Context, out io.Writer, configPath string, limit, offset int, asJSON bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.History.DSN == "" {
		return errors.New("history.dsn is not set; a running bot serves its in-memory history on /api/history")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := history.OpenSQLStore(ctx, cfg.History.DSN, history.DefaultSQLConfig())
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(ctx, limit, offset)
	if err != nil {
		return err
	}
	return printRecords(out, records, asJSON)
}

func printRecords(out io.Writer, records []history.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REQUEST\tSTATUS\tBY\tRESOLVED\tREASON")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.RequestID,
			rec.Status,
			rec.ResolvedBy,
			rec.ResolvedAt.Local().Format(time.DateTime),
			rec.RejectReason,
		)
	}
	return tw.Flush()
}
