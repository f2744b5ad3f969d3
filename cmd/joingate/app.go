package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/joingate/internal/audit"
	"github.com/haasonsaas/joingate/internal/config"
	"github.com/haasonsaas/joingate/internal/history"
	"github.com/haasonsaas/joingate/internal/notify"
	"github.com/haasonsaas/joingate/internal/observability"
	"github.com/haasonsaas/joingate/internal/platform"
	"github.com/haasonsaas/joingate/internal/platform/onebot"
	"github.com/haasonsaas/joingate/internal/platform/telegram"
	"github.com/haasonsaas/joingate/internal/requests"
	"github.com/haasonsaas/joingate/internal/resolver"
	"github.com/haasonsaas/joingate/internal/retry"
	"github.com/haasonsaas/joingate/internal/review"
	"github.com/haasonsaas/joingate/internal/server"
	"github.com/haasonsaas/joingate/internal/workflow"
)

// app holds every long-lived component of a running bot.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *observability.Metrics
	audit     *audit.Logger
	tracer    *observability.Tracer
	reviewers *review.ReviewerSet
	sqlStore  *history.SQLStore
	history   history.Store
	adapter   platform.Adapter
	engine    *workflow.Engine
	server    *server.Server

	shutdownTracing func(context.Context) error
}

// buildApp wires the components described by cfg. Nothing connects to the
// platform until start.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		registry:  prometheus.NewRegistry(),
		reviewers: review.NewReviewerSet(cfg.Review.Reviewers),
	}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	if len(a.reviewers.List()) == 0 {
		logger.Warn("review.reviewers is empty; review commands will be refused")
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewMetrics(a.registry)

	a.tracer, a.shutdownTracing = observability.NewTracer(observability.TraceConfig{
		ServiceName:    "joingate",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})

	a.audit, err = audit.NewLogger(audit.Config{
		Enabled: cfg.Audit.Enabled,
		Level:   audit.Level(cfg.Audit.Level),
		Format:  audit.OutputFormat(cfg.Audit.Format),
		Output:  cfg.Audit.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("audit logger: %w", err)
	}

	if err := a.openHistory(ctx); err != nil {
		return nil, err
	}

	a.adapter, err = newAdapter(cfg, a.metrics, logger)
	if err != nil {
		return nil, err
	}

	order := make([]resolver.CandidateKind, 0, len(cfg.Resolver.CandidateOrder))
	for _, raw := range cfg.Resolver.CandidateOrder {
		kind, err := resolver.ParseKind(raw)
		if err != nil {
			return nil, err
		}
		order = append(order, kind)
	}
	res := resolver.New(a.adapter, resolver.Config{
		Order:     order,
		Separator: cfg.Resolver.CompositeSeparator,
		Retry: retry.Config{
			MaxAttempts:    cfg.Resolver.MaxAttempts,
			InitialDelay:   cfg.Resolver.InitialBackoff,
			MaxDelay:       cfg.Resolver.MaxBackoff,
			Factor:         2,
			Jitter:         true,
			AttemptTimeout: cfg.Resolver.AttemptTimeout,
		},
	},
		resolver.WithAudit(a.audit),
		resolver.WithMetrics(a.metrics),
		resolver.WithLogger(logger),
		resolver.WithTracer(a.tracer.Tracer()),
	)

	notifier, err := notify.New(a.adapter, notify.Config{
		ReviewGroup:      cfg.Review.ReviewGroup,
		RatePerSecond:    cfg.Notify.RatePerSecond,
		Burst:            cfg.Notify.Burst,
		Templates:        cfg.Notify.Templates,
		AutoApproveAfter: cfg.Review.Countdown(),
		DisableWelcome:   cfg.Notify.DisableWelcome,
	},
		notify.WithAudit(a.audit),
		notify.WithMetrics(a.metrics),
		notify.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("notify templates: %w", err)
	}

	store := requests.NewStore(requests.WithReadmitCooldown(cfg.Review.ReadmitCooldown))
	a.engine = workflow.New(workflow.Config{
		ReviewGroup:         cfg.Review.ReviewGroup,
		SourceGroups:        cfg.Review.SourceGroups,
		AutoApproveAfter:    cfg.Review.Countdown(),
		DefaultRejectReason: cfg.Review.DefaultRejectReason,
	}, store, res, notifier,
		workflow.WithHistory(a.history),
		workflow.WithProfiles(a.adapter),
		workflow.WithReviewers(a.reviewers),
		workflow.WithAudit(a.audit),
		workflow.WithMetrics(a.metrics),
		workflow.WithLogger(logger),
		workflow.WithTracer(a.tracer.Tracer()),
	)

	if cfg.Server.Addr != "" {
		opts := []server.Option{
			server.WithHistory(a.history),
			server.WithGatherer(a.registry),
			server.WithMetrics(a.metrics),
			server.WithLogger(logger),
		}
		if c, ok := a.adapter.(interface{ Connected() bool }); ok {
			opts = append(opts, server.WithHealthCheck(a.adapter.Name(), func(context.Context) error {
				if !c.Connected() {
					return errors.New("not connected")
				}
				return nil
			}))
		}
		if a.sqlStore != nil {
			opts = append(opts, server.WithHealthCheck("history", a.sqlStore.Ping))
		}
		a.server = server.New(cfg.Server.Addr, store, opts...)
	}
	return a, nil
}

func (a *app) openHistory(ctx context.Context) error {
	memory := history.NewMemoryStore(a.cfg.History.Capacity)
	a.history = memory
	if a.cfg.History.DSN == "" {
		return nil
	}
	sqlStore, err := history.OpenSQLStore(ctx, a.cfg.History.DSN, history.DefaultSQLConfig())
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	a.sqlStore = sqlStore
	a.history = history.NewMirror(memory, sqlStore, sqlStore.Driver(), a.metrics, a.logger)
	a.logger.Info("history mirrored to sql", "driver", sqlStore.Driver())
	return nil
}

func newAdapter(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (platform.Adapter, error) {
	switch cfg.Platform {
	case config.PlatformOneBot:
		reconnect := platform.DefaultReconnectConfig()
		reconnect.MaxAttempts = cfg.OneBot.Reconnect.MaxAttempts
		reconnect.InitialDelay = cfg.OneBot.Reconnect.InitialDelay
		reconnect.MaxDelay = cfg.OneBot.Reconnect.MaxDelay
		var schedule string
		if cfg.OneBot.Poll.Enabled {
			schedule = cfg.OneBot.Poll.Schedule
		}
		return onebot.New(onebot.Config{
			URL:           cfg.OneBot.URL,
			AccessToken:   cfg.OneBot.AccessToken,
			ActionTimeout: cfg.OneBot.ActionTimeout,
			Reconnect:     reconnect,
			PollSchedule:  schedule,
		}, onebot.WithMetrics(metrics), onebot.WithLogger(logger))
	case config.PlatformTelegram:
		return telegram.New(telegram.Config{
			Token:     cfg.Telegram.BotToken,
			ServerURL: cfg.Telegram.ServerURL,
		}, telegram.WithMetrics(metrics), telegram.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}

// start connects the platform and starts the admin server.
func (a *app) start(ctx context.Context) error {
	if err := a.adapter.Start(ctx, a.engine); err != nil {
		return fmt.Errorf("start %s: %w", a.adapter.Name(), err)
	}
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return err
		}
	}
	return nil
}

// reload applies the settings that can change without a restart.
func (a *app) reload(cfg *config.Config) {
	a.reviewers.Replace(cfg.Review.Reviewers)
	a.logger.Info("reviewers reloaded", "count", len(a.reviewers.List()))
	if cfg.Platform != a.cfg.Platform || cfg.Review.ReviewGroup != a.cfg.Review.ReviewGroup {
		a.logger.Warn("platform and review group changes take effect after a restart")
	}
}

// close shuts components down in reverse dependency order.
func (a *app) close(ctx context.Context) {
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("admin http shutdown error", "error", err)
		}
	}
	// Countdowns stop before the transport they decide through.
	if a.engine != nil {
		a.engine.Close()
	}
	if a.adapter != nil {
		if err := a.adapter.Stop(ctx); err != nil {
			a.logger.Warn("platform shutdown error", "error", err)
		}
	}
	if a.sqlStore != nil {
		if err := a.sqlStore.Close(); err != nil {
			a.logger.Warn("history store close error", "error", err)
		}
	}
	if a.audit != nil {
		_ = a.audit.Close()
	}
	if a.shutdownTracing != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(shutdownCtx); err != nil {
			a.logger.Warn("tracer shutdown error", "error", err)
		}
	}
}
