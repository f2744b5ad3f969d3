package platform

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haasonsaas/joingate/internal/retry"
)

// ReconnectConfig controls reconnection behavior.
type ReconnectConfig struct {
	// MaxAttempts of zero retries forever.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	Jitter       bool
}

// DefaultReconnectConfig returns a baseline reconnection config.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     time.Minute,
		Factor:       2,
		Jitter:       true,
	}
}

// Reconnector reruns a session function after it fails.
type Reconnector struct {
	Config ReconnectConfig
	Logger *slog.Logger
	// OnFailure is called after every failed session.
	OnFailure func(err error)
}

// Run calls session until ctx is cancelled, the error is permanent or
// MaxAttempts consecutive sessions fail. A session that returns nil resets
// the attempt count and is started again after InitialDelay.
func (r *Reconnector) Run(ctx context.Context, session func(context.Context) error) error {
	if session == nil {
		return errors.New("reconnector: session func is nil")
	}
	cfg := r.Config
	def := DefaultReconnectConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Factor <= 0 {
		cfg.Factor = def.Factor
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := session(ctx)
		if err == nil {
			attempt = 0
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.InitialDelay):
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if retry.IsPermanent(err) {
			return err
		}
		attempt++
		if r.OnFailure != nil {
			r.OnFailure(err)
		}
		logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return err
		}

		delay := retry.Backoff(attempt, cfg.InitialDelay, cfg.MaxDelay, cfg.Factor)
		if cfg.Jitter {
			delay = retry.BackoffWithJitter(attempt, cfg.InitialDelay, cfg.MaxDelay, cfg.Factor)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
