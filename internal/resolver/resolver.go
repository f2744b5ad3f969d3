// Package resolver applies approve/reject decisions to the external platform.
//
// The platform's decide operation is picky about which identifier encoding it
// is given, so the resolver walks an ordered list of candidate encodings and
// stops at the first one the platform accepts. Each candidate gets a bounded
// number of attempts for transient failures; an invalid-identifier answer
// moves on to the next candidate immediately.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/joingate/internal/audit"
	"github.com/haasonsaas/joingate/internal/observability"
	"github.com/haasonsaas/joingate/internal/requests"
	"github.com/haasonsaas/joingate/internal/retry"
)

// Decision is what the decide operation is asked to apply.
type Decision struct {
	RequestID   string
	GroupID     string
	RequesterID string
	Approve     bool
	Reason      string
}

// Decider is the platform's decide-membership-request operation. It returns
// nil on success, an error wrapping ErrInvalidIdentifier when the encoding is
// not recognised, an error wrapping ErrAlreadyDecided when the request was
// already handled, and any other error for transient failures.
type Decider interface {
	Decide(ctx context.Context, candidate Candidate, decision Decision) error
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(ctx context.Context, candidate Candidate, decision Decision) error

// Decide calls f.
func (f DeciderFunc) Decide(ctx context.Context, candidate Candidate, decision Decision) error {
	return f(ctx, candidate, decision)
}

// Attempt is one call of the decide operation.
type Attempt struct {
	Candidate Candidate      `json:"candidate"`
	Number    int            `json:"number"`
	Outcome   AttemptOutcome `json:"outcome"`
	Err       error          `json:"-"`
	Duration  time.Duration  `json:"duration"`
}

// Outcome describes a successful resolution.
type Outcome struct {
	// Candidate is the encoding the platform accepted.
	Candidate Candidate
	// AlreadyDecided is set when the platform reported a prior decision.
	AlreadyDecided bool
	// Attempts lists every call made, failures included.
	Attempts []Attempt
}

// Config configures candidate extraction and per-candidate retries.
type Config struct {
	Order     []CandidateKind
	Separator string
	Retry     retry.Config
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	return Config{
		Order:     append([]CandidateKind(nil), DefaultOrder...),
		Separator: DefaultCompositeSeparator,
		Retry:     retry.DefaultConfig(),
	}
}

// Resolver drives the decide operation across candidate encodings.
type Resolver struct {
	decider   Decider
	extractor Extractor
	retry     retry.Config
	audit     *audit.Logger
	metrics   *observability.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAudit records every attempt in the audit log.
func WithAudit(l *audit.Logger) Option {
	return func(r *Resolver) { r.audit = l }
}

// WithMetrics records attempt and resolution metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracer overrides the tracer (defaults to the global provider).
func WithTracer(t trace.Tracer) Option {
	return func(r *Resolver) {
		if t != nil {
			r.tracer = t
		}
	}
}

// New creates a Resolver.
func New(decider Decider, config Config, opts ...Option) *Resolver {
	r := &Resolver{
		decider:   decider,
		extractor: Extractor{Order: config.Order, Separator: config.Separator},
		retry:     config.Retry,
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/haasonsaas/joingate/internal/resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "resolver")
	return r
}

// Candidates returns the encodings Resolve would try for req, in order.
func (r *Resolver) Candidates(req requests.JoinRequest) []Candidate {
	return r.extractor.Candidates(req)
}

// Resolve applies the decision for req. It is safe to call again for a
// request whose earlier success went unobserved: an already-decided answer
// from the platform counts as success. Failure never touches the request's
// stored status.
func (r *Resolver) Resolve(ctx context.Context, req requests.JoinRequest, approve bool, reason string) (Outcome, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "resolver.resolve", trace.WithAttributes(
		attribute.String("joingate.request_id", req.ID),
		attribute.Bool("joingate.approve", approve),
	))
	defer span.End()

	decision := Decision{
		RequestID:   req.ID,
		GroupID:     req.GroupID,
		RequesterID: req.RequesterID,
		Approve:     approve,
		Reason:      reason,
	}
	candidates := r.extractor.Candidates(req)
	var attempts []Attempt

	for _, candidate := range candidates {
		outcome, candidateAttempts, err := r.tryCandidate(ctx, candidate, decision)
		attempts = append(attempts, candidateAttempts...)
		if err == nil {
			span.SetAttributes(attribute.String("joingate.candidate_kind", string(candidate.Kind)))
			span.SetStatus(codes.Ok, "")
			r.metrics.ObserveResolve("success", time.Since(start).Seconds())
			r.logger.Info("decision applied",
				"request_id", req.ID,
				"approve", approve,
				"candidate", candidate.Kind,
				"attempts", len(attempts),
				"already_decided", outcome == OutcomeAlreadyDecided,
			)
			return Outcome{
				Candidate:      candidate,
				AlreadyDecided: outcome == OutcomeAlreadyDecided,
				Attempts:       attempts,
			}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.RecordError(ctxErr)
			span.SetStatus(codes.Error, "cancelled")
			r.metrics.ObserveResolve("cancelled", time.Since(start).Seconds())
			return Outcome{Attempts: attempts}, fmt.Errorf("resolve %s: %w", req.ID, ctxErr)
		}
		r.logger.Debug("candidate exhausted",
			"request_id", req.ID,
			"candidate", candidate.Kind,
			"outcome", outcome,
			"error", err,
		)
	}

	failure := &AllStrategiesFailedError{
		RequestID: req.ID,
		Tried:     candidates,
		Attempts:  attempts,
	}
	span.RecordError(failure)
	span.SetStatus(codes.Error, "all strategies failed")
	r.metrics.ObserveResolve("failed", time.Since(start).Seconds())
	r.logger.Warn("all candidate identifiers failed",
		"request_id", req.ID,
		"approve", approve,
		"tried", len(candidates),
		"attempts", len(attempts),
	)
	return Outcome{Attempts: attempts}, failure
}

func (r *Resolver) tryCandidate(ctx context.Context, candidate Candidate, decision Decision) (AttemptOutcome, []Attempt, error) {
	var attempts []Attempt
	last := OutcomeTransient

	result := retry.Do(ctx, r.retry, func(attemptCtx context.Context, n int) error {
		attemptCtx, span := r.tracer.Start(attemptCtx, "resolver.attempt", trace.WithAttributes(
			attribute.String("joingate.candidate_kind", string(candidate.Kind)),
			attribute.Int("joingate.attempt", n),
		))
		began := time.Now()
		err := r.decider.Decide(attemptCtx, candidate, decision)
		elapsed := time.Since(began)

		outcome := Classify(err)
		if outcome == OutcomeTransient && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("decide attempt timed out: %w", err)
		}
		last = outcome
		attempts = append(attempts, Attempt{
			Candidate: candidate,
			Number:    n,
			Outcome:   outcome,
			Err:       err,
			Duration:  elapsed,
		})
		r.metrics.RecordDecisionAttempt(string(candidate.Kind), string(outcome))
		r.audit.LogDecisionAttempt(ctx, audit.DecisionAttempt{
			RequestID:      decision.RequestID,
			CandidateKind:  string(candidate.Kind),
			CandidateValue: candidate.Value,
			Attempt:        n,
			Approve:        decision.Approve,
			Outcome:        string(outcome),
			Err:            err,
			Duration:       elapsed,
		})

		switch outcome {
		case OutcomeAccepted, OutcomeAlreadyDecided:
			span.End()
			return nil
		case OutcomeInvalidIdentifier:
			span.SetStatus(codes.Error, string(outcome))
			span.End()
			return retry.Permanent(err)
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, string(outcome))
			span.End()
			return err
		}
	})
	return last, attempts, result.Err
}
