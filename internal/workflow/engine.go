// Package workflow runs the join request review lifecycle.
//
// An admitted request is announced to the review group and raced between a
// reviewer's command and the auto-approval countdown. Whichever path wins the
// store transition applies the decision through the resolver, announces the
// outcome and moves the request to history. A decision the platform never
// accepted puts the request back to pending and is announced as a failure.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/joingate/internal/audit"
	"github.com/haasonsaas/joingate/internal/history"
	"github.com/haasonsaas/joingate/internal/notify"
	"github.com/haasonsaas/joingate/internal/observability"
	"github.com/haasonsaas/joingate/internal/platform"
	"github.com/haasonsaas/joingate/internal/requests"
	"github.com/haasonsaas/joingate/internal/resolver"
	"github.com/haasonsaas/joingate/internal/review"
	"github.com/haasonsaas/joingate/internal/timeouts"
)

// Config configures an Engine.
type Config struct {
	// ReviewGroup is where commands are accepted.
	ReviewGroup string
	// SourceGroups limits which groups' join requests are reviewed. Empty
	// accepts every group.
	SourceGroups []string
	// AutoApproveAfter is the countdown before a request is approved
	// automatically. Zero disables auto-approval.
	AutoApproveAfter time.Duration
	// DefaultRejectReason is used when a reviewer rejects without a reason.
	DefaultRejectReason string
	// ProfileTimeout bounds the display name lookup (default 3s).
	ProfileTimeout time.Duration
}

// Engine wires the review workflow together. It implements platform.Handler.
type Engine struct {
	config      Config
	sources     map[string]struct{}
	store       *requests.Store
	resolver    *resolver.Resolver
	notifier    *notify.Notifier
	scheduler   *timeouts.Scheduler
	interpreter *review.Interpreter
	reviewers   *review.ReviewerSet
	history     history.Store
	profiles    platform.ProfileLookup
	audit       *audit.Logger
	metrics     *observability.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
}

var _ platform.Handler = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithHistory sets the store resolved requests are appended to.
func WithHistory(h history.Store) Option {
	return func(e *Engine) {
		if h != nil {
			e.history = h
		}
	}
}

// WithProfiles enables display name lookup at admission.
func WithProfiles(p platform.ProfileLookup) Option {
	return func(e *Engine) { e.profiles = p }
}

// WithReviewers restricts who may issue decisions.
func WithReviewers(r *review.ReviewerSet) Option {
	return func(e *Engine) { e.reviewers = r }
}

// WithAudit records lifecycle events.
func WithAudit(l *audit.Logger) Option {
	return func(e *Engine) { e.audit = l }
}

// WithMetrics records lifecycle metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer overrides the tracer (defaults to the global provider).
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// New creates an Engine and its countdown scheduler. Call Close to stop
// pending countdowns.
func New(config Config, store *requests.Store, res *resolver.Resolver, notifier *notify.Notifier, opts ...Option) *Engine {
	if config.ProfileTimeout <= 0 {
		config.ProfileTimeout = 3 * time.Second
	}
	e := &Engine{
		config:   config,
		sources:  make(map[string]struct{}, len(config.SourceGroups)),
		store:    store,
		resolver: res,
		notifier: notifier,
		history:  history.NewMemoryStore(history.DefaultCapacity),
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/haasonsaas/joingate/internal/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, g := range config.SourceGroups {
		e.sources[g] = struct{}{}
	}

	e.scheduler = timeouts.NewScheduler(e.expire, e.logger)
	e.interpreter = review.NewInterpreter(config.ReviewGroup, e.reviewers, store, e,
		review.WithAudit(e.audit),
		review.WithMetrics(e.metrics),
		review.WithLogger(e.logger),
	)
	e.logger = e.logger.With("component", "workflow")
	return e
}

// Store returns the active request store.
func (e *Engine) Store() *requests.Store {
	return e.store
}

// History returns the resolution history.
func (e *Engine) History() history.Store {
	return e.history
}

// ArmedTimers returns the number of running auto-approval countdowns.
func (e *Engine) ArmedTimers() int {
	return e.scheduler.Armed()
}

// Close stops all countdowns and waits for running expiries.
func (e *Engine) Close() {
	e.scheduler.Stop()
}

// HandleJoinRequest admits a join request from a platform.
func (e *Engine) HandleJoinRequest(ctx context.Context, event platform.JoinEvent) {
	e.Admit(ctx, event)
}

// Admit tracks a join request, announces it and arms its countdown. The
// boolean is false when the event was filtered or is a re-delivery of a
// request already known.
func (e *Engine) Admit(ctx context.Context, event platform.JoinEvent) (requests.JoinRequest, bool) {
	ctx = observability.AddGroupID(ctx, event.GroupID)
	if event.GroupID == "" || event.RequesterID == "" {
		e.metrics.RequestAdmitted("invalid")
		e.logger.WarnContext(ctx, "join event without group or requester", "platform", event.Platform)
		return requests.JoinRequest{}, false
	}
	if !e.acceptsGroup(event.GroupID) {
		e.metrics.RequestAdmitted("filtered")
		e.logger.DebugContext(ctx, "join request from unreviewed group ignored")
		return requests.JoinRequest{}, false
	}

	id := requests.MakeID(event.GroupID, event.RequesterID)
	if existing, ok := e.store.Get(id); ok {
		e.metrics.RequestAdmitted("duplicate")
		return existing, false
	}

	name := event.DisplayName
	if name == "" {
		name = e.displayName(ctx, event)
	}
	req, created := e.store.Admit(requests.JoinRequest{
		ID:          id,
		GroupID:     event.GroupID,
		RequesterID: event.RequesterID,
		DisplayName: name,
		Comment:     event.Comment,
		Identifiers: event.Identifiers,
	})
	if !created {
		e.metrics.RequestAdmitted("duplicate")
		e.logger.DebugContext(ctx, "duplicate join request ignored", "request_id", req.ID, "status", req.Status)
		return req, false
	}

	ctx = observability.AddRequestID(ctx, req.ID)
	e.metrics.RequestAdmitted("new")
	e.audit.LogAdmission(ctx, req.ID, req.GroupID, req.RequesterID)
	e.logger.InfoContext(ctx, "join request admitted",
		"requester_id", req.RequesterID,
		"platform", event.Platform,
	)

	_ = e.notifier.AnnounceNewRequest(ctx, req)
	if h := e.scheduler.Start(req.ID, e.config.AutoApproveAfter); h != nil {
		e.store.AttachTimer(req.ID, h)
	}
	e.updatePending()
	return req, true
}

// HandleGroupMessage runs review commands posted in the review group.
func (e *Engine) HandleGroupMessage(ctx context.Context, msg platform.GroupMessage) {
	res, ok := e.interpreter.Handle(ctx, review.Message{
		GroupID:  msg.GroupID,
		SenderID: msg.SenderID,
		Text:     msg.Text,
	})
	if !ok || res.Announced {
		return
	}
	_ = e.notifier.Reply(ctx, res.Reply)
}

// Decide applies a reviewer's decision to request id. On
// requests.ErrAlreadyResolved the returned snapshot shows the earlier outcome,
// also for requests that have already moved to history.
func (e *Engine) Decide(ctx context.Context, id string, approve bool, actor, reason string) (requests.JoinRequest, error) {
	status := requests.StatusRejected
	if approve {
		status = requests.StatusApproved
		reason = ""
	} else if reason == "" {
		reason = e.config.DefaultRejectReason
	}
	return e.resolve(ctx, id, status, actor, reason)
}

func (e *Engine) expire(ctx context.Context, id string) {
	e.metrics.TimerFired()
	_, err := e.resolve(ctx, id, requests.StatusAutoApproved, requests.SystemActor, "")
	switch {
	case err == nil:
	case errors.Is(err, requests.ErrAlreadyResolved), errors.Is(err, requests.ErrNotFound):
		e.logger.DebugContext(ctx, "countdown lost to an earlier decision", "request_id", id)
	default:
		e.logger.WarnContext(ctx, "auto-approval failed", "request_id", id, "error", err)
	}
}

func (e *Engine) resolve(ctx context.Context, id string, status requests.Status, actor, reason string) (requests.JoinRequest, error) {
	ctx = observability.AddRequestID(ctx, id)
	ctx, span := e.tracer.Start(ctx, "workflow.resolve", trace.WithAttributes(
		attribute.String("joingate.request_id", id),
		attribute.String("joingate.status", string(status)),
	))
	defer span.End()

	req, err := e.store.TryTransition(id, status, actor, reason)
	if errors.Is(err, requests.ErrNotFound) {
		if rec, herr := e.history.Get(ctx, id); herr == nil && rec != nil {
			return rec.Request(), requests.ErrAlreadyResolved
		}
	}
	if err != nil {
		span.SetAttributes(attribute.String("joingate.result", "lost"))
		return req, err
	}
	e.updatePending()

	outcome, err := e.resolver.Resolve(ctx, req, status.Approves(), req.RejectReason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision not applied")
		return e.reopen(ctx, req, err)
	}

	_ = e.notifier.AnnounceOutcome(ctx, req)
	// History first, so a lookup never falls between the two stores.
	if herr := e.history.Append(ctx, history.FromRequest(req, string(outcome.Candidate.Kind), outcome.AlreadyDecided)); herr != nil {
		e.logger.WarnContext(ctx, "history append failed", "error", herr)
	}
	e.store.Remove(id)
	e.audit.LogTransition(ctx, id, string(status), actor, req.RejectReason)
	e.metrics.RequestResolved(string(status))
	e.updatePending()
	e.logger.InfoContext(ctx, "join request resolved",
		"status", status,
		"actor", actor,
		"candidate", outcome.Candidate.Kind,
	)
	span.SetStatus(codes.Ok, "")
	return req, nil
}

// reopen puts a request whose decision never took effect back to pending and
// reports the failure to reviewers.
func (e *Engine) reopen(ctx context.Context, req requests.JoinRequest, cause error) (requests.JoinRequest, error) {
	reopened, err := e.store.Reopen(req.ID, req.Status)
	if err != nil {
		e.logger.ErrorContext(ctx, "reopen failed", "error", err)
		reopened = req
	}
	e.metrics.RequestReopened()
	e.audit.LogReopen(ctx, req.ID, string(req.Status), cause)
	e.logger.WarnContext(ctx, "decision not applied, request reopened",
		"status", req.Status,
		"error", cause,
	)
	_ = e.notifier.AnnounceError(ctx, reopened, cause)
	e.updatePending()
	return reopened, cause
}

func (e *Engine) acceptsGroup(groupID string) bool {
	if len(e.sources) == 0 {
		return true
	}
	_, ok := e.sources[groupID]
	return ok
}

func (e *Engine) displayName(ctx context.Context, event platform.JoinEvent) string {
	if e.profiles == nil {
		return ""
	}
	lookupCtx, cancel := context.WithTimeout(ctx, e.config.ProfileTimeout)
	defer cancel()
	name, err := e.profiles.DisplayName(lookupCtx, event.GroupID, event.RequesterID)
	if err != nil {
		e.logger.DebugContext(ctx, "display name lookup failed", "requester_id", event.RequesterID, "error", err)
		return ""
	}
	return name
}

func (e *Engine) updatePending() {
	e.metrics.SetPending(len(e.store.ListPending()))
}
