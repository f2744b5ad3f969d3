package review

import (
	"context"
	"errors"
	"log/slog"

	"github.com/haasonsaas/joingate/internal/audit"
	"github.com/haasonsaas/joingate/internal/notify"
	"github.com/haasonsaas/joingate/internal/observability"
	"github.com/haasonsaas/joingate/internal/requests"
)

// Status classifies the result of a command.
type Status string

const (
	StatusOK              Status = "ok"
	StatusForbidden       Status = "forbidden"
	StatusNotFound        Status = "not_found"
	StatusAlreadyResolved Status = "already_resolved"
	StatusUsage           Status = "usage"
	StatusFailed          Status = "failed"
)

// Message is a chat message seen by the bot.
type Message struct {
	GroupID  string
	SenderID string
	Text     string
}

// Decider applies a reviewer's decision. It returns the request after the
// decision; on requests.ErrAlreadyResolved the snapshot shows the earlier
// outcome. When the transition was won, the decider has already announced
// the outcome or the failure in the review group.
type Decider interface {
	Decide(ctx context.Context, id string, approve bool, actor, reason string) (requests.JoinRequest, error)
}

// Directory answers read-only questions about active requests.
type Directory interface {
	Lookup(ref string) (requests.JoinRequest, error)
	ListPending() []requests.JoinRequest
}

// Result is the interpreter's answer to one command.
type Result struct {
	Command Command
	Status  Status
	// Reply is the message to post. It is unset when Announced is true.
	Reply notify.Reply
	// Announced means the decider's announcement already serves as the reply.
	Announced bool
	Err       error
}

// Interpreter turns review group messages into decisions and replies.
type Interpreter struct {
	reviewGroup string
	reviewers   *ReviewerSet
	directory   Directory
	decider     Decider
	audit       *audit.Logger
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithAudit records permission decisions.
func WithAudit(l *audit.Logger) Option {
	return func(i *Interpreter) { i.audit = l }
}

// WithMetrics counts handled commands.
func WithMetrics(m *observability.Metrics) Option {
	return func(i *Interpreter) { i.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interpreter) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewInterpreter creates an interpreter for commands posted in reviewGroup.
func NewInterpreter(reviewGroup string, reviewers *ReviewerSet, directory Directory, decider Decider, opts ...Option) *Interpreter {
	i := &Interpreter{
		reviewGroup: reviewGroup,
		reviewers:   reviewers,
		directory:   directory,
		decider:     decider,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("component", "review")
	return i
}

// Handle interprets msg. The boolean is false when the message is not a
// command for this interpreter: wrong group or not a recognized verb. Every
// recognized command produces exactly one Result.
func (i *Interpreter) Handle(ctx context.Context, msg Message) (Result, bool) {
	if msg.GroupID != i.reviewGroup {
		return Result{}, false
	}
	cmd, err := Parse(msg.Text)
	if errors.Is(err, ErrNotCommand) {
		return Result{}, false
	}

	ctx = observability.AddReviewerID(ctx, msg.SenderID)
	res := i.handle(ctx, msg.SenderID, cmd, err)
	res.Command = cmd
	i.metrics.CommandHandled(string(cmd.Verb), string(res.Status))
	i.logger.DebugContext(ctx, "command handled",
		"verb", cmd.Verb,
		"ref", cmd.Ref,
		"status", res.Status,
	)
	return res, true
}

func (i *Interpreter) handle(ctx context.Context, sender string, cmd Command, parseErr error) Result {
	if cmd.Verb == VerbHelp {
		return ok(notify.Reply{Kind: notify.KindHelp})
	}

	allowed := i.reviewers.Allowed(sender)
	if cmd.Verb != VerbList {
		i.audit.LogPermissionDecision(ctx, allowed, sender, string(cmd.Verb), cmd.Ref)
	}
	if !allowed {
		return Result{Status: StatusForbidden, Reply: notify.Reply{Kind: notify.KindForbidden}}
	}

	var usageErr *UsageError
	if errors.As(parseErr, &usageErr) {
		return Result{
			Status: StatusUsage,
			Reply:  notify.Reply{Kind: notify.KindUsage, Usage: Usage(usageErr.Verb)},
			Err:    parseErr,
		}
	}

	switch cmd.Verb {
	case VerbList:
		return ok(notify.Reply{Kind: notify.KindList, Pending: i.directory.ListPending()})
	case VerbInfo:
		req, err := i.directory.Lookup(cmd.Ref)
		if err != nil {
			return lookupFailure(cmd, err)
		}
		return ok(notify.Reply{Kind: notify.KindInfo, Request: req})
	default:
		return i.decide(ctx, sender, cmd)
	}
}

func (i *Interpreter) decide(ctx context.Context, sender string, cmd Command) Result {
	id := cmd.Ref
	req, err := i.directory.Lookup(cmd.Ref)
	switch {
	case err == nil:
		id = req.ID
	case errors.Is(err, requests.ErrNotFound):
		// The request may have left the directory after being resolved. The
		// decider knows about those and answers ErrAlreadyResolved.
	default:
		return lookupFailure(cmd, err)
	}

	ctx = observability.AddRequestID(ctx, id)
	approve := cmd.Verb == VerbApprove
	after, err := i.decider.Decide(ctx, id, approve, sender, cmd.Reason)
	switch {
	case err == nil:
		return Result{Status: StatusOK, Announced: true}
	case errors.Is(err, requests.ErrAlreadyResolved):
		return Result{
			Status: StatusAlreadyResolved,
			Reply:  notify.Reply{Kind: notify.KindAlreadyResolved, Request: after},
			Err:    err,
		}
	case errors.Is(err, requests.ErrNotFound):
		return Result{
			Status: StatusNotFound,
			Reply:  notify.Reply{Kind: notify.KindNotFound, Ref: cmd.Ref},
			Err:    err,
		}
	default:
		i.logger.WarnContext(ctx, "decision failed", "request_id", id, "error", err)
		return Result{Status: StatusFailed, Announced: true, Err: err}
	}
}

func ok(reply notify.Reply) Result {
	return Result{Status: StatusOK, Reply: reply}
}

func lookupFailure(cmd Command, err error) Result {
	if errors.Is(err, requests.ErrAmbiguous) {
		return Result{
			Status: StatusUsage,
			Reply:  notify.Reply{Kind: notify.KindUsage, Usage: Usage(cmd.Verb) + " (申请ID 格式: 群号:QQ号)"},
			Err:    err,
		}
	}
	return Result{
		Status: StatusNotFound,
		Reply:  notify.Reply{Kind: notify.KindNotFound, Ref: cmd.Ref},
		Err:    err,
	}
}
