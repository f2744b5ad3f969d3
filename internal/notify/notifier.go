// Package notify formats review messages and delivers them to chat groups.
//
// Delivery is best-effort: failures are logged, counted and audited but never
// reported back into the request state machine.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/haasonsaas/joingate/internal/audit"
	"github.com/haasonsaas/joingate/internal/observability"
	"github.com/haasonsaas/joingate/internal/requests"
)

// Messenger sends a text message into a group chat.
type Messenger interface {
	SendGroupMessage(ctx context.Context, groupID, text string) error
}

// Config configures a Notifier.
type Config struct {
	// ReviewGroup receives request announcements and command replies.
	ReviewGroup string
	// RatePerSecond and Burst pace outbound messages. Zero disables pacing.
	RatePerSecond float64
	Burst         int
	// Templates overrides built-in templates by kind name.
	Templates map[string]string
	// AutoApproveAfter is shown in new request announcements.
	AutoApproveAfter time.Duration
	// SendTimeout bounds a single delivery (default 10s).
	SendTimeout time.Duration
	// DisableWelcome skips the welcome message on approval.
	DisableWelcome bool
}

// Reply is a response to a review command.
type Reply struct {
	Kind    Kind
	Request requests.JoinRequest
	Pending []requests.JoinRequest
	Ref     string
	Usage   string
}

// Notifier renders templates and sends them through a Messenger.
type Notifier struct {
	messenger Messenger
	config    Config
	templates map[Kind]*template.Template
	limiter   *Limiter
	audit     *audit.Logger
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAudit records delivery failures in the audit log.
func WithAudit(l *audit.Logger) Option {
	return func(n *Notifier) { n.audit = l }
}

// WithMetrics counts deliveries.
func WithMetrics(m *observability.Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// New creates a Notifier. It fails when a template override does not parse.
func New(messenger Messenger, config Config, opts ...Option) (*Notifier, error) {
	if messenger == nil {
		return nil, errors.New("notify: messenger is required")
	}
	templates, err := ParseTemplates(config.Templates)
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 10 * time.Second
	}

	n := &Notifier{
		messenger: messenger,
		config:    config,
		templates: templates,
		limiter:   NewLimiter(config.RatePerSecond, config.Burst),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "notify")
	return n, nil
}

// AnnounceNewRequest posts a freshly admitted request to the review group.
func (n *Notifier) AnnounceNewRequest(ctx context.Context, req requests.JoinRequest) error {
	return n.send(ctx, KindNewRequest, n.config.ReviewGroup, View{
		Request:          req,
		AutoApproveAfter: n.config.AutoApproveAfter,
	})
}

// AnnounceOutcome posts a terminal outcome to the review group and, for
// approvals, welcomes the requester in the origin group. The returned error
// reflects the review group delivery only.
func (n *Notifier) AnnounceOutcome(ctx context.Context, req requests.JoinRequest) error {
	var kind Kind
	switch req.Status {
	case requests.StatusApproved:
		kind = KindApproved
	case requests.StatusRejected:
		kind = KindRejected
	case requests.StatusAutoApproved:
		kind = KindAutoApproved
	default:
		return fmt.Errorf("notify: request %s is not resolved (%s)", req.ID, req.Status)
	}

	err := n.send(ctx, kind, n.config.ReviewGroup, View{Request: req})
	if req.Status.Approves() && !n.config.DisableWelcome && req.GroupID != "" {
		_ = n.send(ctx, KindWelcome, req.GroupID, View{Request: req})
	}
	return err
}

// AnnounceError reports that a decision could not be applied.
func (n *Notifier) AnnounceError(ctx context.Context, req requests.JoinRequest, cause error) error {
	view := View{Request: req}
	if cause != nil {
		view.Error = cause.Error()
	}
	return n.send(ctx, KindFailure, n.config.ReviewGroup, view)
}

// Reply answers a review command in the review group.
func (n *Notifier) Reply(ctx context.Context, reply Reply) error {
	return n.send(ctx, reply.Kind, n.config.ReviewGroup, View{
		Request: reply.Request,
		Pending: reply.Pending,
		Ref:     reply.Ref,
		Usage:   reply.Usage,
	})
}

// Render formats a template without sending it.
func (n *Notifier) Render(kind Kind, view View) (string, error) {
	t, ok := n.templates[kind]
	if !ok {
		return "", fmt.Errorf("notify: unknown template %q", kind)
	}
	return render(t, view)
}

func (n *Notifier) send(ctx context.Context, kind Kind, groupID string, view View) error {
	err := n.deliver(ctx, kind, groupID, view)
	n.metrics.NotificationSent(string(kind), err)
	if err != nil {
		n.logger.WarnContext(ctx, "notification failed",
			"kind", kind,
			"group_id", groupID,
			"request_id", view.Request.ID,
			"error", err,
		)
		n.audit.LogError(ctx, audit.EventNotificationFailed, string(kind), err, map[string]any{
			"group_id":   groupID,
			"request_id": view.Request.ID,
		})
	}
	return err
}

func (n *Notifier) deliver(ctx context.Context, kind Kind, groupID string, view View) error {
	if groupID == "" {
		return errors.New("no destination group")
	}
	text, err := n.Render(kind, view)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.config.SendTimeout)
	defer cancel()
	return n.messenger.SendGroupMessage(sendCtx, groupID, text)
}
