package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/joingate/internal/observability"
)

// Logger writes audit events through a buffered, asynchronous slog sink.
//
// A nil *Logger and a disabled Logger both accept every call and drop the
// event, so callers never need to guard audit calls.
//
// Usage:
//
//	logger, err := audit.NewLogger(audit.Config{
//	    Enabled: true,
//	    Level:   audit.LevelInfo,
//	    Format:  audit.FormatJSON,
//	    Output:  "stdout",
//	})
//	defer logger.Close()
//
//	logger.LogTransition(ctx, req, "42")
type Logger struct {
	config     Config
	output     io.WriteCloser
	slogger    *slog.Logger
	buffer     chan *Event
	wg         sync.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
	eventTypes map[EventType]bool
}

// NewLogger creates a new audit logger with the given configuration.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.Level == "" {
		config.Level = LevelInfo
	}

	var output io.WriteCloser
	switch {
	case config.Output == "stdout" || config.Output == "":
		output = os.Stdout
	case config.Output == "stderr":
		output = os.Stderr
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", config.Output)
	}

	return newLogger(config, output), nil
}

func newLogger(config Config, output io.WriteCloser) *Logger {
	eventTypes := make(map[EventType]bool)
	for _, et := range config.EventTypes {
		eventTypes[et] = true
	}

	l := &Logger{
		config:     config,
		output:     output,
		buffer:     make(chan *Event, config.BufferSize),
		done:       make(chan struct{}),
		eventTypes: eventTypes,
	}

	opts := &slog.HandlerOptions{Level: l.slogLevel()}
	var handler slog.Handler
	if config.Format == FormatText {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}
	l.slogger = slog.New(handler).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()
	return l
}

// Close flushes remaining events and closes the logger.
func (l *Logger) Close() error {
	if l == nil || !l.config.Enabled {
		return nil
	}

	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		if l.output != os.Stdout && l.output != os.Stderr {
			err = l.output.Close()
		}
	})
	return err
}

// Log writes an audit event to the log.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if l == nil || !l.config.Enabled || event == nil {
		return
	}
	if len(l.eventTypes) > 0 && !l.eventTypes[event.Type] {
		return
	}
	if !l.shouldLog(event.Level) {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.TraceID == "" {
		event.TraceID = observability.GetTraceID(ctx)
	}
	if event.SpanID == "" {
		event.SpanID = observability.GetSpanID(ctx)
	}

	select {
	case l.buffer <- event:
	default:
		// Buffer full, log directly (slower but doesn't drop)
		l.writeEvent(event)
	}
}

// LogAdmission records a newly admitted join request.
func (l *Logger) LogAdmission(ctx context.Context, requestID, groupID, requesterID string) {
	l.Log(ctx, &Event{
		Type:        EventRequestAdmitted,
		Level:       LevelInfo,
		RequestID:   requestID,
		GroupID:     groupID,
		RequesterID: requesterID,
		Action:      "request_admitted",
	})
}

// LogTransition records a request moving to a terminal status.
func (l *Logger) LogTransition(ctx context.Context, requestID, status, actor, reason string) {
	details := map[string]any{"status": status}
	if reason != "" {
		details["reason"] = reason
	}
	l.Log(ctx, &Event{
		Type:      EventRequestResolved,
		Level:     LevelInfo,
		RequestID: requestID,
		ActorID:   actor,
		Action:    "request_" + status,
		Details:   details,
	})
}

// LogReopen records a provisional resolution reverted to pending.
func (l *Logger) LogReopen(ctx context.Context, requestID, from string, cause error) {
	event := &Event{
		Type:      EventRequestReopened,
		Level:     LevelWarn,
		RequestID: requestID,
		Action:    "request_reopened",
		Details:   map[string]any{"from_status": from},
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	l.Log(ctx, event)
}

// LogDecisionAttempt records one call of the decide operation.
func (l *Logger) LogDecisionAttempt(ctx context.Context, attempt DecisionAttempt) {
	if l == nil || !l.config.Enabled {
		return
	}

	level := LevelInfo
	if attempt.Err != nil {
		level = LevelWarn
	}
	details := map[string]any{
		"candidate_kind": attempt.CandidateKind,
		"attempt":        attempt.Attempt,
		"approve":        attempt.Approve,
		"outcome":        attempt.Outcome,
	}
	if l.config.IncludeIdentifiers {
		details["candidate_value"] = attempt.CandidateValue
	} else if attempt.CandidateValue != "" {
		details["candidate_hash"] = hashString(attempt.CandidateValue)
	}

	event := &Event{
		Type:      EventDecisionAttempt,
		Level:     level,
		RequestID: attempt.RequestID,
		Action:    "decide",
		Details:   details,
		Duration:  attempt.Duration,
	}
	if attempt.Err != nil {
		event.Error = attempt.Err.Error()
	}
	l.Log(ctx, event)
}

// LogPermissionDecision records whether a sender was allowed to issue a
// review command.
func (l *Logger) LogPermissionDecision(ctx context.Context, granted bool, actorID, command, requestRef string) {
	eventType := EventPermissionGranted
	level := LevelInfo
	if !granted {
		eventType = EventPermissionDenied
		level = LevelWarn
	}

	l.Log(ctx, &Event{
		Type:    eventType,
		Level:   level,
		ActorID: actorID,
		Action:  "permission_" + command,
		Details: map[string]any{
			"command":     command,
			"request_ref": requestRef,
			"granted":     granted,
		},
	})
}

// LogError records a failure that did not abort the workflow.
func (l *Logger) LogError(ctx context.Context, eventType EventType, action string, err error, details map[string]any) {
	event := &Event{
		Type:    eventType,
		Level:   LevelError,
		Action:  action,
		Details: details,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(ctx, event)
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

func (l *Logger) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"action", event.Action,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}

	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	if event.GroupID != "" {
		attrs = append(attrs, "group_id", event.GroupID)
	}
	if event.RequesterID != "" {
		attrs = append(attrs, "requester_id", event.RequesterID)
	}
	if event.ActorID != "" {
		attrs = append(attrs, "actor_id", event.ActorID)
	}
	if event.TraceID != "" {
		attrs = append(attrs, "trace_id", event.TraceID)
	}
	if event.SpanID != "" {
		attrs = append(attrs, "span_id", event.SpanID)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	switch event.Level {
	case LevelDebug:
		l.slogger.Debug("audit", attrs...)
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	default:
		l.slogger.Info("audit", attrs...)
	}
}

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

func (l *Logger) shouldLog(level Level) bool {
	return levelRank[level] >= levelRank[l.config.Level]
}

func (l *Logger) slogLevel() slog.Level {
	switch l.config.Level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// hashString creates a SHA256 hash of a string (first 16 chars).
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}
