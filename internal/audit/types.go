// Package audit provides structured audit logging for join request decisions,
// reviewer permission checks, and every call made to the platform's decide
// operation.
package audit

import (
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	// Request lifecycle events
	EventRequestAdmitted EventType = "request.admitted"
	EventRequestResolved EventType = "request.resolved"
	EventRequestReopened EventType = "request.reopened"

	// Decide operation calls
	EventDecisionAttempt EventType = "decision.attempt"

	// Permission events
	EventPermissionGranted EventType = "permission.granted"
	EventPermissionDenied  EventType = "permission.denied"

	// Delivery and runtime failures
	EventNotificationFailed EventType = "notification.failed"
	EventRuntimeError       EventType = "runtime.error"
)

// Level represents audit log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event represents a single audit log entry.
type Event struct {
	// ID is a unique identifier for this audit event.
	ID string `json:"id"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// Level is the severity level.
	Level Level `json:"level"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RequestID identifies the join request.
	RequestID string `json:"request_id,omitempty"`

	// GroupID is the group the request targets.
	GroupID string `json:"group_id,omitempty"`

	// RequesterID is the applicant.
	RequesterID string `json:"requester_id,omitempty"`

	// ActorID is the reviewer, or "system" for automatic actions.
	ActorID string `json:"actor_id,omitempty"`

	// Action describes what happened.
	Action string `json:"action"`

	// Details contains event-specific structured data.
	Details map[string]any `json:"details,omitempty"`

	// Duration is the time taken for timed operations.
	Duration time.Duration `json:"duration,omitempty"`

	// Error contains error information if applicable.
	Error string `json:"error,omitempty"`

	// TraceID for distributed tracing correlation.
	TraceID string `json:"trace_id,omitempty"`

	// SpanID for distributed tracing correlation.
	SpanID string `json:"span_id,omitempty"`
}

// DecisionAttempt describes one call of the decide operation.
type DecisionAttempt struct {
	RequestID      string
	CandidateKind  string
	CandidateValue string
	Attempt        int
	Approve        bool
	Outcome        string
	Err            error
	Duration       time.Duration
}

// OutputFormat specifies the audit log output format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config configures the audit logger.
type Config struct {
	// Enabled determines if audit logging is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Level is the minimum level to log.
	Level Level `json:"level" yaml:"level"`

	// Format specifies the output format.
	Format OutputFormat `json:"format" yaml:"format"`

	// Output specifies where to write logs.
	// Supported: "stdout", "stderr", "file:/path/to/file.log"
	Output string `json:"output" yaml:"output"`

	// IncludeIdentifiers logs raw candidate identifier values. When false
	// the values are hashed.
	IncludeIdentifiers bool `json:"include_identifiers" yaml:"include_identifiers"`

	// EventTypes filters which event types to log (empty = all).
	EventTypes []EventType `json:"event_types" yaml:"event_types"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`

	// FlushInterval is how often to flush the buffer.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// DefaultConfig returns a default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		Level:         LevelInfo,
		Format:        FormatJSON,
		Output:        "stdout",
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}
