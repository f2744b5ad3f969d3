package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// nopWriteCloser wraps an io.Writer to implement io.WriteCloser
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid audit line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func newTestLogger(config Config) (*Logger, *syncBuffer) {
	config.Enabled = true
	if config.BufferSize == 0 {
		config.BufferSize = 16
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = time.Hour
	}
	if config.Level == "" {
		config.Level = LevelInfo
	}
	buf := &syncBuffer{}
	return newLogger(config, nopWriteCloser{buf}), buf
}

func TestNewLogger_Disabled(t *testing.T) {
	logger, err := NewLogger(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.LogAdmission(context.Background(), "g:u", "g", "u")
	if err := logger.Close(); err != nil {
		t.Errorf("unexpected error closing: %v", err)
	}
}

func TestNilLogger(t *testing.T) {
	var logger *Logger
	ctx := context.Background()
	logger.LogAdmission(ctx, "g:u", "g", "u")
	logger.LogTransition(ctx, "g:u", "approved", "42", "")
	logger.LogReopen(ctx, "g:u", "approved", errors.New("x"))
	logger.LogDecisionAttempt(ctx, DecisionAttempt{RequestID: "g:u"})
	logger.LogPermissionDecision(ctx, false, "7", "approve", "g:u")
	logger.LogError(ctx, EventRuntimeError, "x", errors.New("x"), nil)
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewLogger_InvalidOutput(t *testing.T) {
	_, err := NewLogger(Config{Enabled: true, Output: "invalid://path"})
	if err == nil {
		t.Error("expected error for invalid output")
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := t.TempDir() + "/audit.log"
	logger, err := NewLogger(Config{Enabled: true, Output: "file:" + path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.LogAdmission(context.Background(), "g:u", "g", "u")
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestLogger_LogLevels(t *testing.T) {
	tests := []struct {
		configLevel Level
		eventLevel  Level
		shouldLog   bool
	}{
		{LevelDebug, LevelDebug, true},
		{LevelDebug, LevelError, true},
		{LevelInfo, LevelDebug, false},
		{LevelInfo, LevelInfo, true},
		{LevelInfo, LevelWarn, true},
		{LevelWarn, LevelInfo, false},
		{LevelWarn, LevelWarn, true},
		{LevelError, LevelWarn, false},
		{LevelError, LevelError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.configLevel)+"_"+string(tt.eventLevel), func(t *testing.T) {
			logger := &Logger{config: Config{Enabled: true, Level: tt.configLevel}}
			if got := logger.shouldLog(tt.eventLevel); got != tt.shouldLog {
				t.Errorf("shouldLog(%s) with config level %s = %v, want %v",
					tt.eventLevel, tt.configLevel, got, tt.shouldLog)
			}
		})
	}
}

func TestLogger_EventTypeFilter(t *testing.T) {
	logger := &Logger{
		config:     Config{Enabled: true, Level: LevelInfo},
		eventTypes: map[EventType]bool{EventDecisionAttempt: true},
		buffer:     make(chan *Event, 10),
		done:       make(chan struct{}),
	}

	logger.LogAdmission(context.Background(), "g:u", "g", "u")
	logger.LogDecisionAttempt(context.Background(), DecisionAttempt{RequestID: "g:u", Outcome: "accepted"})

	select {
	case event := <-logger.buffer:
		if event.Type != EventDecisionAttempt {
			t.Errorf("expected decision attempt, got %v", event.Type)
		}
		if event.ID == "" || event.Timestamp.IsZero() {
			t.Error("expected id and timestamp defaults")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected event in buffer")
	}
	if len(logger.buffer) != 0 {
		t.Error("filtered event reached the buffer")
	}
}

func TestLogger_DecisionAttemptHashesIdentifier(t *testing.T) {
	logger, buf := newTestLogger(Config{})
	logger.LogDecisionAttempt(context.Background(), DecisionAttempt{
		RequestID:      "g:u",
		CandidateKind:  "token",
		CandidateValue: "flag-secret",
		Attempt:        2,
		Outcome:        "transient",
		Err:            errors.New("connection reset"),
		Duration:       15 * time.Millisecond,
	})
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := buf.lines(t)
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	line := lines[0]
	if line["audit_type"] != string(EventDecisionAttempt) || line["level"] != "WARN" {
		t.Errorf("unexpected line %v", line)
	}
	if line["candidate_hash"] != hashString("flag-secret") {
		t.Errorf("expected hashed identifier, got %v", line)
	}
	if _, ok := line["candidate_value"]; ok {
		t.Error("raw identifier must not be logged by default")
	}
	if line["error"] != "connection reset" {
		t.Errorf("error = %v", line["error"])
	}
}

func TestLogger_IncludeIdentifiers(t *testing.T) {
	logger, buf := newTestLogger(Config{IncludeIdentifiers: true})
	logger.LogDecisionAttempt(context.Background(), DecisionAttempt{
		RequestID:      "g:u",
		CandidateKind:  "composite",
		CandidateValue: "g_u",
		Outcome:        "accepted",
	})
	_ = logger.Close()

	lines := buf.lines(t)
	if len(lines) != 1 || lines[0]["candidate_value"] != "g_u" {
		t.Fatalf("expected raw identifier, got %v", lines)
	}
}

func TestLogger_LifecycleEvents(t *testing.T) {
	logger, buf := newTestLogger(Config{})
	ctx := context.Background()
	logger.LogAdmission(ctx, "g:u", "g", "u")
	logger.LogTransition(ctx, "g:u", "rejected", "42", "spam")
	logger.LogReopen(ctx, "g:u", "rejected", errors.New("all candidates failed"))
	logger.LogPermissionDecision(ctx, false, "7", "approve", "u")
	_ = logger.Close()

	lines := buf.lines(t)
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
	types := []string{"request.admitted", "request.resolved", "request.reopened", "permission.denied"}
	for i, want := range types {
		if lines[i]["audit_type"] != want {
			t.Errorf("line %d type = %v, want %s", i, lines[i]["audit_type"], want)
		}
	}
	if lines[1]["reason"] != "spam" || lines[1]["actor_id"] != "42" {
		t.Errorf("unexpected transition line %v", lines[1])
	}
}

func TestHashString(t *testing.T) {
	if hashString("a") != hashString("a") {
		t.Error("expected stable hash")
	}
	if hashString("a") == hashString("b") {
		t.Error("expected different hashes")
	}
	if len(hashString("a")) != 16 {
		t.Errorf("expected 16 chars, got %d", len(hashString("a")))
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Enabled {
		t.Error("expected Enabled to be false")
	}
	if cfg.Level != LevelInfo || cfg.Format != FormatJSON {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
