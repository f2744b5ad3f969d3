package observability

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RequestAdmitted("new")
	m.RequestResolved("approved")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}

	// A second set on a fresh registry must not collide.
	NewMetrics(prometheus.NewRegistry())
}

func TestMetrics_RequestLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RequestAdmitted("new")
	m.RequestAdmitted("new")
	m.RequestAdmitted("duplicate")
	m.RequestResolved("approved")
	m.RequestResolved("auto_approved")
	m.RequestReopened()
	m.SetPending(3)
	m.TimerFired()

	expected := `
		# HELP joingate_requests_admitted_total Join request events by admission result
		# TYPE joingate_requests_admitted_total counter
		joingate_requests_admitted_total{result="duplicate"} 1
		joingate_requests_admitted_total{result="new"} 2
	`
	if err := testutil.CollectAndCompare(m.RequestsAdmitted, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected admitted metric: %v", err)
	}
	if got := testutil.ToFloat64(m.RequestsResolved.WithLabelValues("auto_approved")); got != 1 {
		t.Errorf("auto_approved = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestsReopened); got != 1 {
		t.Errorf("reopened = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PendingRequests); got != 3 {
		t.Errorf("pending = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.TimersFired); got != 1 {
		t.Errorf("timers fired = %v, want 1", got)
	}
}

func TestMetrics_DecisionAttempts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDecisionAttempt("token", "invalid_identifier")
	m.RecordDecisionAttempt("requester", "accepted")
	m.ObserveResolve("success", 0.3)

	if got := testutil.ToFloat64(m.DecisionAttempts.WithLabelValues("token", "invalid_identifier")); got != 1 {
		t.Errorf("token attempts = %v, want 1", got)
	}
	if count := testutil.CollectAndCount(m.DecisionAttempts); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}
	if count := testutil.CollectAndCount(m.ResolveDuration); count != 1 {
		t.Errorf("expected 1 histogram series, got %d", count)
	}
}

func TestMetrics_Notifications(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.NotificationSent("new_request", nil)
	m.NotificationSent("new_request", errors.New("send failed"))
	m.CommandHandled("approve", "ok")
	m.RecordPlatformError("onebot", "connection")
	m.RecordHistoryWrite("sqlite", nil)
	m.RecordHTTPRequest("GET", "/healthz", "200", 0.001)

	if got := testutil.ToFloat64(m.Notifications.WithLabelValues("new_request", "failed")); got != 1 {
		t.Errorf("failed notifications = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Commands.WithLabelValues("approve", "ok")); got != 1 {
		t.Errorf("commands = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PlatformErrors.WithLabelValues("onebot", "connection")); got != 1 {
		t.Errorf("platform errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HistoryWrites.WithLabelValues("sqlite", "success")); got != 1 {
		t.Errorf("history writes = %v, want 1", got)
	}
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	m.RequestAdmitted("new")
	m.RequestResolved("approved")
	m.RequestReopened()
	m.SetPending(1)
	m.RecordDecisionAttempt("token", "accepted")
	m.ObserveResolve("success", 1)
	m.TimerFired()
	m.CommandHandled("help", "ok")
	m.NotificationSent("welcome", nil)
	m.RecordPlatformError("telegram", "timeout")
	m.RecordHTTPRequest("GET", "/", "200", 0)
	m.RecordHistoryWrite("memory", nil)
}
