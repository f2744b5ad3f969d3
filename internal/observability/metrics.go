package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the review workflow.
//
// All recording methods tolerate a nil receiver so components can be built
// without metrics in tests.
type Metrics struct {
	// RequestsAdmitted counts join request events by admission result.
	// Labels: result (new|duplicate|filtered)
	RequestsAdmitted *prometheus.CounterVec

	// RequestsResolved counts requests reaching a terminal status.
	// Labels: status (approved|rejected|auto_approved)
	RequestsResolved *prometheus.CounterVec

	// RequestsReopened counts provisional resolutions reverted after the
	// platform refused every identifier.
	RequestsReopened prometheus.Counter

	// PendingRequests is the number of requests awaiting a decision.
	PendingRequests prometheus.Gauge

	// DecisionAttempts counts calls of the platform decide operation.
	// Labels: candidate (token|requester|composite|sequence|extra:*), outcome
	DecisionAttempts *prometheus.CounterVec

	// ResolveDuration measures end-to-end resolution across all candidates.
	// Labels: result (success|failed|cancelled)
	ResolveDuration *prometheus.HistogramVec

	// TimersFired counts auto-approval countdowns that expired.
	TimersFired prometheus.Counter

	// Commands counts interpreted review commands.
	// Labels: command, result
	Commands *prometheus.CounterVec

	// Notifications counts outbound messages.
	// Labels: kind, status (sent|failed)
	Notifications *prometheus.CounterVec

	// PlatformErrors counts transport level failures.
	// Labels: platform, code
	PlatformErrors *prometheus.CounterVec

	// HTTPRequestDuration measures admin API latency.
	// Labels: method, route, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HistoryWrites counts history persistence operations.
	// Labels: backend, status (success|error)
	HistoryWrites *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// registers with the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsAdmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joingate_requests_admitted_total",
				Help: "Join request events by admission result",
			},
			[]string{"result"},
		),

		RequestsResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joingate_requests_resolved_total",
				Help: "Join requests that reached a terminal status",
			},
			[]string{"status"},
		),

		RequestsReopened: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "joingate_requests_reopened_total",
				Help: "Resolutions reverted to pending after every identifier failed",
			},
		),

		PendingRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "joingate_pending_requests",
				Help: "Join requests awaiting a decision",
			},
		),

		DecisionAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joingate_decision_attempts_total",
				Help: "Calls of the platform decide operation by candidate and outcome",
			},
			[]string{"candidate", "outcome"},
		),

		ResolveDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "joingate_resolve_duration_seconds",
				Help:    "Time spent applying a decision across all candidates",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"result"},
		),

		TimersFired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "joingate_timers_fired_total",
				Help: "Auto-approval countdowns that expired",
			},
		),

		Commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joingate_commands_total",
				Help: "Review commands by command and result",
			},
			[]string{"command", "result"},
		),

		Notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joingate_notifications_total",
				Help: "Outbound messages by kind and delivery status",
			},
			[]string{"kind", "status"},
		),

		PlatformErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joingate_platform_errors_total",
				Help: "Platform transport errors by platform and code",
			},
			[]string{"platform", "code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "joingate_http_request_duration_seconds",
				Help:    "Duration of admin HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "route", "status_code"},
		),

		HistoryWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joingate_history_writes_total",
				Help: "History persistence operations by backend and status",
			},
			[]string{"backend", "status"},
		),
	}
}

// RequestAdmitted records the admission result of a join request event.
func (m *Metrics) RequestAdmitted(result string) {
	if m == nil {
		return
	}
	m.RequestsAdmitted.WithLabelValues(result).Inc()
}

// RequestResolved records a terminal transition.
func (m *Metrics) RequestResolved(status string) {
	if m == nil {
		return
	}
	m.RequestsResolved.WithLabelValues(status).Inc()
}

// RequestReopened records a reverted resolution.
func (m *Metrics) RequestReopened() {
	if m == nil {
		return
	}
	m.RequestsReopened.Inc()
}

// SetPending sets the pending request gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}

// RecordDecisionAttempt counts one decide call.
func (m *Metrics) RecordDecisionAttempt(candidate, outcome string) {
	if m == nil {
		return
	}
	m.DecisionAttempts.WithLabelValues(candidate, outcome).Inc()
}

// ObserveResolve records how long a resolution took.
func (m *Metrics) ObserveResolve(result string, seconds float64) {
	if m == nil {
		return
	}
	m.ResolveDuration.WithLabelValues(result).Observe(seconds)
}

// TimerFired counts an expired countdown.
func (m *Metrics) TimerFired() {
	if m == nil {
		return
	}
	m.TimersFired.Inc()
}

// CommandHandled counts an interpreted command.
func (m *Metrics) CommandHandled(command, result string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(command, result).Inc()
}

// NotificationSent records an outbound message delivery.
func (m *Metrics) NotificationSent(kind string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.Notifications.WithLabelValues(kind, status).Inc()
}

// RecordPlatformError counts a transport failure.
func (m *Metrics) RecordPlatformError(platform, code string) {
	if m == nil {
		return
	}
	m.PlatformErrors.WithLabelValues(platform, code).Inc()
}

// RecordHTTPRequest records an admin API request.
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, statusCode).Observe(seconds)
}

// RecordHistoryWrite records a history persistence operation.
func (m *Metrics) RecordHistoryWrite(backend string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.HistoryWrites.WithLabelValues(backend, status).Inc()
}
