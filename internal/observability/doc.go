// Package observability provides logging, metrics, and tracing for joingate.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler redacts credentials (OneBot
// access tokens, Telegram bot tokens, bearer headers) from messages and
// attribute values, and lifts request correlation fields stored in the
// context (request id, group id, reviewer id) onto every record:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	ctx = observability.AddRequestID(ctx, "123456:987654")
//	logger.InfoContext(ctx, "request admitted")
//
// # Metrics
//
// Metrics are Prometheus collectors registered on a caller supplied
// registerer, so tests can use an isolated prometheus.Registry. Every
// recording method is safe to call on a nil *Metrics.
//
// # Tracing
//
// NewTracer installs an OTLP/gRPC exporter when an endpoint is configured and
// falls back to the global no-op provider otherwise. GetTraceID and GetSpanID
// extract correlation ids for the audit log.
package observability
