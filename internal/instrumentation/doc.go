// Package instrumentation wires OpenTelemetry metrics and tracing for
// mailgate and provides the audit log for upstream mail operations.
//
// # Metrics
//
//   - http_requests_total, http_request_duration_seconds: inbound API
//     requests by method, route pattern and status
//   - upstream_operations_total, upstream_operation_duration_seconds:
//     calls to the mail API by operation, status and error kind
//   - messages_sent_total: messages accepted upstream
//   - device_auth_total: startup authentication by result
//   - oauth_token_refresh_total: access token refreshes by result
//
// Prometheus is the default exporter; MetricsHandler returns the scrape
// handler that the dedicated metrics listener serves.
//
// # Tracing
//
// Upstream calls get client spans named graph.<operation>. Tracing is off
// unless TRACING_EXPORTER is otlp or stdout.
//
// # Configuration
//
//   - INSTRUMENTATION_ENABLED (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - LOGS_EXPORTER: otlp, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE
//   - OTEL_TRACES_SAMPLER_ARG (default: 0.1)
//   - OTEL_SERVICE_NAME (default: mailgate)
//   - METRICS_DETAILED_LABELS (default: false)
//   - AUDIT_LOGGING_ENABLED (default: true), AUDIT_LOGGING_INCLUDE_PII (default: false)
package instrumentation
