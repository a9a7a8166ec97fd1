package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	attrMethod    = "method"
	attrRoute     = "route"
	attrStatus    = "status"
	attrOperation = "operation"
	attrService   = "service"
	attrResult    = "result"
	attrKind      = "kind"
	attrDomain    = "recipient_domain"
)

// Metrics provides methods for recording observability metrics.
// A zero Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Upstream mail API metrics
	upstreamOperationsTotal   metric.Int64Counter
	upstreamOperationDuration metric.Float64Histogram
	messagesSentTotal         metric.Int64Counter

	// Credential metrics
	deviceAuthTotal   metric.Int64Counter
	tokenRefreshTotal metric.Int64Counter

	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.upstreamOperationsTotal, err = meter.Int64Counter(
		"upstream_operations_total",
		metric.WithDescription("Total number of upstream mail API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream_operations_total counter: %w", err)
	}

	m.upstreamOperationDuration, err = meter.Float64Histogram(
		"upstream_operation_duration_seconds",
		metric.WithDescription("Upstream mail API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream_operation_duration_seconds histogram: %w", err)
	}

	m.messagesSentTotal, err = meter.Int64Counter(
		"messages_sent_total",
		metric.WithDescription("Total number of messages accepted by the upstream mail API"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messages_sent_total counter: %w", err)
	}

	m.deviceAuthTotal, err = meter.Int64Counter(
		"device_auth_total",
		metric.WithDescription("Total number of device authorization attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create device_auth_total counter: %w", err)
	}

	m.tokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of access token refreshes"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an inbound HTTP request. route is the mux
// pattern, not the raw path, so that query strings never become labels.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrRoute, route),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)

	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordUpstreamOperation records one upstream call.
//
// Parameters:
//   - operation: get_profile, list_inbox or send
//   - kind: empty on success, otherwise the error kind
//   - duration: time taken for the call
func (m *Metrics) RecordUpstreamOperation(ctx context.Context, operation, kind string, duration time.Duration) {
	if m == nil || m.upstreamOperationsTotal == nil || m.upstreamOperationDuration == nil {
		return
	}

	status := StatusSuccess
	if kind != "" {
		status = StatusError
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrService, ServiceGraph),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}
	if kind != "" {
		attrs = append(attrs, attribute.String(attrKind, kind))
	}

	m.upstreamOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.upstreamOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordMessageSent counts a message accepted upstream. The recipient domain
// is only attached when detailed labels are enabled.
func (m *Metrics) RecordMessageSent(ctx context.Context, recipient string) {
	if m == nil || m.messagesSentTotal == nil {
		return
	}

	var attrs []attribute.KeyValue
	if m.detailedLabels {
		attrs = append(attrs, attribute.String(attrDomain, ExtractUserDomain(recipient)))
	}

	m.messagesSentTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDeviceAuth records the outcome of a startup authentication.
// Result should be one of: "success", "failure", "timeout", "cached"
func (m *Metrics) RecordDeviceAuth(ctx context.Context, result string) {
	if m == nil || m.deviceAuthTotal == nil {
		return
	}

	m.deviceAuthTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordTokenRefresh records an access token refresh with result.
// Result should be one of: "success", "failure"
func (m *Metrics) RecordTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.tokenRefreshTotal == nil {
		return
	}

	m.tokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}
