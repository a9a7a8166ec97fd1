package instrumentation

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T, detailed bool) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"), detailed)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Sum[int64] {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, want Sum[int64]", name, m.Data)
			}
			return sum
		}
	}
	t.Fatalf("metric %s not found", name)
	return metricdata.Sum[int64]{}
}

func valueFor(sum metricdata.Sum[int64], key, value string) int64 {
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordHTTPRequest(ctx, "GET", "GET /api/v1/user", 200, 100*time.Millisecond)
	m.RecordHTTPRequest(ctx, "GET", "GET /api/v1/user", 200, 20*time.Millisecond)
	m.RecordHTTPRequest(ctx, "POST", "POST /api/v1/emails/send", 400, 5*time.Millisecond)

	sum := collectSum(t, reader, "http_requests_total")
	if got := valueFor(sum, attrStatus, "200"); got != 2 {
		t.Errorf("status 200 count = %d, want 2", got)
	}
	if got := valueFor(sum, attrStatus, "400"); got != 1 {
		t.Errorf("status 400 count = %d, want 1", got)
	}
}

func TestMetrics_RecordUpstreamOperation(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordUpstreamOperation(ctx, OperationList, "", 200*time.Millisecond)
	m.RecordUpstreamOperation(ctx, OperationSend, "unauthorized", 50*time.Millisecond)

	sum := collectSum(t, reader, "upstream_operations_total")
	if got := valueFor(sum, attrStatus, StatusSuccess); got != 1 {
		t.Errorf("success count = %d, want 1", got)
	}
	if got := valueFor(sum, attrKind, "unauthorized"); got != 1 {
		t.Errorf("unauthorized count = %d, want 1", got)
	}
}

func TestMetrics_RecordMessageSent(t *testing.T) {
	t.Run("default labels omit domain", func(t *testing.T) {
		m, reader := newTestMetrics(t, false)
		m.RecordMessageSent(context.Background(), "bob@example.com")

		sum := collectSum(t, reader, "messages_sent_total")
		if len(sum.DataPoints) != 1 {
			t.Fatalf("got %d data points, want 1", len(sum.DataPoints))
		}
		if _, ok := sum.DataPoints[0].Attributes.Value(attrDomain); ok {
			t.Error("recipient domain must not be a label without detailed labels")
		}
	})

	t.Run("detailed labels include domain", func(t *testing.T) {
		m, reader := newTestMetrics(t, true)
		m.RecordMessageSent(context.Background(), "bob@example.com")

		sum := collectSum(t, reader, "messages_sent_total")
		if got := valueFor(sum, attrDomain, "example.com"); got != 1 {
			t.Errorf("example.com count = %d, want 1", got)
		}
	})
}

func TestMetrics_CredentialCounters(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordDeviceAuth(ctx, AuthResultSuccess)
	m.RecordDeviceAuth(ctx, AuthResultTimeout)
	m.RecordTokenRefresh(ctx, StatusSuccess)

	auth := collectSum(t, reader, "device_auth_total")
	if got := valueFor(auth, attrResult, AuthResultTimeout); got != 1 {
		t.Errorf("timeout count = %d, want 1", got)
	}

	refresh := collectSum(t, reader, "oauth_token_refresh_total")
	if got := valueFor(refresh, attrResult, StatusSuccess); got != 1 {
		t.Errorf("refresh count = %d, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	m.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
	m.RecordUpstreamOperation(ctx, OperationGet, "", time.Millisecond)
	m.RecordMessageSent(ctx, "a@b.c")
	m.RecordDeviceAuth(ctx, AuthResultSuccess)
	m.RecordTokenRefresh(ctx, StatusError)

	empty := &Metrics{}
	empty.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
}
