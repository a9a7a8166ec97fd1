package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/teemow/mailgate/internal/graph"
	"github.com/teemow/mailgate/internal/instrumentation"
)

func TestRequireAPIKey(t *testing.T) {
	mail := &fakeMail{profile: &graph.Profile{Email: "adele@contoso.com"}}
	h := newTestAPI(t, newReadyHolder(t, validToken()), mail, "s3cret")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"valid key", "Bearer s3cret", http.StatusOK},
		{"scheme is case-insensitive", "bearer s3cret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.header != "" {
				headers = []string{"Authorization", tt.header}
			}
			rec := do(t, h, http.MethodGet, "/api/v1/user", "", headers...)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
				assert.Equal(t, "Invalid API key", decode[ErrorResponse](t, rec).Detail)
			}
		})
	}
}

func TestRequireAPIKey_Disabled(t *testing.T) {
	mail := &fakeMail{profile: &graph.Profile{Email: "adele@contoso.com"}}
	h := newTestAPI(t, newReadyHolder(t, validToken()), mail, "")

	rec := do(t, h, http.MethodGet, "/api/v1/user", "")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestID(t *testing.T) {
	h := newTestAPI(t, newReadyHolder(t, validToken()), &fakeMail{}, "")

	t.Run("generated", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/v1/health", "")

		_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
		require.NoError(t, err)
	})

	t.Run("propagated", func(t *testing.T) {
		id := uuid.NewString()
		rec := do(t, h, http.MethodGet, "/api/v1/health", "", RequestIDHeader, id)

		assert.Equal(t, id, rec.Header().Get(RequestIDHeader))
	})

	t.Run("malformed inbound id is replaced", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/v1/health", "", RequestIDHeader, "<script>")

		got := rec.Header().Get(RequestIDHeader)
		assert.NotEqual(t, "<script>", got)
		_, err := uuid.Parse(got)
		assert.NoError(t, err)
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"BEARER abc", "abc", true},
		{"  Bearer   abc  ", "abc", true},
		{"Bearer", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			token, ok := bearerToken(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.token, token)
		})
	}
}

func TestRequestID_AnnotatesServerSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	h := newTestAPI(t, newReadyHolder(t, validToken()), &fakeMail{}, "")
	id := uuid.NewString()
	do(t, h, http.MethodGet, "/api/v1/health", "", RequestIDHeader, id)

	spans := recorder.Ended()
	require.NotEmpty(t, spans)

	var got string
	for _, kv := range spans[len(spans)-1].Attributes() {
		if string(kv.Key) == instrumentation.SpanAttrRequestID {
			got = kv.Value.AsString()
		}
	}
	assert.Equal(t, id, got)
}
