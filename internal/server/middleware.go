package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/mailgate/internal/instrumentation"
	"github.com/teemow/mailgate/internal/logging"
	"github.com/teemow/mailgate/internal/mailerr"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDFromContext returns the request ID set by the middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// withRequestID reuses a well-formed inbound request ID or generates one,
// and echoes it on the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		instrumentation.AnnotateSpan(r.Context(), attribute.String(instrumentation.SpanAttrRequestID, id))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrumentRequests records request metrics and an access log line. The
// route label is the matched mux pattern.
func instrumentRequests(metrics *instrumentation.Metrics, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.RecordHTTPRequest(r.Context(), r.Method, route, rec.status, elapsed)

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.LogAttrs(r.Context(), level, "request",
			logging.RequestID(RequestIDFromContext(r.Context())),
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int(logging.KeyStatus, rec.status),
			slog.Duration("elapsed", elapsed),
		)
	})
}

// requireAPIKey enforces "Authorization: Bearer <key>" when key is set.
// An empty key disables caller authentication.
func requireAPIKey(key string, logger *slog.Logger, next http.Handler) http.Handler {
	if key == "" {
		return next
	}
	want := []byte(key)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			logger.WarnContext(r.Context(), "rejected caller credential",
				logging.RequestID(RequestIDFromContext(r.Context())),
				slog.String("token", logging.SanitizeToken(token)),
			)
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, mailerr.New(mailerr.KindUnauthorized, "Invalid API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken parses an RFC 6750 Authorization header. The scheme is
// case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
