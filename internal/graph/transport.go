package graph

import (
	"log/slog"
	"net/http"
	"time"
)

// loggingTransport logs outbound requests at debug level: method, path,
// status and latency. Query strings, headers and bodies are never logged.
type loggingTransport struct {
	base   http.RoundTripper
	logger *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if !t.logger.Enabled(ctx, slog.LevelDebug) {
		return t.next().RoundTrip(req)
	}

	start := time.Now()
	t.logger.DebugContext(ctx, "graph request", "method", req.Method, "path", req.URL.Path)

	resp, err := t.next().RoundTrip(req)
	if err != nil {
		t.logger.DebugContext(ctx, "graph request failed", "method", req.Method, "path", req.URL.Path,
			"elapsed", time.Since(start), "error", err)
		return resp, err
	}

	t.logger.DebugContext(ctx, "graph response", "method", req.Method, "path", req.URL.Path,
		"status", resp.StatusCode, "elapsed", time.Since(start))
	return resp, nil
}

func (t *loggingTransport) next() http.RoundTripper {
	if t.base == nil {
		return http.DefaultTransport
	}
	return t.base
}
