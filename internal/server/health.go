package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// Health status constants for health check responses.
const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
)

// HealthChecker provides health check endpoints for Kubernetes probes.
type HealthChecker struct {
	serverContext *ServerContext
	appName       string
	version       string
	startTime     time.Time
}

// NewHealthChecker creates a new HealthChecker.
func NewHealthChecker(sc *ServerContext, appName, version string) *HealthChecker {
	return &HealthChecker{
		serverContext: sc,
		appName:       appName,
		version:       version,
		startTime:     time.Now(),
	}
}

// IsReady reports whether a session exists and the server is not shutting
// down.
func (h *HealthChecker) IsReady() bool {
	return h.sessionReady() && !h.isServerShuttingDown()
}

func (h *HealthChecker) sessionReady() bool {
	return h.serverContext != nil && h.serverContext.Sessions().Ready()
}

// isServerShuttingDown returns false if serverContext is nil.
func (h *HealthChecker) isServerShuttingDown() bool {
	return h.serverContext != nil && h.serverContext.IsShutdown()
}

// HealthResponse is the body of /healthz and /readyz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// APIHealthResponse is the body of /api/v1/health.
type APIHealthResponse struct {
	Status    string    `json:"status"`
	AppName   string    `json:"app_name"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

// LivenessHandler serves /healthz. It succeeds whenever the process is up.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler serves /readyz. It reports not ready until the session
// has been published, and again once shutdown begins.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		checks := map[string]string{
			"session":  healthStatusOK,
			"shutdown": healthStatusOK,
		}
		status := http.StatusOK

		if !h.sessionReady() {
			checks["session"] = healthStatusNotReady
			status = http.StatusServiceUnavailable
		}
		if h.isServerShuttingDown() {
			checks["shutdown"] = healthStatusShuttingDown
			status = http.StatusServiceUnavailable
		}

		response := HealthResponse{Status: healthStatusOK, Checks: checks}
		if status != http.StatusOK {
			response.Status = healthStatusNotReady
		}
		writeJSON(w, status, response)
	})
}

// APIHealthHandler serves /api/v1/health. Like /healthz it never fails; it
// also reports the application name and version.
func (h *HealthChecker) APIHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, APIHealthResponse{
			Status:    healthStatusOK,
			AppName:   h.appName,
			Version:   h.version,
			Uptime:    time.Since(h.startTime).Truncate(time.Second).String(),
			Timestamp: time.Now().UTC(),
		})
	})
}

// RegisterHealthEndpoints registers the probe endpoints on mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("GET /healthz", h.LivenessHandler())
	mux.Handle("GET /readyz", h.ReadinessHandler())
}

// writeJSON is shared by every handler in the package.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
