package credential

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

const testTenant = "contoso"

// fakeAuthority is a minimal identity provider speaking the device
// authorization grant and the refresh token grant.
type fakeAuthority struct {
	server *httptest.Server

	// pending is the number of polls answered with authorization_pending
	// before a result is returned.
	pending int32

	// deviceError, when set, is returned instead of a token.
	deviceError string

	// expiresIn is the lifetime of issued access tokens in seconds.
	expiresIn int

	mu            sync.Mutex
	deviceCalls   int
	refreshCalls  int
	issued        int
	lastClientID  string
	lastScopeSent string
	polls         atomic.Int32
}

// newFakeAuthority starts the server after applying configure, so the
// behaviour fields are never written while handlers run.
func newFakeAuthority(t *testing.T, configure ...func(*fakeAuthority)) *fakeAuthority {
	t.Helper()

	fa := &fakeAuthority{expiresIn: 3600}
	for _, fn := range configure {
		fn(fa)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /"+testTenant+"/oauth2/v2.0/devicecode", fa.handleDeviceCode)
	mux.HandleFunc("POST /"+testTenant+"/oauth2/v2.0/token", fa.handleToken)
	fa.server = httptest.NewServer(mux)
	t.Cleanup(fa.server.Close)
	return fa
}

func (fa *fakeAuthority) URL() string {
	return fa.server.URL
}

func (fa *fakeAuthority) handleDeviceCode(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	fa.mu.Lock()
	fa.deviceCalls++
	fa.lastClientID = r.PostForm.Get("client_id")
	fa.lastScopeSent = r.PostForm.Get("scope")
	fa.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"device_code":      "device-code-1",
		"user_code":        "ABCD-EFGH",
		"verification_uri": "https://microsoft.com/devicelogin",
		"expires_in":       900,
		"interval":         1,
	})
}

func (fa *fakeAuthority) handleToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	switch r.PostForm.Get("grant_type") {
	case "urn:ietf:params:oauth:grant-type:device_code":
		if fa.polls.Add(1) <= fa.pending {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "authorization_pending"})
			return
		}
		if fa.deviceError != "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":             fa.deviceError,
				"error_description": "the user declined",
			})
			return
		}
		fa.writeToken(w, "device")

	case "refresh_token":
		fa.mu.Lock()
		fa.refreshCalls++
		fa.mu.Unlock()
		if r.PostForm.Get("refresh_token") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
			return
		}
		fa.writeToken(w, "refresh")

	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
	}
}

func (fa *fakeAuthority) writeToken(w http.ResponseWriter, prefix string) {
	fa.mu.Lock()
	fa.issued++
	n := fa.issued
	fa.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"token_type":    "Bearer",
		"access_token":  fmt.Sprintf("%s-access-%d", prefix, n),
		"refresh_token": "refresh-token",
		"expires_in":    fa.expiresIn,
		"scope":         "Mail.Read Mail.Send User.Read",
	})
}

func (fa *fakeAuthority) counts() (device, refresh int) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.deviceCalls, fa.refreshCalls
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
