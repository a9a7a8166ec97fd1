package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailgate/internal/config"
	"github.com/teemow/mailgate/internal/credential"
	"github.com/teemow/mailgate/internal/graph"
	"github.com/teemow/mailgate/internal/mailerr"
	"github.com/teemow/mailgate/internal/server"
)

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "unset flags keep environment values",
			args: nil,
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "env-tenant", cfg.TenantID)
				assert.Equal(t, ":7000", cfg.HTTPAddr)
				assert.Equal(t, "info", cfg.LogLevel)
				assert.Empty(t, cfg.TokenCachePath)
			},
		},
		{
			name: "explicit flags win",
			args: []string{"--tenant-id", "flag-tenant", "--http-addr", ":9999", "--scopes", "Mail.Read,Mail.Send", "--metrics=false"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "flag-tenant", cfg.TenantID)
				assert.Equal(t, ":9999", cfg.HTTPAddr)
				assert.Equal(t, []string{"Mail.Read", "Mail.Send"}, cfg.Scopes)
				assert.False(t, cfg.MetricsEnabled)
			},
		},
		{
			name: "debug raises log level",
			args: []string{"--debug"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "debug", cfg.LogLevel)
			},
		},
		{
			name: "bare token cache flag uses default path",
			args: []string{"--token-cache"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, credential.DefaultCachePath(), cfg.TokenCachePath)
			},
		},
		{
			name: "token cache with explicit path",
			args: []string{"--token-cache=/tmp/mailgate-token.json", "--device-code-timeout", "2m"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "/tmp/mailgate-token.json", cfg.TokenCachePath)
				assert.Equal(t, 2*time.Minute, cfg.DeviceCodeTimeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newServeCmd()
			require.NoError(t, cmd.Flags().Parse(tt.args))

			cfg := &config.Config{
				TenantID:          "env-tenant",
				HTTPAddr:          ":7000",
				LogLevel:          "info",
				Scopes:            config.DefaultScopes,
				MetricsEnabled:    true,
				DeviceCodeTimeout: config.DefaultDeviceCodeTimeout,
			}

			var flags serveFlags
			flags.tenantID, _ = cmd.Flags().GetString("tenant-id")
			flags.httpAddr, _ = cmd.Flags().GetString("http-addr")
			flags.scopes, _ = cmd.Flags().GetString("scopes")
			flags.metricsEnabled, _ = cmd.Flags().GetBool("metrics")
			flags.debug, _ = cmd.Flags().GetBool("debug")
			flags.tokenCache, _ = cmd.Flags().GetString("token-cache")
			flags.deviceCodeTimeout, _ = cmd.Flags().GetDuration("device-code-timeout")

			applyFlags(cmd, &flags, cfg)
			tt.check(t, cfg)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)

	require.NoError(t, cmd.RunE(cmd, nil))
	assert.Contains(t, out.String(), "mailgate version "+version)
}

func newTestAPIServer(t *testing.T, ctx context.Context, addr string) *server.APIServer {
	t.Helper()

	holder, err := credential.NewHolder(credential.Config{TenantID: "contoso", ClientID: "c", Scopes: []string{"Mail.Read"}})
	require.NoError(t, err)
	mail, err := graph.NewClient(holder, graph.Config{})
	require.NoError(t, err)
	sc, err := server.NewServerContext(ctx, holder, mail)
	require.NoError(t, err)

	api, err := server.NewAPIServer(sc, server.Config{Addr: addr, AppName: "mailgate", Version: "test"})
	require.NoError(t, err)
	return api
}

func TestServeUntilDone_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newTestAPIServer(t, ctx, "127.0.0.1:0")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	done := make(chan error, 1)
	go func() { done <- serveUntilDone(ctx, logger, api, nil) }()

	require.Eventually(t, func() bool {
		addr := api.Addr()
		if addr == "127.0.0.1:0" {
			return false
		}
		resp, err := http.Get("http://" + addr + "/api/v1/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serveUntilDone did not return after cancel")
	}
}

func TestServeUntilDone_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	api := newTestAPIServer(t, context.Background(), ln.Addr().String())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err = serveUntilDone(context.Background(), logger, api, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

// decliningAuthority issues a device code and then answers every poll with
// access_denied, as when the user rejects the sign-in.
func decliningAuthority(t *testing.T) string {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /contoso/oauth2/v2.0/devicecode", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"device_code":      "device-code-1",
			"user_code":        "ABCD-EFGH",
			"verification_uri": "https://microsoft.com/devicelogin",
			"expires_in":       900,
			"interval":         1,
		})
	})
	mux.HandleFunc("POST /contoso/oauth2/v2.0/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "access_denied",
			"error_description": "The user declined the sign-in.",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

// freeAddr returns a loopback address nothing is listening on.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestRunServe_SignInFailureExposesNothing(t *testing.T) {
	t.Setenv("INSTRUMENTATION_ENABLED", "false")
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	tests := []struct {
		name      string
		authority func(t *testing.T) string
		kind      error
	}{
		{name: "user declines", authority: decliningAuthority, kind: mailerr.ErrNotAuthenticated},
		{
			name:      "identity provider unreachable",
			authority: func(*testing.T) string { return "http://127.0.0.1:1" },
			kind:      mailerr.ErrUpstreamUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpAddr := freeAddr(t)
			metricsAddr := freeAddr(t)

			var stderr bytes.Buffer
			cmd := newServeCmd()
			cmd.SetErr(&stderr)

			cfg := &config.Config{
				AppName:           config.DefaultAppName,
				Version:           "test",
				TenantID:          "contoso",
				ClientID:          "client-123",
				Scopes:            config.DefaultScopes,
				HTTPAddr:          httpAddr,
				GraphBaseURL:      config.DefaultGraphBaseURL,
				AuthorityHost:     tt.authority(t),
				DeviceCodeTimeout: 10 * time.Second,
				UpstreamTimeout:   2 * time.Second,
				LogLevel:          "info",
				LogFormat:         "text",
				MetricsEnabled:    true,
				MetricsAddr:       metricsAddr,
			}

			err := runServe(context.Background(), cmd, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "sign-in failed")
			assert.ErrorIs(t, err, tt.kind)

			for _, addr := range []string{httpAddr, metricsAddr} {
				conn, dialErr := net.DialTimeout("tcp", addr, 200*time.Millisecond)
				if dialErr == nil {
					_ = conn.Close()
				}
				assert.Error(t, dialErr, "nothing may listen on %s after a failed sign-in", addr)
			}
		})
	}
}
