package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/mailgate/internal/credential"
)

func TestLiveness(t *testing.T) {
	h := newTestAPI(t, newReadyHolder(t, validToken()), &fakeMail{}, "key")

	rec := do(t, h, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestReadiness(t *testing.T) {
	holder, err := credential.NewHolder(credential.Config{
		TenantID: "contoso",
		ClientID: "client-123",
		Scopes:   []string{"Mail.Read"},
		Authenticator: credential.AuthenticatorFunc(func(context.Context, *oauth2.Config) (*oauth2.Token, error) {
			return validToken(), nil
		}),
	})
	require.NoError(t, err)

	sc, err := NewServerContext(context.Background(), holder, &fakeMail{})
	require.NoError(t, err)
	checker := NewHealthChecker(sc, "mailgate", "dev")
	handler := checker.ReadinessHandler()

	rec := do(t, handler, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[HealthResponse](t, rec)
	assert.Equal(t, "not ready", body.Status)
	assert.Equal(t, "not ready", body.Checks["session"])
	assert.False(t, checker.IsReady())

	require.NoError(t, holder.Initialize(context.Background()))

	rec = do(t, handler, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, checker.IsReady())

	sc.Shutdown()

	rec = do(t, handler, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "shutting down", decode[HealthResponse](t, rec).Checks["shutdown"])
	assert.True(t, sc.IsShutdown())
	assert.Error(t, sc.Context().Err())
}

func TestNewServerContext_RequiresDependencies(t *testing.T) {
	_, err := NewServerContext(context.Background(), nil, &fakeMail{})
	assert.Error(t, err)

	holder, err := credential.NewHolder(credential.Config{TenantID: "t", ClientID: "c", Scopes: []string{"Mail.Read"}})
	require.NoError(t, err)
	_, err = NewServerContext(context.Background(), holder, nil)
	assert.Error(t, err)
}
