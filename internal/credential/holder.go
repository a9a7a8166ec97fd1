package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/teemow/mailgate/internal/instrumentation"
	"github.com/teemow/mailgate/internal/logging"
	"github.com/teemow/mailgate/internal/mailerr"
)

// Defaults for Config.
const (
	DefaultAuthorityHost     = "https://login.microsoftonline.com"
	DefaultDeviceCodeTimeout = 15 * time.Minute
	DefaultRequestTimeout    = 30 * time.Second
)

// offlineAccessScope asks the identity provider for a refresh token.
const offlineAccessScope = "offline_access"

// Config configures a Holder.
type Config struct {
	TenantID string
	ClientID string
	Scopes   []string

	// AuthorityHost is the identity provider base URL.
	AuthorityHost string

	// DeviceCodeTimeout bounds how long Initialize waits for the user to
	// redeem the device code.
	DeviceCodeTimeout time.Duration

	// TokenCachePath enables the on-disk token cache when set.
	TokenCachePath string

	// Authenticator overrides the device code flow.
	Authenticator Authenticator

	// Prompter shows the device code. Ignored when Authenticator is set.
	Prompter Prompter

	// RequestTimeout bounds each identity provider request, including token
	// refreshes made on behalf of a Graph call. Ignored when HTTPClient is set.
	RequestTimeout time.Duration

	// HTTPClient is used for identity provider requests.
	HTTPClient *http.Client

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// Holder owns the process's single Session. Initialize publishes it once;
// Session reads it without blocking.
type Holder struct {
	config        Config
	oauth         *oauth2.Config
	authenticator Authenticator
	httpClient    *http.Client
	cache         tokenCache
	metrics       *instrumentation.Metrics
	logger        *slog.Logger

	mu      sync.Mutex
	session atomic.Pointer[Session]
}

// NewHolder validates config and returns an uninitialized Holder.
func NewHolder(config Config) (*Holder, error) {
	if config.TenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	if config.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	if len(config.Scopes) == 0 {
		return nil, errors.New("at least one scope is required")
	}
	if config.AuthorityHost == "" {
		config.AuthorityHost = DefaultAuthorityHost
	}
	if config.DeviceCodeTimeout <= 0 {
		config.DeviceCodeTimeout = DefaultDeviceCodeTimeout
	}

	authenticator := config.Authenticator
	if authenticator == nil {
		authenticator = DeviceCodeAuthenticator{Prompter: config.Prompter}
	}

	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.RequestTimeout}
	}

	scopes := slices.Clone(config.Scopes)
	if !slices.Contains(scopes, offlineAccessScope) {
		scopes = append(scopes, offlineAccessScope)
	}

	return &Holder{
		config: config,
		oauth: &oauth2.Config{
			ClientID: config.ClientID,
			Endpoint: endpoint(config.AuthorityHost, config.TenantID),
			Scopes:   scopes,
		},
		authenticator: authenticator,
		httpClient:    httpClient,
		cache:         tokenCache{path: config.TokenCachePath},
		metrics:       config.Metrics,
		logger:        logging.WithComponent(config.Logger, "credential"),
	}, nil
}

func endpoint(authorityHost, tenantID string) oauth2.Endpoint {
	var ep oauth2.Endpoint
	if strings.TrimRight(authorityHost, "/") == DefaultAuthorityHost {
		ep = microsoft.AzureADEndpoint(tenantID)
	} else {
		base := strings.TrimRight(authorityHost, "/") + "/" + tenantID + "/oauth2/v2.0"
		ep = oauth2.Endpoint{
			AuthURL:       base + "/authorize",
			TokenURL:      base + "/token",
			DeviceAuthURL: base + "/devicecode",
		}
	}
	// Public client: no secret, client_id travels in the form body.
	ep.AuthStyle = oauth2.AuthStyleInParams
	return ep
}

// Initialize acquires a token and publishes a new Session. It reuses a
// cached token when one is configured and still usable; otherwise it runs
// the device code flow, waiting at most DeviceCodeTimeout.
func (h *Holder) Initialize(ctx context.Context) (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx, span := instrumentation.StartSpan(ctx, "credential.initialize")
	defer func() { instrumentation.EndSpan(span, string(mailerr.KindOf(err)), err) }()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, h.httpClient)

	if session := h.sessionFromCache(ctx); session != nil {
		h.publish(ctx, session, instrumentation.AuthResultCached)
		return nil
	}

	authCtx, cancel := context.WithTimeout(ctx, h.config.DeviceCodeTimeout)
	defer cancel()

	tok, err := h.authenticator.Authenticate(authCtx, h.oauth)
	if err != nil {
		result, authErr := h.classify(ctx, err)
		h.metrics.RecordDeviceAuth(ctx, result)
		h.logger.ErrorContext(ctx, "authentication failed", logging.Tenant(h.config.TenantID), logging.Err(authErr))
		return authErr
	}
	if tok == nil || tok.AccessToken == "" {
		h.metrics.RecordDeviceAuth(ctx, instrumentation.AuthResultFailure)
		return mailerr.New(mailerr.KindNotAuthenticated, "identity provider returned no access token")
	}

	granted := grantedScopes(tok, h.config.Scopes)
	session := h.newSession(tok, granted)
	if err := h.cache.save(h.cacheEntry(tok, granted)); err != nil {
		h.logger.WarnContext(ctx, "failed to persist token cache", logging.Err(err))
	}

	h.publish(ctx, session, instrumentation.AuthResultSuccess)
	return nil
}

// Session returns the published Session, or a NotAuthenticated error when
// Initialize has not completed. It never blocks and never starts a flow.
func (h *Holder) Session() (*Session, error) {
	if s := h.session.Load(); s != nil {
		return s, nil
	}
	return nil, mailerr.New(mailerr.KindNotAuthenticated, "no authenticated session; the service has not finished signing in")
}

// Ready reports whether a Session has been published.
func (h *Holder) Ready() bool {
	return h.session.Load() != nil
}

func (h *Holder) publish(ctx context.Context, session *Session, result string) {
	h.session.Store(session)
	h.metrics.RecordDeviceAuth(ctx, result)
	h.logger.InfoContext(ctx, "session established",
		logging.Tenant(session.TenantID),
		slog.String("source", result),
		slog.Any("scopes", session.Scopes),
		slog.Bool("refreshable", session.Refreshable()),
	)
}

func (h *Holder) newSession(tok *oauth2.Token, granted []string) *Session {
	// Refreshes outlive the Initialize call, so they get their own context.
	refreshCtx := context.WithValue(context.Background(), oauth2.HTTPClient, h.httpClient)

	source := &observedSource{
		base:    h.oauth.TokenSource(refreshCtx, tok),
		last:    tok,
		metrics: h.metrics,
	}
	if h.cache.enabled() {
		source.onRefresh = func(refreshed *oauth2.Token) {
			if err := h.cache.save(h.cacheEntry(refreshed, granted)); err != nil {
				h.logger.Warn("failed to persist refreshed token", logging.Err(err))
			}
		}
	}

	return &Session{
		TenantID:        h.config.TenantID,
		ClientID:        h.config.ClientID,
		Scopes:          granted,
		AuthenticatedAt: time.Now(),
		source:          source,
	}
}

func (h *Holder) sessionFromCache(ctx context.Context) *Session {
	if !h.cache.enabled() {
		return nil
	}

	entry, err := h.cache.load(h.config.TenantID, h.config.ClientID, h.config.Scopes)
	if err != nil {
		h.logger.WarnContext(ctx, "ignoring token cache", logging.Err(err))
		return nil
	}
	if entry == nil {
		return nil
	}

	granted := entry.Granted
	if len(granted) == 0 {
		granted = slices.Clone(h.config.Scopes)
	}

	session := h.newSession(entry.Token, granted)
	if _, err := session.Token(); err != nil {
		h.logger.WarnContext(ctx, "cached token is no longer usable, signing in again", logging.Err(err))
		return nil
	}
	return session
}

func (h *Holder) cacheEntry(tok *oauth2.Token, granted []string) cachedToken {
	return cachedToken{
		TenantID: h.config.TenantID,
		ClientID: h.config.ClientID,
		Scopes:   h.config.Scopes,
		Granted:  granted,
		Token:    tok,
	}
}

// classify returns the metric result label for an authentication failure
// and the mailerr it surfaces as.
func (h *Holder) classify(ctx context.Context, err error) (string, error) {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		msg := fmt.Sprintf("device code was not redeemed within %s", h.config.DeviceCodeTimeout)
		return instrumentation.AuthResultTimeout, mailerr.Wrap(mailerr.KindNotAuthenticated, msg, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return instrumentation.AuthResultFailure, mailerr.Wrap(mailerr.KindNotAuthenticated, "sign-in was interrupted", err)
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "access_denied", "authorization_declined":
			return instrumentation.AuthResultFailure, mailerr.Wrap(mailerr.KindNotAuthenticated, "sign-in was declined", err)
		case "expired_token", "code_expired":
			return instrumentation.AuthResultTimeout, mailerr.Wrap(mailerr.KindNotAuthenticated, "device code expired before it was redeemed", err)
		case "":
			return instrumentation.AuthResultFailure, mailerr.Wrap(mailerr.KindUpstreamUnavailable, "identity provider request failed", err)
		default:
			msg := fmt.Sprintf("identity provider rejected the sign-in: %s", re.ErrorCode)
			return instrumentation.AuthResultFailure, mailerr.Wrap(mailerr.KindNotAuthenticated, msg, err)
		}
	}

	return instrumentation.AuthResultFailure, mailerr.Wrap(mailerr.KindUpstreamUnavailable, "identity provider unreachable", err)
}

// grantedScopes returns the scopes the token endpoint reported, falling back
// to the requested ones.
func grantedScopes(tok *oauth2.Token, requested []string) []string {
	if raw, ok := tok.Extra("scope").(string); ok {
		if scopes := strings.Fields(raw); len(scopes) > 0 {
			return scopes
		}
	}
	return slices.Clone(requested)
}
