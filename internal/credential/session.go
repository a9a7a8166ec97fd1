package credential

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/mailgate/internal/instrumentation"
)

// Session is the authenticated identity shared by every request handler.
// It is immutable apart from the access token, which the underlying token
// source refreshes on demand. Safe for concurrent use.
type Session struct {
	TenantID        string
	ClientID        string
	Scopes          []string
	AuthenticatedAt time.Time

	source *observedSource
}

// TokenInfo is a point-in-time view of the session's token.
type TokenInfo struct {
	HasValidToken bool
	Scopes        []string
	ExpiresAt     time.Time
	TenantID      string
	Refreshable   bool
}

// TokenError reports that no usable access token could be produced, for
// example because the refresh token was revoked.
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string {
	return "access token unavailable: " + e.Err.Error()
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// Token returns a valid access token, refreshing it when needed. Failures
// are returned as *TokenError.
func (s *Session) Token() (*oauth2.Token, error) {
	return s.source.Token()
}

// Refreshable reports whether the session holds a refresh token.
func (s *Session) Refreshable() bool {
	return s.source.refreshable()
}

// TokenInfo reports whether a valid token can be obtained now, which may
// trigger a refresh.
func (s *Session) TokenInfo() TokenInfo {
	info := TokenInfo{
		Scopes:      append([]string(nil), s.Scopes...),
		TenantID:    s.TenantID,
		Refreshable: s.Refreshable(),
	}

	tok, err := s.source.Token()
	if err != nil {
		info.ExpiresAt = s.source.lastExpiry()
		return info
	}
	info.HasValidToken = tok.Valid()
	info.ExpiresAt = tok.Expiry
	return info
}

// HTTPClient returns a client that authenticates every request with the
// session's access token. base may be nil.
func (s *Session) HTTPClient(base http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{Source: s.source, Base: base},
		Timeout:   timeout,
	}
}

// observedSource wraps the refreshing token source, counting refreshes and
// handing new tokens to onRefresh so they can be persisted.
type observedSource struct {
	mu        sync.Mutex
	base      oauth2.TokenSource
	last      *oauth2.Token
	metrics   *instrumentation.Metrics
	onRefresh func(*oauth2.Token)
}

func (o *observedSource) Token() (*oauth2.Token, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	tok, err := o.base.Token()
	if err != nil {
		o.metrics.RecordTokenRefresh(context.Background(), instrumentation.StatusError)
		return nil, &TokenError{Err: err}
	}
	if tok == nil {
		return nil, &TokenError{Err: errors.New("token source returned no token")}
	}

	if o.last == nil || tok.AccessToken != o.last.AccessToken {
		if o.last != nil {
			o.metrics.RecordTokenRefresh(context.Background(), instrumentation.StatusSuccess)
			if o.onRefresh != nil {
				o.onRefresh(tok)
			}
		}
		o.last = tok
	}
	return tok, nil
}

func (o *observedSource) refreshable() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last != nil && o.last.RefreshToken != ""
}

func (o *observedSource) lastExpiry() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return time.Time{}
	}
	return o.last.Expiry
}
