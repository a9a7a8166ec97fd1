package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/mailgate/internal/credential"
	"github.com/teemow/mailgate/internal/instrumentation"
	"github.com/teemow/mailgate/internal/logging"
	"github.com/teemow/mailgate/internal/mailerr"
)

// Defaults for Config.
const (
	DefaultBaseURL       = "https://graph.microsoft.com/v1.0"
	DefaultTimeout       = 30 * time.Second
	DefaultMaxInboxLimit = 100
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// SessionProvider hands out the process session.
type SessionProvider interface {
	Session() (*credential.Session, error)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the Graph API root, without trailing slash.
	BaseURL string

	// Timeout bounds each upstream call.
	Timeout time.Duration

	// MaxInboxLimit is the largest page ListInbox accepts.
	MaxInboxLimit int

	// Transport is the base transport below tracing and authentication.
	Transport http.RoundTripper

	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Logger  *slog.Logger
}

// Client performs mail operations against Microsoft Graph on behalf of the
// session's user. It holds no per-request state and is safe for concurrent
// use.
type Client struct {
	sessions  SessionProvider
	baseURL   string
	timeout   time.Duration
	maxLimit  int
	transport http.RoundTripper
	validate  *validator.Validate
	metrics   *instrumentation.Metrics
	audit     *instrumentation.AuditLogger
	logger    *slog.Logger
}

// NewClient creates a Client reading its session from sessions.
func NewClient(sessions SessionProvider, config Config) (*Client, error) {
	if sessions == nil {
		return nil, errors.New("session provider is required")
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxInboxLimit <= 0 {
		config.MaxInboxLimit = DefaultMaxInboxLimit
	}

	logger := logging.WithComponent(config.Logger, "graph")

	return &Client{
		sessions: sessions,
		baseURL:  baseURL,
		timeout:  config.Timeout,
		maxLimit: config.MaxInboxLimit,
		transport: otelhttp.NewTransport(
			&loggingTransport{base: config.Transport, logger: logger},
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "HTTP " + r.Method + " " + r.URL.Path
			}),
		),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  config.Metrics,
		audit:    config.Audit,
		logger:   logger,
	}, nil
}

// MaxInboxLimit is the largest limit ListInbox accepts.
func (c *Client) MaxInboxLimit() int {
	return c.maxLimit
}

// GetProfile returns the signed-in user's profile. The primary address
// falls back to the user principal name when the mailbox has none.
func (c *Client) GetProfile(ctx context.Context) (profile *Profile, err error) {
	ctx, finish := c.begin(ctx, instrumentation.OperationGet)
	defer func() { finish(err) }()

	session, err := c.sessions.Session()
	if err != nil {
		return nil, err
	}

	query := url.Values{"$select": {"id,displayName,mail,userPrincipalName"}}

	var user userResource
	if err := c.do(ctx, session, http.MethodGet, "/me", query, nil, &user); err != nil {
		return nil, err
	}

	email := user.Mail
	if email == "" {
		email = user.UserPrincipalName
	}

	return &Profile{
		ID:                user.ID,
		DisplayName:       user.DisplayName,
		Email:             email,
		UserPrincipalName: user.UserPrincipalName,
		TenantID:          session.TenantID,
	}, nil
}

// ListInbox returns up to limit inbox messages, most recent first. limit
// must be in [1, MaxInboxLimit]; out-of-range values fail with
// InvalidArgument before any upstream call. A missing session is reported
// ahead of argument errors.
func (c *Client) ListInbox(ctx context.Context, limit int) (inbox *Inbox, err error) {
	ctx, finish := c.begin(ctx, instrumentation.OperationList, attribute.Int(instrumentation.SpanAttrLimit, limit))
	defer func() { finish(err) }()

	session, err := c.sessions.Session()
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > c.maxLimit {
		return nil, mailerr.New(mailerr.KindInvalidArgument,
			fmt.Sprintf("limit must be between 1 and %d", c.maxLimit))
	}

	query := url.Values{
		"$select":  {"id,from,isRead,receivedDateTime,subject,bodyPreview"},
		"$top":     {strconv.Itoa(limit)},
		"$orderby": {"receivedDateTime desc"},
	}

	var page messageCollection
	if err := c.do(ctx, session, http.MethodGet, "/me/mailFolders/inbox/messages", query, nil, &page); err != nil {
		return nil, err
	}

	messages := make([]MessageSummary, 0, len(page.Value))
	for _, m := range page.Value {
		messages = append(messages, m.summary())
	}
	slices.SortStableFunc(messages, func(a, b MessageSummary) int {
		return b.ReceivedAt.Compare(a.ReceivedAt)
	})

	hasMore := page.NextLink != ""
	if len(messages) > limit {
		messages = messages[:limit]
		hasMore = true
	}

	instrumentation.AnnotateSpan(ctx, attribute.Int(instrumentation.SpanAttrCount, len(messages)))
	return &Inbox{Messages: messages, HasMore: hasMore}, nil
}

// Send delivers msg and saves it to Sent Items. The recipient must be a
// valid address and the body kind text or html (any case, default text);
// otherwise Send fails with ValidationError before any upstream call. A
// missing session is reported ahead of validation errors.
func (c *Client) Send(ctx context.Context, msg OutboundMessage) (err error) {
	msg = msg.normalize()

	ctx, finish := c.begin(ctx, instrumentation.OperationSend)
	defer func() {
		finish(err)
		c.audit.Log(instrumentation.NewMailOperation(instrumentation.OperationSend).
			WithRecipient(msg.Recipient).
			WithSpanContext(ctx).
			Complete(string(mailerr.KindOf(err)), err))
	}()

	session, err := c.sessions.Session()
	if err != nil {
		return err
	}

	if err := c.validate.Struct(msg); err != nil {
		return mailerr.Wrap(mailerr.KindValidation, validationMessage(err), err)
	}

	body, err := json.Marshal(msg.request())
	if err != nil {
		return mailerr.Wrap(mailerr.KindValidation, "message could not be encoded", err)
	}

	if err := c.do(ctx, session, http.MethodPost, "/me/sendMail", nil, body, nil); err != nil {
		return err
	}

	c.metrics.RecordMessageSent(ctx, msg.Recipient)
	c.logger.InfoContext(ctx, "message sent", logging.UserHash(msg.Recipient))
	return nil
}

// begin starts the span for an upstream operation and returns a finisher
// that records metrics and ends it.
func (c *Client) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := instrumentation.StartUpstreamSpan(ctx, operation, attrs...)

	return ctx, func(err error) {
		var kind string
		if err != nil {
			kind = string(mailerr.KindOf(err))
			c.logger.WarnContext(ctx, "graph operation failed",
				logging.Operation(operation), logging.ErrorKind(kind), logging.Err(err))
		}
		c.metrics.RecordUpstreamOperation(ctx, operation, kind, time.Since(start))
		instrumentation.EndSpan(span, kind, err)
	}
}

// do issues one request and decodes a 2xx response into out (ignored when
// nil). Every failure is returned as a *mailerr.Error.
func (c *Client) do(ctx context.Context, session *credential.Session, method, path string, query url.Values, body []byte, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return mailerr.Wrap(mailerr.KindUpstreamUnavailable, "failed to build upstream request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := session.HTTPClient(c.transport, c.timeout).Do(req)
	if err != nil {
		return transportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return mailerr.Wrap(mailerr.KindUpstreamUnavailable, "malformed upstream response", err)
	}
	return nil
}

// transportError classifies a failure that produced no HTTP response.
func transportError(err error) error {
	var tokenErr *credential.TokenError
	if errors.As(err, &tokenErr) {
		return mailerr.Wrap(mailerr.KindUnauthorized, "access token could not be refreshed; restart the service to sign in again", err)
	}
	if errors.Is(err, context.Canceled) {
		return mailerr.Wrap(mailerr.KindUpstreamUnavailable, "request cancelled", err)
	}
	return mailerr.Wrap(mailerr.KindUpstreamUnavailable, "mail service unreachable", err)
}

// statusError maps an upstream error status to the error taxonomy, using
// the OData error message as detail when present.
func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	detail := http.StatusText(resp.StatusCode)
	var odata odataError
	if json.Unmarshal(data, &odata) == nil && odata.Error.Message != "" {
		detail = odata.Error.Message
	}
	cause := fmt.Errorf("graph returned %d %s", resp.StatusCode, odata.Error.Code)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return mailerr.Wrap(mailerr.KindUnauthorized, "mail service rejected the credential: "+detail, cause)
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return mailerr.Wrap(mailerr.KindValidation, "mail service rejected the request: "+detail, cause)
	default:
		return mailerr.Wrap(mailerr.KindUpstreamUnavailable, "mail service error: "+detail, cause)
	}
}

// validationMessage turns validator errors into one caller-facing line.
func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return "invalid message"
	}

	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Field() {
		case "Recipient":
			parts = append(parts, "recipient must be a valid email address")
		case "BodyKind":
			parts = append(parts, "body_type must be text or html")
		case "Body":
			parts = append(parts, "body is too long")
		default:
			parts = append(parts, strings.ToLower(fe.Field())+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}
