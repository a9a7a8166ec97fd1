package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/teemow/mailgate/internal/instrumentation"
	"github.com/teemow/mailgate/internal/logging"
)

const (
	// DefaultAPIAddr is the default listen address of the API server.
	DefaultAPIAddr = ":8080"

	// DefaultMaxBodyBytes bounds the size of a send request body.
	DefaultMaxBodyBytes = 1 << 20

	// DefaultInboxLimit is used when the limit query parameter is omitted.
	DefaultInboxLimit = 50
)

// Config configures an APIServer.
type Config struct {
	Addr string

	// APIKey enables caller authentication when non-empty.
	APIKey string

	AppName string
	Version string

	MaxBodyBytes int64

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// APIServer serves the /api/v1 surface plus the Kubernetes probes.
type APIServer struct {
	serverContext *ServerContext
	config        Config
	health        *HealthChecker
	handler       http.Handler
	logger        *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	closed     bool
}

// NewAPIServer builds the route table. The handler is usable immediately
// through Handler, without Start.
func NewAPIServer(sc *ServerContext, config Config) (*APIServer, error) {
	if sc == nil {
		return nil, errors.New("server context is required")
	}
	if config.Addr == "" {
		config.Addr = DefaultAPIAddr
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &APIServer{
		serverContext: sc,
		config:        config,
		health:        NewHealthChecker(sc, config.AppName, config.Version),
		logger:        logging.WithComponent(config.Logger, "api"),
	}
	s.handler = s.routes()
	return s, nil
}

func (s *APIServer) routes() http.Handler {
	mux := http.NewServeMux()
	s.health.RegisterHealthEndpoints(mux)

	mux.Handle("GET /api/v1/health", s.health.APIHealthHandler())

	protect := func(h http.HandlerFunc) http.Handler {
		return requireAPIKey(s.config.APIKey, s.logger, h)
	}
	mux.Handle("GET /api/v1/user", protect(s.handleUser))
	mux.Handle("GET /api/v1/emails/inbox", protect(s.handleInbox))
	mux.Handle("POST /api/v1/emails/send", protect(s.handleSend))
	mux.Handle("GET /api/v1/auth/token", protect(s.handleToken))

	var h http.Handler = mux
	h = instrumentRequests(s.config.Metrics, s.logger, h)
	h = withRequestID(h)
	return otelhttp.NewHandler(h, "mailgate.api")
}

// Handler returns the fully wrapped HTTP handler.
func (s *APIServer) Handler() http.Handler {
	return s.handler
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *APIServer) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.serverContext.Context() },
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ln.Close()
	}
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("starting API server",
		"addr", ln.Addr().String(),
		"caller_auth", s.config.APIKey != "",
	)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown fails readiness, drains in-flight requests and then cancels the
// server context.
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("shutting down API server")
	s.serverContext.BeginShutdown()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.serverContext.Shutdown()
	return err
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *APIServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}
