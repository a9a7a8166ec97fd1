package server

import (
	"context"
	"errors"
	"sync"

	"github.com/teemow/mailgate/internal/credential"
	"github.com/teemow/mailgate/internal/graph"
)

// MailService is the subset of the mail gateway the handlers use.
type MailService interface {
	GetProfile(ctx context.Context) (*graph.Profile, error)
	ListInbox(ctx context.Context, limit int) (*graph.Inbox, error)
	Send(ctx context.Context, msg graph.OutboundMessage) error
	MaxInboxLimit() int
}

// SessionSource exposes the process session to the handlers.
type SessionSource interface {
	Session() (*credential.Session, error)
	Ready() bool
}

// ServerContext holds the dependencies shared by every handler and the
// shutdown state of the process.
type ServerContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	sessions SessionSource
	mail     MailService
	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a server context. Both dependencies are required.
// The server context keeps the values of ctx but not its cancellation, so a
// cancelled ctx does not abort requests that Shutdown is still draining.
func NewServerContext(ctx context.Context, sessions SessionSource, mail MailService) (*ServerContext, error) {
	if sessions == nil {
		return nil, errors.New("session source is required")
	}
	if mail == nil {
		return nil, errors.New("mail service is required")
	}

	shutdownCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &ServerContext{
		ctx:      shutdownCtx,
		cancel:   cancel,
		sessions: sessions,
		mail:     mail,
	}, nil
}

// Context is cancelled when the server context shuts down.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Sessions returns the session source.
func (sc *ServerContext) Sessions() SessionSource {
	return sc.sessions
}

// Mail returns the mail gateway.
func (sc *ServerContext) Mail() MailService {
	return sc.mail
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// BeginShutdown marks the server as shutting down without cancelling its
// context. Readiness fails from here on while requests keep running.
func (sc *ServerContext) BeginShutdown() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.shutdown = true
}

// Shutdown marks the context as shut down and cancels it. It is idempotent.
func (sc *ServerContext) Shutdown() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.shutdown = true
	sc.cancel()
}
