// Package session maps opaque session identifiers to per-session state:
// the tool registry, the live operator connection and the internal RPC
// client pre-registered with the session's tools.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/srogmann/mcp-playground/internal/mailbox"
	"github.com/srogmann/mcp-playground/internal/mcpclient"
	"github.com/srogmann/mcp-playground/internal/relay"
	"github.com/srogmann/mcp-playground/internal/tool"
)

// ErrUnknownSession is returned when a caller requires a pre-existing
// session and none exists.
var ErrUnknownSession = errors.New("unknown session")

// Session is the per-user context binding a tool set, a live connection
// and an internal RPC client.
//
// The live connection is a weak handle: it may close independently of the
// session's lifetime. The registry and the client are always rebuilt
// together, so every tool present in the registry is also registered in
// the client.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	registry   *tool.Registry
	client     *mcpclient.Client
	conn       relay.Conn
	box        *mailbox.Mailbox
	lastActive time.Time
}

func newSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		CreatedAt:  now,
		registry:   tool.NewRegistry(),
		box:        mailbox.New(),
		lastActive: now,
	}
}

// Registry returns the session's tool registry.
func (s *Session) Registry() *tool.Registry {
	return s.registry
}

// Client returns the session's internal RPC client, nil before the first
// tool registration.
func (s *Session) Client() *mcpclient.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Conn returns the live connection most recently bound to the session,
// nil before the first tool registration. The connection may be closed.
func (s *Session) Conn() relay.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Mailbox returns the session's answer mailbox.
func (s *Session) Mailbox() *mailbox.Mailbox {
	return s.box
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns the time of the most recent activity.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// install replaces registry content, client and connection in one step,
// preserving the registry/client consistency invariant.
func (s *Session) install(impls []tool.Implementation, client *mcpclient.Client, conn relay.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry.ReplaceAll(impls)
	s.client = client
	s.conn = conn
	s.lastActive = time.Now()
}

// dropConn clears the live connection handle if it is the given one.
func (s *Session) dropConn(conn relay.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
		return true
	}
	return false
}

// Audit persists session lifecycle information. A nil Audit disables
// persistence.
type Audit interface {
	UpsertSession(ctx context.Context, sessionID, toolTitle string) error
	RecordEvent(ctx context.Context, sessionID, eventType string, payload interface{}) error
}
