package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srogmann/mcp-playground/internal/chat"
	"github.com/srogmann/mcp-playground/internal/mcpclient"
	"github.com/srogmann/mcp-playground/internal/protocol"
	"github.com/srogmann/mcp-playground/internal/relay"
	"github.com/srogmann/mcp-playground/internal/tool"
)

// Reserved tool-set titles selecting built-in tools instead of a
// client-supplied definition.
const (
	TitleInternalTools = "internal_tools"
	TitleGlossaryDemo  = "glossary_tool_demo"
)

// Options configures a session store.
type Options struct {
	// MCPBaseURL is the base URL the internal RPC clients call back on.
	MCPBaseURL string
	// Builtins is the catalog selected by the internal_tools title.
	Builtins []tool.Implementation
	// Glossary enables the glossary demo title, nil disables it.
	Glossary *tool.Glossary
	// Audit persists session lifecycle information, nil disables it.
	Audit Audit
}

// Store maps opaque session identifiers to Session aggregates and
// processes operator-originated session-management commands.
//
// Sessions are created on demand and never explicitly destroyed; see
// RunIdleSweep for the opt-in eviction enhancement.
type Store struct {
	engine *relay.Engine
	opts   Options

	mu       sync.RWMutex
	sessions map[string]*Session

	userCounter atomic.Int64
}

// NewStore creates a session store backed by the given relay engine.
func NewStore(engine *relay.Engine, opts Options) *Store {
	return &Store{
		engine:   engine,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// SuggestUserID proposes a fresh session identifier for a new user.
func (s *Store) SuggestUserID() string {
	return fmt.Sprintf("user_%d", s.userCounter.Add(1)*7+2)
}

// HasGlossary reports whether the glossary demo is available.
func (s *Store) HasGlossary() bool {
	return s.opts.Glossary != nil
}

// HasBuiltins reports whether built-in tools are available.
func (s *Store) HasBuiltins() bool {
	return len(s.opts.Builtins) > 0
}

// Resolve returns the session for sessionID, creating an empty one on
// first use. Resolving the same identifier twice returns the same session.
func (s *Store) Resolve(sessionID string) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess
	}
	sess = newSession(sessionID)
	s.sessions[sessionID] = sess
	return sess
}

// Require returns the session for sessionID, failing with
// ErrUnknownSession if the session was never initialized with a tool set.
func (s *Store) Require(sessionID string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok || sess.Registry().Len() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return sess, nil
}

// LookupRegistry implements mcp.Sessions.
func (s *Store) LookupRegistry(sessionID string) (*tool.Registry, bool) {
	sess, err := s.Require(sessionID)
	if err != nil {
		return nil, false
	}
	sess.Touch()
	return sess.Registry(), true
}

// ToolSpecs implements chat.ToolSource.
func (s *Store) ToolSpecs(sessionID string) ([]chat.Tool, bool) {
	sess, err := s.Require(sessionID)
	if err != nil {
		return nil, false
	}
	client := sess.Client()
	if client == nil {
		return nil, false
	}
	return client.ToolSpecs(), true
}

// DefineTools atomically replaces the session's tool set with tools built
// from the given definition, bound to the given live connection, and
// rebuilds the internal RPC client to match. A toolDefinition notification
// describing the newly active tool is sent back to the connection so the
// operator UI can render the expected input fields.
func (s *Store) DefineTools(ctx context.Context, sessionID string, def protocol.ToolDefinition, conn relay.Conn) error {
	sess := s.Resolve(sessionID)

	var impls []tool.Implementation
	var hint protocol.ToolDefinitionMessage

	switch {
	case def.Title == TitleInternalTools && s.HasBuiltins():
		for _, builtin := range s.opts.Builtins {
			impls = append(impls, &relay.Observed{Impl: builtin, Conn: conn})
		}
		hint = protocol.ToolDefinitionMessage{
			BaseMessage:     protocol.BaseMessage{Action: protocol.ActionToolDefinition},
			ToolTitle:       "internal tool",
			ToolDescription: "We will display the used internal tools here.",
		}

	case def.Title == TitleGlossaryDemo && s.HasGlossary():
		impls = []tool.Implementation{
			&relay.Observed{Impl: s.opts.Glossary, Conn: conn, ResponseField: "text"},
		}
		hint = definitionHint(s.opts.Glossary.Descriptor())

	default:
		desc, err := descriptorFromDefinition(def)
		if err != nil {
			return err
		}
		impls = []tool.Implementation{
			&relay.Tool{
				Desc:      desc,
				SessionID: sessionID,
				Conn:      conn,
				Box:       sess.Mailbox(),
				Engine:    s.engine,
			},
		}
		hint = definitionHint(desc)
	}

	client := mcpclient.New(s.opts.MCPBaseURL)
	descs := make([]tool.Descriptor, 0, len(impls))
	for _, impl := range impls {
		descs = append(descs, impl.Descriptor())
	}
	client.ReplaceTools(descs)

	sess.install(impls, client, conn)
	log.Printf("Tools defined: session=%s title=%s tools=%d", sessionID, def.Title, len(impls))

	if err := conn.SendJSON(hint); err != nil {
		log.Printf("WARN: failed to send toolDefinition hint: %v", err)
	}

	if s.opts.Audit != nil {
		if err := s.opts.Audit.UpsertSession(ctx, sessionID, def.Title); err != nil {
			log.Printf("WARN: failed to audit session %s: %v", sessionID, err)
		}
	}
	s.recordEvent(ctx, sessionID, "tools_registered", map[string]interface{}{
		"title": def.Title,
		"tools": len(impls),
	})
	return nil
}

// recordEvent appends an audit event. Auditing failures never fail the
// session operation itself.
func (s *Store) recordEvent(ctx context.Context, sessionID, eventType string, payload interface{}) {
	if s.opts.Audit == nil {
		return
	}
	if err := s.opts.Audit.RecordEvent(ctx, sessionID, eventType, payload); err != nil {
		log.Printf("WARN: failed to record %s event for %s: %v", eventType, sessionID, err)
	}
}

// OfferAnswer deposits an operator answer into the session's mailbox,
// unblocking a waiting relay call.
func (s *Store) OfferAnswer(sessionID string, answer map[string]interface{}) error {
	sess, err := s.Require(sessionID)
	if err != nil {
		return err
	}
	sess.Touch()
	sess.Mailbox().Offer(answer)
	return nil
}

// OnConnectionClosed clears the connection handle of every session bound
// to the given connection. Relay calls waiting on the connection observe
// its closed flag and resolve promptly with an empty result.
func (s *Store) OnConnectionClosed(conn relay.Conn) {
	var affected []string
	s.mu.RLock()
	for _, sess := range s.sessions {
		if sess.dropConn(conn) {
			log.Printf("Live connection closed for session %s, pending calls cancelled", sess.ID)
			affected = append(affected, sess.ID)
		}
	}
	s.mu.RUnlock()

	for _, id := range affected {
		s.recordEvent(context.Background(), id, "connection_closed", nil)
	}
}

// Count returns the number of known sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// RunIdleSweep evicts sessions without activity for longer than
// idleTimeout. The sweep is opt-in and stays disabled for
// idleTimeout <= 0.
func (s *Store) RunIdleSweep(ctx context.Context, idleTimeout time.Duration) {
	if idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepIdle(idleTimeout)
		}
	}
}

func (s *Store) sweepIdle(idleTimeout time.Duration) {
	cutoff := time.Now().Add(-idleTimeout)

	var evicted []string
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.LastActive().Before(cutoff) {
			delete(s.sessions, id)
			log.Printf("Idle session evicted: %s", id)
			evicted = append(evicted, id)
		}
	}
	s.mu.Unlock()

	for _, id := range evicted {
		s.recordEvent(context.Background(), id, "session_evicted", nil)
	}
}

// descriptorFromDefinition builds an immutable tool descriptor from a
// client-supplied definition. Every supplied property is required.
func descriptorFromDefinition(def protocol.ToolDefinition) (tool.Descriptor, error) {
	if def.Title == "" {
		return tool.Descriptor{}, fmt.Errorf("tool definition without title")
	}

	names := def.PropertyOrder
	if len(names) == 0 {
		for name := range def.Properties {
			names = append(names, name)
		}
	}

	properties := make(map[string]tool.Property, len(def.Properties))
	required := make([]string, 0, len(names))
	for _, name := range names {
		prop, ok := def.Properties[name]
		if !ok {
			continue
		}
		properties[name] = tool.Property{
			Type:        prop.Type,
			Description: prop.Description,
			Items:       prop.ItemsType,
		}
		required = append(required, name)
	}

	return tool.Descriptor{
		Name:        def.Title,
		Title:       def.Title,
		Description: def.Description,
		InputSchema: tool.InputSchema{
			Type:          "object",
			PropertyNames: names,
			Properties:    properties,
			Required:      required,
		},
	}, nil
}

// definitionHint builds the toolDefinition UI notification for a
// descriptor, showing the first one or two input properties.
func definitionHint(desc tool.Descriptor) protocol.ToolDefinitionMessage {
	msg := protocol.ToolDefinitionMessage{
		BaseMessage:     protocol.BaseMessage{Action: protocol.ActionToolDefinition},
		ToolTitle:       desc.Title,
		ToolDescription: desc.Description,
	}
	props := desc.InputSchema.OrderedProperties()
	if len(props) >= 1 {
		msg.Param1Name = props[0].Name
		msg.Param1Description = props[0].Description
	}
	if len(props) >= 2 {
		msg.Param2Name = props[1].Name
		msg.Param2Description = props[1].Description
	}
	return msg
}
