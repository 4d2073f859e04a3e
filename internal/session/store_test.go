package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/srogmann/mcp-playground/internal/protocol"
	"github.com/srogmann/mcp-playground/internal/relay"
	"github.com/srogmann/mcp-playground/internal/tool"
)

// fakeConn records sent messages and simulates connection closure.
type fakeConn struct {
	mu     sync.Mutex
	sent   []interface{}
	closed bool
}

func (c *fakeConn) SendJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) messages() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]interface{}(nil), c.sent...)
}

// fakeAudit records audit calls.
type fakeAudit struct {
	mu       sync.Mutex
	sessions []string
	events   []string
}

func (a *fakeAudit) UpsertSession(ctx context.Context, sessionID, toolTitle string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, sessionID)
	return nil
}

func (a *fakeAudit) RecordEvent(ctx context.Context, sessionID, eventType string, payload interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, sessionID+":"+eventType)
	return nil
}

func (a *fakeAudit) recorded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.MCPBaseURL == "" {
		opts.MCPBaseURL = "http://localhost:8080"
	}
	engine := relay.NewEngine(100*time.Millisecond, 10*time.Millisecond, nil)
	return NewStore(engine, opts)
}

func askUserDefinition() protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Title:       "ask_user",
		Description: "Asks the user a question.",
		Properties: map[string]protocol.ToolProperty{
			"question": {Type: "string", Description: "The question"},
			"context":  {Type: "string", Description: "Optional context"},
		},
		PropertyOrder: []string{"question", "context"},
	}
}

func TestSuggestUserID(t *testing.T) {
	s := newTestStore(t, Options{})
	if id := s.SuggestUserID(); id != "user_9" {
		t.Errorf("expected user_9 first, got %s", id)
	}
	if id := s.SuggestUserID(); id != "user_16" {
		t.Errorf("expected user_16 second, got %s", id)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	s := newTestStore(t, Options{})
	a := s.Resolve("user_9")
	b := s.Resolve("user_9")
	if a != b {
		t.Error("Resolve must return the same session for the same id")
	}
	if s.Count() != 1 {
		t.Errorf("expected one session, got %d", s.Count())
	}
}

func TestRequireUnknownSession(t *testing.T) {
	s := newTestStore(t, Options{})

	if _, err := s.Require("user_9"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}

	// A resolved but empty session is still unknown to callers.
	s.Resolve("user_9")
	if _, err := s.Require("user_9"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession for empty session, got %v", err)
	}
}

func TestDefineToolsCustomDefinition(t *testing.T) {
	s := newTestStore(t, Options{})
	conn := &fakeConn{}

	if err := s.DefineTools(context.Background(), "user_9", askUserDefinition(), conn); err != nil {
		t.Fatalf("DefineTools failed: %v", err)
	}

	registry, ok := s.LookupRegistry("user_9")
	if !ok {
		t.Fatal("expected registry after DefineTools")
	}
	impl, ok := registry.Get("ask_user")
	if !ok {
		t.Fatal("expected tool ask_user in registry")
	}

	desc := impl.Descriptor()
	if desc.Name != "ask_user" || desc.Description != "Asks the user a question." {
		t.Errorf("unexpected descriptor: %+v", desc)
	}
	props := desc.InputSchema.OrderedProperties()
	if len(props) != 2 || props[0].Name != "question" || props[1].Name != "context" {
		t.Errorf("properties not in definition order: %v", props)
	}
	if len(desc.InputSchema.Required) != 2 {
		t.Errorf("expected all supplied properties required, got %v", desc.InputSchema.Required)
	}

	// The internal RPC client must carry the same tool set.
	specs, ok := s.ToolSpecs("user_9")
	if !ok || len(specs) != 1 {
		t.Fatalf("expected one tool spec, got %v (ok=%v)", specs, ok)
	}
	if specs[0].Function.Name != "ask_user" {
		t.Errorf("unexpected tool spec: %+v", specs[0])
	}

	// A toolDefinition hint is sent to the operator UI.
	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one hint message, got %d", len(msgs))
	}
	hint, ok := msgs[0].(protocol.ToolDefinitionMessage)
	if !ok {
		t.Fatalf("expected ToolDefinitionMessage, got %T", msgs[0])
	}
	if hint.ToolTitle != "ask_user" || hint.Param1Name != "question" || hint.Param2Name != "context" {
		t.Errorf("unexpected hint: %+v", hint)
	}
}

func TestDefineToolsReplacesPreviousSet(t *testing.T) {
	s := newTestStore(t, Options{})
	conn := &fakeConn{}
	ctx := context.Background()

	if err := s.DefineTools(ctx, "user_9", askUserDefinition(), conn); err != nil {
		t.Fatalf("first DefineTools failed: %v", err)
	}

	second := protocol.ToolDefinition{
		Title:       "confirm_action",
		Description: "Asks for confirmation.",
		Properties: map[string]protocol.ToolProperty{
			"action": {Type: "string", Description: "The action"},
		},
		PropertyOrder: []string{"action"},
	}
	if err := s.DefineTools(ctx, "user_9", second, conn); err != nil {
		t.Fatalf("second DefineTools failed: %v", err)
	}

	registry, _ := s.LookupRegistry("user_9")
	if registry.Len() != 1 {
		t.Fatalf("expected one tool after replacement, got %d", registry.Len())
	}
	if _, ok := registry.Get("ask_user"); ok {
		t.Error("previous tool set must be gone")
	}
	if _, ok := registry.Get("confirm_action"); !ok {
		t.Error("expected replacement tool confirm_action")
	}
}

func TestDefineToolsRejectsMissingTitle(t *testing.T) {
	s := newTestStore(t, Options{})
	err := s.DefineTools(context.Background(), "user_9", protocol.ToolDefinition{}, &fakeConn{})
	if err == nil {
		t.Fatal("expected error for definition without title")
	}
	// The failed registration must not initialize the session.
	if _, err := s.Require("user_9"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected session to stay unknown, got %v", err)
	}
}

func TestDefineToolsInternalTools(t *testing.T) {
	s := newTestStore(t, Options{Builtins: tool.Builtins(t.TempDir())})
	conn := &fakeConn{}

	def := protocol.ToolDefinition{Title: TitleInternalTools}
	if err := s.DefineTools(context.Background(), "user_9", def, conn); err != nil {
		t.Fatalf("DefineTools failed: %v", err)
	}

	registry, _ := s.LookupRegistry("user_9")
	if registry.Len() != 3 {
		t.Fatalf("expected 3 built-in tools, got %d", registry.Len())
	}
	for _, name := range []string{"get_file_text_by_path", "create_new_file", "find_files_by_glob"} {
		if _, ok := registry.Get(name); !ok {
			t.Errorf("missing built-in tool %s", name)
		}
	}
}

func TestDefineToolsGlossaryDemo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glossary.md")
	if err := os.WriteFile(path, []byte("# MCP\nModel Context Protocol.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	glossary, err := tool.LoadGlossary(path, "")
	if err != nil {
		t.Fatalf("LoadGlossary failed: %v", err)
	}

	s := newTestStore(t, Options{Glossary: glossary})
	conn := &fakeConn{}

	def := protocol.ToolDefinition{Title: TitleGlossaryDemo}
	if err := s.DefineTools(context.Background(), "user_9", def, conn); err != nil {
		t.Fatalf("DefineTools failed: %v", err)
	}

	registry, _ := s.LookupRegistry("user_9")
	if _, ok := registry.Get("glossary-tool"); !ok {
		t.Error("expected glossary-tool in registry")
	}
}

func TestOfferAnswerUnknownSession(t *testing.T) {
	s := newTestStore(t, Options{})
	err := s.OfferAnswer("user_9", map[string]interface{}{"text": "hi"})
	if !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}
}

func TestOfferAnswerReachesMailbox(t *testing.T) {
	s := newTestStore(t, Options{})
	conn := &fakeConn{}
	if err := s.DefineTools(context.Background(), "user_9", askUserDefinition(), conn); err != nil {
		t.Fatalf("DefineTools failed: %v", err)
	}

	if err := s.OfferAnswer("user_9", map[string]interface{}{"text": "hi"}); err != nil {
		t.Fatalf("OfferAnswer failed: %v", err)
	}
	if s.Resolve("user_9").Mailbox().Len() != 1 {
		t.Error("expected the answer in the session mailbox")
	}
}

func TestOnConnectionClosed(t *testing.T) {
	s := newTestStore(t, Options{})
	conn := &fakeConn{}
	if err := s.DefineTools(context.Background(), "user_9", askUserDefinition(), conn); err != nil {
		t.Fatalf("DefineTools failed: %v", err)
	}

	s.OnConnectionClosed(conn)
	if s.Resolve("user_9").Conn() != nil {
		t.Error("expected connection handle to be cleared")
	}

	// The tool set survives the connection loss.
	if _, ok := s.LookupRegistry("user_9"); !ok {
		t.Error("registry must survive connection loss")
	}
}

func TestIdleSweep(t *testing.T) {
	s := newTestStore(t, Options{})
	conn := &fakeConn{}
	if err := s.DefineTools(context.Background(), "user_9", askUserDefinition(), conn); err != nil {
		t.Fatalf("DefineTools failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	s.sweepIdle(10 * time.Millisecond)
	if s.Count() != 0 {
		t.Errorf("expected idle session to be evicted, got %d", s.Count())
	}
}

func TestAuditEvents(t *testing.T) {
	audit := &fakeAudit{}
	s := newTestStore(t, Options{Audit: audit})
	conn := &fakeConn{}
	if err := s.DefineTools(context.Background(), "user_9", askUserDefinition(), conn); err != nil {
		t.Fatalf("DefineTools failed: %v", err)
	}

	s.OnConnectionClosed(conn)
	time.Sleep(20 * time.Millisecond)
	s.sweepIdle(10 * time.Millisecond)

	want := []string{
		"user_9:tools_registered",
		"user_9:connection_closed",
		"user_9:session_evicted",
	}
	got := audit.recorded()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if len(audit.sessions) != 1 || audit.sessions[0] != "user_9" {
		t.Errorf("expected one upserted session, got %v", audit.sessions)
	}
}
