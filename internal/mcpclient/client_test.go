package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/srogmann/mcp-playground/internal/mcp"
	"github.com/srogmann/mcp-playground/internal/tool"
)

func TestReplaceTools(t *testing.T) {
	c := New("http://localhost:8080")
	if len(c.Tools()) != 0 {
		t.Fatal("new client should carry no tools")
	}

	c.ReplaceTools([]tool.Descriptor{{Name: "ask_user"}})
	c.ReplaceTools([]tool.Descriptor{{Name: "confirm_action"}, {Name: "pick_option"}})

	descs := c.Tools()
	if len(descs) != 2 {
		t.Fatalf("expected replacement set of 2 tools, got %d", len(descs))
	}
}

func TestToolSpecs(t *testing.T) {
	c := New("http://localhost:8080")
	c.ReplaceTools([]tool.Descriptor{{
		Name:        "ask_user",
		Description: "Asks the user.",
		InputSchema: tool.InputSchema{Type: "object"},
	}})

	specs := c.ToolSpecs()
	if len(specs) != 1 {
		t.Fatalf("expected one spec, got %d", len(specs))
	}
	if specs[0].Type != "function" || specs[0].Function.Name != "ask_user" {
		t.Errorf("unexpected spec: %+v", specs[0])
	}
}

func TestCallTool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mcp/" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		cookie, err := r.Cookie(mcp.CookieUserID)
		if err != nil || cookie.Value != "user_9" {
			t.Fatalf("missing user cookie: %v", err)
		}

		var req mcp.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("invalid request body: %v", err)
		}
		if req.Method != "tools/call" {
			t.Fatalf("unexpected method: %s", req.Method)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"hello"}]}}`)
	}))
	defer server.Close()

	c := New(server.URL)
	content, err := c.CallTool(context.Background(), "user_9", "ask_user", map[string]interface{}{"question": "hi?"})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if len(content) != 1 || content[0]["text"] != "hello" {
		t.Errorf("unexpected content: %v", content)
	}
}

func TestCallToolRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"unknown tool: nope"}}`)
	}))
	defer server.Close()

	c := New(server.URL)
	if _, err := c.CallTool(context.Background(), "user_9", "nope", nil); err == nil {
		t.Fatal("expected error for RPC error response")
	}
}

func TestCallToolHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown user-id", http.StatusBadRequest)
	}))
	defer server.Close()

	c := New(server.URL)
	if _, err := c.CallTool(context.Background(), "user_unknown", "ask_user", nil); err == nil {
		t.Fatal("expected error for HTTP error response")
	}
}
