// Package mcpclient provides the per-session internal RPC client that is
// pre-registered with the session's tools.
package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/srogmann/mcp-playground/internal/chat"
	"github.com/srogmann/mcp-playground/internal/mcp"
	"github.com/srogmann/mcp-playground/internal/tool"
)

// Client holds a session's registered tool descriptors together with the
// MCP endpoint they are served on. The session rebuilds the registration
// whenever its tool set is replaced, so the client always matches the
// session's tool registry.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	tools []tool.Descriptor
}

// New creates a client for the MCP endpoint at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

// ReplaceTools replaces the registered tool descriptors.
func (c *Client) ReplaceTools(descs []tool.Descriptor) {
	copied := make([]tool.Descriptor, len(descs))
	copy(copied, descs)

	c.mu.Lock()
	c.tools = copied
	c.mu.Unlock()
}

// Tools returns the registered tool descriptors.
func (c *Client) Tools() []tool.Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	descs := make([]tool.Descriptor, len(c.tools))
	copy(descs, c.tools)
	return descs
}

// ToolSpecs returns the registered tools as OpenAI-style tool definitions
// for chat forwarding.
func (c *Client) ToolSpecs() []chat.Tool {
	descs := c.Tools()
	specs := make([]chat.Tool, 0, len(descs))
	for _, desc := range descs {
		specs = append(specs, chat.Tool{
			Type: "function",
			Function: chat.ToolFunction{
				Name:        desc.Name,
				Description: desc.Description,
				Parameters:  desc.InputSchema,
			},
		})
	}
	return specs
}

// CallTool invokes a tool through the MCP endpoint on behalf of sessionID.
// The call may block until the relay resolves.
func (c *Client) CallTool(ctx context.Context, sessionID, name string, args map[string]interface{}) ([]tool.Content, error) {
	req := mcp.Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
	}
	params, err := json.Marshal(mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	req.Params = params

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.AddCookie(&http.Cookie{Name: mcp.CookieUserID, Value: sessionID})

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("MCP error [%d]: %s", httpResp.StatusCode, string(respBody))
	}

	var resp struct {
		Result *mcp.CallToolResult `json:"result"`
		Error  *mcp.Error          `json:"error"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("MCP error [%d]: %s", resp.Error.Code, resp.Error.Message)
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("MCP response without result")
	}
	return resp.Result.Content, nil
}
