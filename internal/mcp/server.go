package mcp

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/srogmann/mcp-playground/internal/policy"
	"github.com/srogmann/mcp-playground/internal/tool"
)

// CookieUserID carries the session identifier on the MCP and chat surfaces.
const CookieUserID = "MCP_PLAYGROUND_USER_ID"

// Sessions resolves a session id to its current tool registry. The lookup
// fails for sessions that never registered a tool set.
type Sessions interface {
	LookupRegistry(sessionID string) (*tool.Registry, bool)
}

// Server handles MCP JSON-RPC requests for per-session tool sets.
type Server struct {
	sessions Sessions
	policy   *policy.Engine
}

// NewServer creates an MCP server. policyEngine may be nil to disable the
// policy gate.
func NewServer(sessions Sessions, policyEngine *policy.Engine) *Server {
	return &Server{sessions: sessions, policy: policyEngine}
}

// RegisterRoutes registers the MCP endpoint with the echo server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/mcp/", s.HandleRPC)
	e.POST("/mcp", s.HandleRPC)
}

// LookupUserID extracts the session id from the request cookie. A missing
// credential is a request-level error, not a relay fault.
func LookupUserID(c echo.Context) (string, error) {
	cookie, err := c.Cookie(CookieUserID)
	if err != nil || cookie.Value == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Missing user-cookie in request")
	}
	return cookie.Value, nil
}

// HandleRPC dispatches one JSON-RPC request against the session's tools.
func (s *Server) HandleRPC(c echo.Context) error {
	userID, err := LookupUserID(c)
	if err != nil {
		return err
	}

	var req Request
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusOK, errorResponse(nil, CodeParseError, "invalid JSON"))
	}

	registry, ok := s.sessions.LookupRegistry(userID)
	if !ok {
		log.Printf("Missing tool registry for user: %s", userID)
		return echo.NewHTTPError(http.StatusBadRequest, "unknown user-id")
	}

	switch req.Method {
	case "initialize":
		return c.JSON(http.StatusOK, Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: InitializeResult{
				ProtocolVersion: "2025-03-26",
				Capabilities:    map[string]interface{}{"tools": map[string]interface{}{}},
				ServerInfo:      ImplementationInfo{Name: "mcp-playground", Version: "0.1.0"},
			},
		})
	case "notifications/initialized":
		return c.NoContent(http.StatusAccepted)
	case "tools/list":
		return c.JSON(http.StatusOK, Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  s.listTools(registry),
		})
	case "tools/call":
		return s.callTool(c, registry, userID, req)
	default:
		return c.JSON(http.StatusOK, errorResponse(req.ID, CodeMethodNotFound, "method not found: "+req.Method))
	}
}

func (s *Server) listTools(registry *tool.Registry) ListToolsResult {
	descs := registry.List()
	result := ListToolsResult{Tools: make([]ToolInfo, 0, len(descs))}
	for _, desc := range descs {
		result.Tools = append(result.Tools, ToolInfo{
			Name:        desc.Name,
			Title:       desc.Title,
			Description: desc.Description,
			InputSchema: desc.InputSchema,
		})
	}
	return result
}

func (s *Server) callTool(c echo.Context, registry *tool.Registry, userID string, req Request) error {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return c.JSON(http.StatusOK, errorResponse(req.ID, CodeInvalidParams, "invalid tools/call params"))
	}

	impl, ok := registry.Get(params.Name)
	if !ok {
		return c.JSON(http.StatusOK, errorResponse(req.ID, CodeInvalidParams, "unknown tool: "+params.Name))
	}

	if s.policy != nil {
		decision, reason, err := s.policy.Evaluate(c.Request().Context(), map[string]interface{}{
			"tool_name":  params.Name,
			"session_id": userID,
			"args":       params.Arguments,
		})
		if err != nil {
			log.Printf("WARN: policy evaluation failed for %s: %v", params.Name, err)
		} else if decision == "block" {
			log.Printf("Tool call blocked by policy: session=%s tool=%s reason=%s", userID, params.Name, reason)
			return c.JSON(http.StatusOK, Response{
				JSONRPC: "2.0",
				ID:      req.ID,
				Result: CallToolResult{
					Content: []tool.Content{tool.TextContent("tool call blocked by policy")},
					IsError: true,
				},
			})
		}
	}

	callParams := map[string]interface{}{
		"name":      params.Name,
		"arguments": params.Arguments,
	}
	if callParams["arguments"] == nil {
		callParams["arguments"] = map[string]interface{}{}
	}

	// The implementation may block until an operator answers or the relay
	// deadline elapses; an empty content list is a legitimate outcome.
	content := impl.Call(c.Request().Context(), callParams)
	if content == nil {
		content = []tool.Content{}
	}

	return c.JSON(http.StatusOK, Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  CallToolResult{Content: content},
	})
}

func errorResponse(id json.RawMessage, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}
