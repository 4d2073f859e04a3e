package chat

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/srogmann/mcp-playground/internal/mcp"
)

// ToolSource supplies the tool definitions registered for a session.
type ToolSource interface {
	ToolSpecs(sessionID string) ([]Tool, bool)
}

// Handler forwards chat requests to the LLM endpoint on behalf of a
// session, injecting the session's registered tools.
type Handler struct {
	client *Client
	tools  ToolSource
}

// NewHandler creates a chat handler.
func NewHandler(client *Client, tools ToolSource) *Handler {
	return &Handler{client: client, tools: tools}
}

// RegisterRoutes registers the chat routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/chat/v1/chat/completions", h.ChatCompletions)
	e.GET("/chat/props", h.Props)
	e.GET("/chat/slots", h.Slots)
}

// ChatCompletions forwards a chat completion request for the session
// identified by the user cookie.
// POST /chat/v1/chat/completions
func (h *Handler) ChatCompletions(c echo.Context) error {
	userID, err := mcp.LookupUserID(c)
	if err != nil {
		return err
	}

	var req ChatCompletionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: &APIError{Message: "invalid request body", Type: "invalid_request_error"},
		})
	}
	if len(req.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: &APIError{Message: "messages is required", Type: "invalid_request_error", Param: "messages"},
		})
	}

	// Inject the session's tools so the model can request relay-backed
	// calls. Client-supplied tools are replaced, not merged.
	if specs, ok := h.tools.ToolSpecs(userID); ok && len(specs) > 0 {
		req.Tools = specs
	}

	ctx := c.Request().Context()

	if req.Stream {
		c.Response().Header().Set("Content-Type", "text/event-stream")
		c.Response().Header().Set("Cache-Control", "no-cache")
		c.Response().WriteHeader(http.StatusOK)

		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
		}

		err := h.client.CreateChatCompletionStream(ctx, &req, func(chunk *StreamChunk) error {
			data, err := json.Marshal(chunk)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", data); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		})
		fmt.Fprintf(c.Response().Writer, "data: [DONE]\n\n")
		flusher.Flush()
		if err != nil {
			log.Printf("ERROR: LLM streaming request failed: %v", err)
		}
		return nil
	}

	resp, err := h.client.CreateChatCompletion(ctx, &req)
	if err != nil {
		log.Printf("ERROR: LLM request failed: %v", err)
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: &APIError{Message: err.Error(), Type: "upstream_error"},
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// Props reports UI properties of the chat frontend.
// GET /chat/props
func (h *Handler) Props(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"default_generation_settings": map[string]interface{}{
			"n_ctx": 32768,
		},
		"total_slots": 1,
	})
}

// Slots reports processing slots of the chat frontend.
// GET /chat/slots
func (h *Handler) Slots(c echo.Context) error {
	return c.JSON(http.StatusOK, []map[string]interface{}{
		{"id": 0, "n_ctx": 32768, "speculative": false, "is_processing": false},
	})
}
