// Package ws provides the WebSocket endpoint for operator UI connections.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/srogmann/mcp-playground/internal/config"
	"github.com/srogmann/mcp-playground/internal/hub"
	"github.com/srogmann/mcp-playground/internal/protocol"
	"github.com/srogmann/mcp-playground/internal/session"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	sessions *session.Store
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, sessions *session.Store) *Server {
	return &Server{
		cfg:      cfg,
		hub:      h,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Playground runs on localhost, allow all origins
				return true
			},
		},
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages by action. Malformed or
// unknown messages are logged and dropped, the connection stays open.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		log.Printf("Dropping invalid JSON message from %s: %v", conn.ID, err)
		return
	}

	switch baseMsg.Action {
	case protocol.ActionInitUser:
		s.handleInitUser(conn, data)
	case protocol.ActionStartMcp:
		s.handleStartMcp(conn, data)
	case protocol.ActionToolResponse:
		s.handleToolResponse(conn, data)
	default:
		log.Printf("Dropping message with unknown action %q from %s", baseMsg.Action, conn.ID)
	}
}

// handleInitUser proposes a session id to a new operator.
func (s *Server) handleInitUser(conn *hub.Connection, data []byte) {
	var msg protocol.InitUserMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Dropping invalid initUser message from %s: %v", conn.ID, err)
		return
	}

	userID := msg.UserName
	if userID == "" {
		userID = s.sessions.SuggestUserID()
	}

	ack := protocol.InitUserAckMessage{
		BaseMessage:          protocol.BaseMessage{Action: protocol.ActionInitUserAck, UserName: userID},
		UserID:               userID,
		Message:              fmt.Sprintf("Initial user: %s", userID),
		GlossaryToolEnabled:  s.sessions.HasGlossary(),
		InternalToolsEnabled: s.sessions.HasBuiltins(),
	}
	if err := conn.SendJSON(ack); err != nil {
		log.Printf("Failed to send initUser ack to %s: %v", conn.ID, err)
		return
	}

	log.Printf("Proposed user id %s on connection %s", userID, conn.ID)
}

// handleStartMcp registers the tool set of the message's session and binds
// the connection to it.
func (s *Server) handleStartMcp(conn *hub.Connection, data []byte) {
	var msg protocol.StartMcpMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Dropping invalid startMcp message from %s: %v", conn.ID, err)
		return
	}
	if msg.UserName == "" {
		log.Printf("Dropping startMcp without userName from %s", conn.ID)
		return
	}

	s.hub.BindSession(conn, msg.UserName)

	ctx := context.Background()
	if err := s.sessions.DefineTools(ctx, msg.UserName, msg.Tool, conn); err != nil {
		log.Printf("Failed to define tools for session %s: %v", msg.UserName, err)
		status := protocol.StatusMessage{
			BaseMessage: protocol.BaseMessage{Action: protocol.ActionMessage, UserName: msg.UserName},
			Message:     fmt.Sprintf("Tool registration failed: %v", err),
		}
		if err := conn.SendJSON(status); err != nil {
			log.Printf("Failed to send status to %s: %v", conn.ID, err)
		}
		return
	}

	started := protocol.UIServerStartedMessage{
		BaseMessage: protocol.BaseMessage{Action: protocol.ActionUIServerStarted, UserName: msg.UserName},
		URL:         "/chat/",
		Message:     fmt.Sprintf("Hi %s! MCP-server has been started.", msg.UserName),
	}
	if err := conn.SendJSON(started); err != nil {
		log.Printf("Failed to send uiServerStarted to %s: %v", conn.ID, err)
	}
}

// handleToolResponse deposits an operator answer for a pending tool call.
func (s *Server) handleToolResponse(conn *hub.Connection, data []byte) {
	var msg protocol.ToolResponseMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Dropping invalid toolResponse message from %s: %v", conn.ID, err)
		return
	}

	sessionID := msg.UserName
	if sessionID == "" {
		sessionID = conn.SessionID
	}
	if sessionID == "" {
		log.Printf("Dropping toolResponse without session from %s", conn.ID)
		return
	}
	if msg.ToolResponse == nil {
		log.Printf("Dropping toolResponse without payload from %s", conn.ID)
		return
	}

	if err := s.sessions.OfferAnswer(sessionID, msg.ToolResponse); err != nil {
		log.Printf("Dropping toolResponse for %s: %v", sessionID, err)
		return
	}
	log.Printf("Tool response received for session %s", sessionID)

	// Let every connection of the session see that the answer was taken,
	// not just the one that sent it.
	status := protocol.StatusMessage{
		BaseMessage: protocol.BaseMessage{Action: protocol.ActionMessage, UserName: sessionID},
		Message:     "Tool response accepted.",
	}
	if err := s.hub.BroadcastJSON(sessionID, status); err != nil {
		log.Printf("Failed to broadcast toolResponse status for %s: %v", sessionID, err)
	}
}
