// Package main provides a terminal operator client for the playground
// WebSocket endpoint: it registers a tool, prints relayed tool calls and
// sends typed answers back as tool responses.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/srogmann/mcp-playground/internal/protocol"
)

// Client represents an operator WebSocket client.
type Client struct {
	conn   *websocket.Conn
	userID string
	done   chan struct{}
}

// NewClient connects to the playground.
func NewClient(addr string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// InitUser requests a session id proposal and waits for the answer.
func (c *Client) InitUser(userID string) error {
	msg := protocol.InitUserMessage{
		BaseMessage: protocol.BaseMessage{
			Action:   protocol.ActionInitUser,
			UserName: userID,
		},
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write initUser: %w", err)
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read initUser answer: %w", err)
	}

	var ack protocol.InitUserAckMessage
	if err := json.Unmarshal(data, &ack); err != nil {
		return fmt.Errorf("unmarshal initUser answer: %w", err)
	}
	if ack.UserID == "" {
		return fmt.Errorf("initUser failed: %s", string(data))
	}

	c.userID = ack.UserID
	return nil
}

// StartMcp registers a tool definition for the session.
func (c *Client) StartMcp(def protocol.ToolDefinition) error {
	msg := protocol.StartMcpMessage{
		BaseMessage: protocol.BaseMessage{
			Action:   protocol.ActionStartMcp,
			UserName: c.userID,
		},
		Tool: def,
	}
	return c.conn.WriteJSON(msg)
}

// SendToolResponse answers a pending tool call.
func (c *Client) SendToolResponse(response map[string]interface{}) error {
	msg := protocol.ToolResponseMessage{
		BaseMessage: protocol.BaseMessage{
			Action:   protocol.ActionToolResponse,
			UserName: c.userID,
		},
		ToolResponse: response,
	}
	return c.conn.WriteJSON(msg)
}

// ReadMessages reads and prints messages from the server.
func (c *Client) ReadMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read error: %v", err)
				}
				return
			}

			var base protocol.BaseMessage
			if err := json.Unmarshal(data, &base); err != nil {
				log.Printf("Unmarshal error: %v", err)
				continue
			}

			var prettyJSON map[string]interface{}
			json.Unmarshal(data, &prettyJSON)
			formatted, _ := json.MarshalIndent(prettyJSON, "", "  ")
			fmt.Printf("\n[%s] Received:\n%s\n> ", base.Action, string(formatted))
		}
	}
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket server address")
	userID := flag.String("user", "", "Session id (empty requests a proposal)")
	toolTitle := flag.String("tool", "ask_user", "Tool title to register")
	toolDesc := flag.String("desc", "Asks the user a question.", "Tool description")
	flag.Parse()

	log.SetFlags(log.Ltime)

	fmt.Printf("Connecting to %s...\n", *addr)

	client, err := NewClient(*addr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	if err := client.InitUser(*userID); err != nil {
		log.Fatalf("initUser failed: %v", err)
	}
	fmt.Printf("Session established: %s\n", client.userID)

	def := protocol.ToolDefinition{
		Title:       *toolTitle,
		Description: *toolDesc,
		Properties: map[string]protocol.ToolProperty{
			"question": {Type: "string", Description: "The question for the user"},
		},
		PropertyOrder: []string{"question"},
	}
	if err := client.StartMcp(def); err != nil {
		log.Fatalf("startMcp failed: %v", err)
	}
	fmt.Printf("Registered tool %q for session %s\n", *toolTitle, client.userID)
	fmt.Println("\nIncoming tool calls are printed as they arrive.")
	fmt.Println("Type an answer and press Enter to send it as {\"text\": ...}.")
	fmt.Println("Commands: /quit to exit")
	fmt.Println()

	go client.ReadMessages()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		default:
			if !scanner.Scan() {
				return
			}

			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}

			if input == "/quit" {
				fmt.Println("Bye!")
				return
			}

			// A line starting with { is sent as raw JSON response.
			var response map[string]interface{}
			if strings.HasPrefix(input, "{") {
				if err := json.Unmarshal([]byte(input), &response); err != nil {
					log.Printf("Invalid JSON: %v", err)
					continue
				}
			} else {
				response = map[string]interface{}{"text": input}
			}

			if err := client.SendToolResponse(response); err != nil {
				log.Printf("Send error: %v", err)
				continue
			}

			fmt.Println("Answer sent.")
		}
	}
}
