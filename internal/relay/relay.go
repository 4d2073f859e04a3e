// Package relay turns synchronous tool invocations into asynchronous
// round-trips to a human operator on a live connection.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/srogmann/mcp-playground/internal/mailbox"
	"github.com/srogmann/mcp-playground/internal/protocol"
	"github.com/srogmann/mcp-playground/internal/tool"
)

// Conn is the outbound side of a live operator connection.
type Conn interface {
	// SendJSON pushes a message to the operator UI without blocking.
	SendJSON(v interface{}) error
	// Closed reports whether the connection is gone.
	Closed() bool
}

// CallState is the state of one relay call.
type CallState int

// Relay call states. Answered, TimedOut, ConnectionClosed and
// DeliveryFailed are terminal.
const (
	StateCreated CallState = iota
	StateDispatched
	StateAnswered
	StateTimedOut
	StateConnectionClosed
	StateDeliveryFailed
)

// String returns the state name for logging and auditing.
func (s CallState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDispatched:
		return "dispatched"
	case StateAnswered:
		return "answered"
	case StateTimedOut:
		return "timed_out"
	case StateConnectionClosed:
		return "connection_closed"
	case StateDeliveryFailed:
		return "delivery_failed"
	}
	return "unknown"
}

// Recorder persists relay call outcomes for auditing. Implementations must
// tolerate concurrent use; a nil Recorder disables auditing.
type Recorder interface {
	RecordCallStart(ctx context.Context, sessionID, toolName string, params map[string]interface{}) string
	RecordCallEnd(ctx context.Context, callID string, state CallState, result []tool.Content)
}

// Engine orchestrates the suspend/resume protocol for relay calls.
type Engine struct {
	timeout time.Duration
	poll    time.Duration
	audit   Recorder
}

// NewEngine creates a relay engine. timeout bounds the wait for an operator
// answer; poll is the liveness-check interval for connection closure.
func NewEngine(timeout, poll time.Duration, audit Recorder) *Engine {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &Engine{timeout: timeout, poll: poll, audit: audit}
}

// Relay pushes one tool call to the operator and blocks the caller until an
// answer arrives in the session's mailbox, the connection closes, or the
// deadline elapses. The caller cannot distinguish timeout, connection loss
// and delivery failure from the result alone; all three yield an empty
// content list.
func (e *Engine) Relay(ctx context.Context, sessionID string, conn Conn, box *mailbox.Mailbox, desc tool.Descriptor, params map[string]interface{}) []tool.Content {
	var callID string
	if e.audit != nil {
		callID = e.audit.RecordCallStart(ctx, sessionID, desc.Name, params)
	}

	msg := protocol.ToolCallMessage{
		BaseMessage: protocol.BaseMessage{Action: protocol.ActionToolCall},
		ToolRequest: params,
	}
	if err := conn.SendJSON(msg); err != nil {
		log.Printf("Failed to dispatch tool call %s: %v", desc.Name, err)
		e.finish(ctx, callID, StateDeliveryFailed, nil)
		return []tool.Content{}
	}
	log.Printf("Tool call dispatched: session=%s tool=%s", sessionID, desc.Name)

	answer, ok := box.Await(e.timeout, e.poll, func() bool {
		return conn.Closed() || ctx.Err() != nil
	})
	if ok {
		result := []tool.Content{tool.Content(answer)}
		e.finish(ctx, callID, StateAnswered, result)
		return result
	}

	state := StateTimedOut
	if conn.Closed() || ctx.Err() != nil {
		state = StateConnectionClosed
	}
	log.Printf("No tool response for %s: %s", desc.Name, state)
	e.finish(ctx, callID, state, nil)
	return []tool.Content{}
}

func (e *Engine) finish(ctx context.Context, callID string, state CallState, result []tool.Content) {
	if e.audit == nil {
		return
	}
	e.audit.RecordCallEnd(ctx, callID, state, result)
}

// Tool is a relay-backed tool implementation bound to a live connection
// and the session's mailbox.
type Tool struct {
	Desc      tool.Descriptor
	SessionID string
	Conn      Conn
	Box       *mailbox.Mailbox
	Engine    *Engine
}

// Descriptor returns the tool descriptor.
func (t *Tool) Descriptor() tool.Descriptor { return t.Desc }

// Call relays the invocation to the operator.
func (t *Tool) Call(ctx context.Context, params map[string]interface{}) []tool.Content {
	return t.Engine.Relay(ctx, t.SessionID, t.Conn, t.Box, t.Desc, params)
}

// Observed wraps a tool so that every call and response is mirrored to the
// live connection for observability. The wrapped tool's result is returned
// unchanged; the notifications are informational and not gated on any
// acknowledgement.
type Observed struct {
	Impl tool.Implementation
	Conn Conn
	// ResponseField selects a field of the first content item to mirror as
	// the response text; empty mirrors the serialized content list.
	ResponseField string
}

// Descriptor returns the wrapped tool's descriptor.
func (o *Observed) Descriptor() tool.Descriptor { return o.Impl.Descriptor() }

// Call emits toolDefinition and toolRequest notifications, delegates to the
// wrapped tool, and mirrors the produced response.
func (o *Observed) Call(ctx context.Context, params map[string]interface{}) []tool.Content {
	o.sendDefinition()

	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte("{}")
	}
	o.send(protocol.ToolRequestMessage{
		BaseMessage: protocol.BaseMessage{Action: protocol.ActionToolRequest},
		ToolRequest: string(raw),
	})

	result := o.Impl.Call(ctx, params)

	o.send(protocol.ToolResponseEchoMessage{
		BaseMessage:  protocol.BaseMessage{Action: protocol.ActionToolResponseEcho},
		ToolResponse: o.responseText(result),
	})
	return result
}

// sendDefinition announces the tool with its first one or two input
// properties so the operator UI can render the expected fields.
func (o *Observed) sendDefinition() {
	desc := o.Impl.Descriptor()
	msg := protocol.ToolDefinitionMessage{
		BaseMessage:     protocol.BaseMessage{Action: protocol.ActionToolDefinition},
		ToolTitle:       desc.Name,
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
	o.send(msg)
}

func (o *Observed) responseText(result []tool.Content) string {
	if o.ResponseField != "" && len(result) > 0 {
		if text, ok := result[0][o.ResponseField].(string); ok {
			return text
		}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(raw)
}

func (o *Observed) send(v interface{}) {
	if err := o.Conn.SendJSON(v); err != nil {
		log.Printf("Failed to mirror tool event to UI: %v", err)
	}
}
