// Package protocol defines the WebSocket message protocol between the
// operator UI and the playground service.
package protocol

import (
	"bytes"
	"encoding/json"
)

// Actions from the operator UI to the service
const (
	ActionInitUser     = "initUser"
	ActionStartMcp     = "startMcp"
	ActionToolResponse = "toolResponse"
)

// Actions from the service to the operator UI
const (
	ActionInitUserAck      = "initUser"
	ActionUIServerStarted  = "uiServerStarted"
	ActionMessage          = "message"
	ActionToolCall         = "toolCall"
	ActionToolDefinition   = "toolDefinition"
	ActionToolRequest      = "toolRequest"
	ActionToolResponseEcho = "toolResponse"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Action   string `json:"action"`
	UserName string `json:"userName,omitempty"`
}

// InitUserMessage requests a session id proposal.
type InitUserMessage struct {
	BaseMessage
}

// InitUserAckMessage carries the proposed session id back to the UI.
type InitUserAckMessage struct {
	BaseMessage
	UserID               string `json:"userId"`
	Message              string `json:"message"`
	GlossaryToolEnabled  bool   `json:"glossaryToolEnabled,omitempty"`
	InternalToolsEnabled bool   `json:"internalToolsEnabled,omitempty"`
}

// ToolProperty describes one input property of a tool definition.
type ToolProperty struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	ItemsType   string `json:"itemsType,omitempty"`
}

// ToolDefinition is the client-supplied tool definition in a startMcp message.
type ToolDefinition struct {
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Properties  map[string]ToolProperty `json:"properties"`
	// PropertyOrder lists the property names in the order they appeared in
	// the JSON document, so the UI hint can show the first properties.
	PropertyOrder []string `json:"-"`
}

// UnmarshalJSON decodes the definition and records the property order.
func (d *ToolDefinition) UnmarshalJSON(data []byte) error {
	type plain ToolDefinition
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = ToolDefinition(p)

	var shadow struct {
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil || len(shadow.Properties) == 0 {
		return nil
	}
	order, err := objectKeyOrder(shadow.Properties)
	if err != nil {
		return nil
	}
	d.PropertyOrder = order
	return nil
}

// objectKeyOrder returns the top-level keys of a JSON object in document
// order.
func objectKeyOrder(data json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	t, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := t.(json.Delim); !ok || delim != '{' {
		return nil, nil
	}

	var keys []string
	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := t.(string)
		if !ok {
			return nil, nil
		}
		keys = append(keys, key)

		// Skip the value.
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// StartMcpMessage registers (or replaces) the tool set of a session.
type StartMcpMessage struct {
	BaseMessage
	Tool ToolDefinition `json:"tool"`
}

// UIServerStartedMessage acknowledges a startMcp request.
type UIServerStartedMessage struct {
	BaseMessage
	URL     string `json:"url"`
	Message string `json:"message"`
}

// ToolResponseMessage carries the operator's answer to a tool call.
type ToolResponseMessage struct {
	BaseMessage
	ToolResponse map[string]interface{} `json:"toolResponse"`
}

// ToolCallMessage notifies the UI about a dispatched tool call.
type ToolCallMessage struct {
	BaseMessage
	ToolRequest map[string]interface{} `json:"toolRequest"`
}

// ToolDefinitionMessage describes the active tool so the UI can render
// its input fields.
type ToolDefinitionMessage struct {
	BaseMessage
	ToolTitle         string `json:"toolTitle"`
	ToolDescription   string `json:"toolDescription"`
	Param1Name        string `json:"param1Name"`
	Param1Description string `json:"param1Description"`
	Param2Name        string `json:"param2Name"`
	Param2Description string `json:"param2Description"`
}

// ToolRequestMessage mirrors the raw serialized call parameters to the UI.
type ToolRequestMessage struct {
	BaseMessage
	ToolRequest string `json:"toolRequest"`
}

// ToolResponseEchoMessage mirrors a produced tool result to the UI.
type ToolResponseEchoMessage struct {
	BaseMessage
	ToolResponse string `json:"toolResponse"`
}

// StatusMessage is a free-form status notification.
type StatusMessage struct {
	BaseMessage
	Message string `json:"message"`
}
