// Package tool defines tool descriptors, implementations and the
// per-session tool registry.
package tool

import "context"

// Property describes one input property of a tool.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	// Items is the element type for array properties, empty otherwise.
	Items string `json:"items,omitempty"`
}

// InputSchema describes the input of a tool as an ordered set of
// properties plus the required property names.
type InputSchema struct {
	Type string `json:"type"`
	// PropertyNames preserves the definition order of Properties so the
	// operator UI can render the first properties deterministically.
	PropertyNames []string            `json:"-"`
	Properties    map[string]Property `json:"properties"`
	Required      []string            `json:"required"`
}

// OrderedProperties returns the properties in definition order.
func (s InputSchema) OrderedProperties() []NamedProperty {
	props := make([]NamedProperty, 0, len(s.PropertyNames))
	for _, name := range s.PropertyNames {
		if p, ok := s.Properties[name]; ok {
			props = append(props, NamedProperty{Name: name, Property: p})
		}
	}
	return props
}

// NamedProperty pairs a property with its name.
type NamedProperty struct {
	Name string
	Property
}

// Descriptor is a named capability. Immutable once built.
type Descriptor struct {
	Name        string      `json:"name"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// Content is a single content item of a tool result, a mapping with at
// least a "type" field and a type-appropriate payload field.
type Content = map[string]interface{}

// TextContent builds a text content item.
func TextContent(text string) Content {
	return Content{"type": "text", "text": text}
}

// Implementation binds a descriptor to a call behavior.
//
// Call receives the full invocation parameters (at least "name" and
// "arguments") and returns a list of content items. An empty list is a
// legitimate result, not an error; relay-backed implementations return it
// when no operator answer arrived in time.
type Implementation interface {
	Descriptor() Descriptor
	Call(ctx context.Context, params map[string]interface{}) []Content
}

// Func adapts a function to an Implementation.
type Func struct {
	Desc Descriptor
	Fn   func(ctx context.Context, params map[string]interface{}) []Content
}

// Descriptor returns the tool descriptor.
func (f Func) Descriptor() Descriptor { return f.Desc }

// Call invokes the wrapped function.
func (f Func) Call(ctx context.Context, params map[string]interface{}) []Content {
	return f.Fn(ctx, params)
}

// Arguments extracts the "arguments" mapping from invocation parameters.
func Arguments(params map[string]interface{}) map[string]interface{} {
	if args, ok := params["arguments"].(map[string]interface{}); ok {
		return args
	}
	return map[string]interface{}{}
}
