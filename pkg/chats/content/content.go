// Package content defines the content parts that make up LLM messages.
package content

// Part is a piece of content within a message.
// External packages can implement this interface to add custom content types.
type Part interface {
	PartKind() string
}

// Text is a plain text content part.
type Text struct {
	Text string
}

func (t Text) PartKind() string { return "text" }

// ToolCall is an assistant's request to invoke a tool. Arguments holds the
// raw JSON object text as received from the provider, so it can be validated
// and dispatched without an intermediate decode. Metadata carries opaque
// provider data (Gemini thought signatures) that must survive the round-trip
// through the conversation history.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	Metadata  map[string]string
}

func (tc ToolCall) PartKind() string { return "tool_call" }

// ToolResult holds the serialized outcome of one tool invocation, correlated
// to its originating call by ToolCallID.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

func (tr ToolResult) PartKind() string { return "tool_result" }
