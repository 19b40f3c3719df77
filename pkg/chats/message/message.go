// Package message defines the message type exchanged in conversations.
package message

import (
	"strings"

	"github.com/germanamz/shoppy/pkg/chats/content"
	"github.com/germanamz/shoppy/pkg/chats/role"
)

// Message is a single conversation entry: who sent it, in which role, and its
// content parts. Metadata carries optional out-of-band values (token counts,
// trim markers) that never reach the provider wire.
type Message struct {
	Sender   string
	Role     role.Role
	Parts    []content.Part
	Metadata map[string]any
}

// New creates a Message with the given sender, role, and parts.
func New(sender string, r role.Role, parts ...content.Part) Message {
	return Message{
		Sender: sender,
		Role:   r,
		Parts:  parts,
	}
}

// NewText creates a Message with a single text part.
func NewText(sender string, r role.Role, text string) Message {
	return New(sender, r, content.Text{Text: text})
}

// TextContent concatenates all text parts of the message.
func (m Message) TextContent() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(content.Text); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// ToolCalls returns all tool call parts in declaration order.
func (m Message) ToolCalls() []content.ToolCall {
	var calls []content.ToolCall
	for _, p := range m.Parts {
		if tc, ok := p.(content.ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// ToolResults returns all tool result parts in declaration order.
func (m Message) ToolResults() []content.ToolResult {
	var results []content.ToolResult
	for _, p := range m.Parts {
		if tr, ok := p.(content.ToolResult); ok {
			results = append(results, tr)
		}
	}
	return results
}

// SetMeta stores a metadata value, allocating the map on first use.
func (m *Message) SetMeta(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
}

// GetMeta returns a metadata value and whether it was present.
func (m Message) GetMeta(key string) (any, bool) {
	v, ok := m.Metadata[key]
	return v, ok
}
