package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/germanamz/shoppy/pkg/chats/content"
)

// ValidationError reports tool call arguments rejected before the handler ran,
// either because they are not valid JSON or because they violate the tool's
// InputSchema.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ToolBox orchestrates a collection of tools. It allows registering, retrieving,
// listing, and calling tools. Agents use ToolBox to execute tool calls.
type ToolBox struct {
	tools map[string]*entry
}

// entry pairs a tool with its InputSchema compiled once at registration.
type entry struct {
	tool      Tool
	schema    *jsonschema.Resolved
	schemaErr error
}

func newEntry(t Tool) *entry {
	e := &entry{tool: t}
	if len(t.InputSchema) == 0 {
		return e
	}

	var s jsonschema.Schema
	if err := json.Unmarshal(t.InputSchema, &s); err != nil {
		e.schemaErr = fmt.Errorf("parse input schema: %w", err)
		return e
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		e.schemaErr = fmt.Errorf("resolve input schema: %w", err)
		return e
	}
	e.schema = resolved
	return e
}

func (e *entry) checkArgs(raw []byte) error {
	if e.schemaErr != nil {
		return &ValidationError{Tool: e.tool.Name, Err: e.schemaErr}
	}
	if e.schema == nil {
		return nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return &ValidationError{Tool: e.tool.Name, Err: fmt.Errorf("arguments are not valid JSON: %w", err)}
	}
	if err := e.schema.Validate(value); err != nil {
		return &ValidationError{Tool: e.tool.Name, Err: err}
	}
	return nil
}

// New creates a new ToolBox ready for use.
func New() *ToolBox {
	return &ToolBox{
		tools: make(map[string]*entry),
	}
}

// Register adds one or more tools to the ToolBox, compiling each tool's
// InputSchema. If a tool with the same name already exists, it is replaced.
func (tb *ToolBox) Register(tools ...Tool) {
	for _, t := range tools {
		tb.tools[t.Name] = newEntry(t)
	}
}

// Get returns a tool by name and a boolean indicating whether it was found.
func (tb *ToolBox) Get(name string) (Tool, bool) {
	e, ok := tb.tools[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// Merge registers all tools from another ToolBox into this one. If a tool
// with the same name already exists, it is replaced.
func (tb *ToolBox) Merge(other *ToolBox) {
	for name, e := range other.tools {
		tb.tools[name] = e
	}
}

// Filter returns a ToolBox holding only the named tools. Names that are not
// registered are skipped. An empty name list returns the receiver unchanged.
func (tb *ToolBox) Filter(names []string) *ToolBox {
	if len(names) == 0 {
		return tb
	}

	filtered := New()
	for _, name := range names {
		if e, ok := tb.tools[name]; ok {
			filtered.tools[name] = e
		}
	}
	return filtered
}

// Tools returns all registered tools as a slice.
func (tb *ToolBox) Tools() []Tool {
	result := make([]Tool, 0, len(tb.tools))
	for _, e := range tb.tools {
		result = append(result, e.tool)
	}
	return result
}

// Call executes a tool call and returns a ToolResult. If the tool is not found,
// the arguments fail schema validation, the handler returns an error, or the
// handler panics, the result will have IsError set to true. Call never panics
// out to the caller. Empty arguments are treated as an empty JSON object.
func (tb *ToolBox) Call(ctx context.Context, tc content.ToolCall) (res content.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			res = content.ToolResult{
				ToolCallID: tc.ID,
				Content:    fmt.Sprintf("tool %s panicked: %v", tc.Name, r),
				IsError:    true,
			}
		}
	}()

	e, ok := tb.tools[tc.Name]
	if !ok {
		return content.ToolResult{
			ToolCallID: tc.ID,
			Content:    fmt.Sprintf("tool not found: %s", tc.Name),
			IsError:    true,
		}
	}

	args := strings.TrimSpace(tc.Arguments)
	if args == "" {
		args = "{}"
	}

	if err := e.checkArgs([]byte(args)); err != nil {
		return content.ToolResult{
			ToolCallID: tc.ID,
			Content:    err.Error(),
			IsError:    true,
		}
	}

	result, err := e.tool.Handler(ctx, json.RawMessage(args))
	if err != nil {
		return content.ToolResult{
			ToolCallID: tc.ID,
			Content:    err.Error(),
			IsError:    true,
		}
	}

	return content.ToolResult{
		ToolCallID: tc.ID,
		Content:    result,
	}
}
