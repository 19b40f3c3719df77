package toolbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/shoppy/pkg/chats/content"
)

func echoHandler(_ context.Context, input json.RawMessage) (string, error) {
	return string(input), nil
}

func errorHandler(_ context.Context, _ json.RawMessage) (string, error) {
	return "", errors.New("tool failed")
}

func newEchoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "Echoes input",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler:     echoHandler,
	}
}

func searchSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"limit": {"type": "integer"}
		},
		"required": ["query"],
		"additionalProperties": false
	}`)
}

func TestNew(t *testing.T) {
	tb := New()
	assert.NotNil(t, tb)
	assert.Empty(t, tb.Tools())
}

func TestRegisterAndGet(t *testing.T) {
	tb := New()
	tool := newEchoTool("echo")

	tb.Register(tool)

	got, ok := tb.Get("echo")
	assert.True(t, ok)
	assert.Equal(t, "echo", got.Name)
}

func TestGetNotFound(t *testing.T) {
	tb := New()

	_, ok := tb.Get("missing")
	assert.False(t, ok)
}

func TestRegisterReplace(t *testing.T) {
	tb := New()
	tb.Register(Tool{
		Name:        "tool",
		Description: "original",
		Handler:     echoHandler,
	})
	tb.Register(Tool{
		Name:        "tool",
		Description: "replaced",
		Handler:     echoHandler,
	})

	got, ok := tb.Get("tool")
	require.True(t, ok)
	assert.Equal(t, "replaced", got.Description)
	assert.Len(t, tb.Tools(), 1)
}

func TestTools(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("x"))
	tb.Register(newEchoTool("y"))

	tools := tb.Tools()
	assert.Len(t, tools, 2)

	names := make(map[string]bool)
	for _, tool := range tools {
		names[tool.Name] = true
	}
	assert.True(t, names["x"])
	assert.True(t, names["y"])
}

func TestMerge(t *testing.T) {
	tb1 := New()
	tb1.Register(newEchoTool("a"), newEchoTool("b"))

	tb2 := New()
	tb2.Register(newEchoTool("c"))

	tb1.Merge(tb2)

	assert.Len(t, tb1.Tools(), 3)
	_, ok := tb1.Get("c")
	assert.True(t, ok)
}

func TestMergeOverwrite(t *testing.T) {
	tb1 := New()
	tb1.Register(Tool{Name: "x", Description: "original", Handler: echoHandler})

	tb2 := New()
	tb2.Register(Tool{Name: "x", Description: "replaced", Handler: echoHandler})

	tb1.Merge(tb2)

	got, ok := tb1.Get("x")
	require.True(t, ok)
	assert.Equal(t, "replaced", got.Description)
	assert.Len(t, tb1.Tools(), 1)
}

func TestFilterSubset(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("a"), newEchoTool("b"), newEchoTool("c"))

	filtered := tb.Filter([]string{"a", "c"})

	assert.Len(t, filtered.Tools(), 2)
	_, ok := filtered.Get("a")
	assert.True(t, ok)
	_, ok = filtered.Get("c")
	assert.True(t, ok)
	_, ok = filtered.Get("b")
	assert.False(t, ok)
}

func TestFilterEmptyReturnsSamePointer(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("a"))

	filtered := tb.Filter(nil)
	assert.Same(t, tb, filtered)

	filtered = tb.Filter([]string{})
	assert.Same(t, tb, filtered)
}

func TestFilterMissingNamesSkipped(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("a"))

	filtered := tb.Filter([]string{"a", "missing", "also_missing"})

	assert.Len(t, filtered.Tools(), 1)
	_, ok := filtered.Get("a")
	assert.True(t, ok)
}

func TestFilterOriginalNotMutated(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("a"), newEchoTool("b"), newEchoTool("c"))

	filtered := tb.Filter([]string{"a"})

	assert.Len(t, tb.Tools(), 3)
	assert.Len(t, filtered.Tools(), 1)
}

func TestCallSuccess(t *testing.T) {
	tb := New()
	tb.Register(newEchoTool("echo"))

	tc := content.ToolCall{
		ID:        "call-1",
		Name:      "echo",
		Arguments: `{"msg":"hi"}`,
	}

	result := tb.Call(context.Background(), tc)
	assert.Equal(t, "call-1", result.ToolCallID)
	assert.JSONEq(t, `{"msg":"hi"}`, result.Content)
	assert.False(t, result.IsError)
}

func TestCallNotFound(t *testing.T) {
	tb := New()

	tc := content.ToolCall{
		ID:   "call-2",
		Name: "missing",
	}

	result := tb.Call(context.Background(), tc)
	assert.Equal(t, "call-2", result.ToolCallID)
	assert.Contains(t, result.Content, "tool not found: missing")
	assert.True(t, result.IsError)
}

func TestCallHandlerError(t *testing.T) {
	tb := New()
	tb.Register(Tool{
		Name:    "fail",
		Handler: errorHandler,
	})

	tc := content.ToolCall{
		ID:   "call-3",
		Name: "fail",
	}

	result := tb.Call(context.Background(), tc)
	assert.Equal(t, "call-3", result.ToolCallID)
	assert.Equal(t, "tool failed", result.Content)
	assert.True(t, result.IsError)
}

func TestCallHandlerPanic(t *testing.T) {
	tb := New()
	tb.Register(Tool{
		Name: "boom",
		Handler: func(_ context.Context, _ json.RawMessage) (string, error) {
			panic("handler exploded")
		},
	})

	tc := content.ToolCall{
		ID:   "call-panic",
		Name: "boom",
	}

	result := tb.Call(context.Background(), tc)
	assert.Equal(t, "call-panic", result.ToolCallID)
	assert.Contains(t, result.Content, "tool boom panicked: handler exploded")
	assert.True(t, result.IsError)
}

func TestCallValidArguments(t *testing.T) {
	tb := New()
	tb.Register(Tool{
		Name:        "search_products",
		Description: "Search the catalog",
		InputSchema: searchSchema(),
		Handler:     echoHandler,
	})

	result := tb.Call(context.Background(), content.ToolCall{
		ID:        "call-4",
		Name:      "search_products",
		Arguments: `{"query":"молоко","limit":5}`,
	})

	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"query":"молоко","limit":5}`, result.Content)
}

func TestCallMissingRequiredArgument(t *testing.T) {
	tb := New()
	tb.Register(Tool{
		Name:        "search_products",
		InputSchema: searchSchema(),
		Handler:     echoHandler,
	})

	result := tb.Call(context.Background(), content.ToolCall{
		ID:        "call-5",
		Name:      "search_products",
		Arguments: `{"limit":5}`,
	})

	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "invalid arguments for search_products")
}

func TestCallUnknownArgumentRejected(t *testing.T) {
	tb := New()
	tb.Register(Tool{
		Name:        "search_products",
		InputSchema: searchSchema(),
		Handler:     echoHandler,
	})

	result := tb.Call(context.Background(), content.ToolCall{
		ID:        "call-6",
		Name:      "search_products",
		Arguments: `{"query":"хлеб","max_price":100}`,
	})

	assert.True(t, result.IsError)
}

func TestCallMalformedArguments(t *testing.T) {
	tb := New()
	tb.Register(Tool{
		Name:        "search_products",
		InputSchema: searchSchema(),
		Handler:     echoHandler,
	})

	result := tb.Call(context.Background(), content.ToolCall{
		ID:        "call-7",
		Name:      "search_products",
		Arguments: `{"query":`,
	})

	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "not valid JSON")
}

func TestCallEmptyArgumentsTreatedAsObject(t *testing.T) {
	tb := New()
	tb.Register(Tool{
		Name:        "cart_view",
		InputSchema: json.RawMessage(`{"type":"object","additionalProperties":false}`),
		Handler:     echoHandler,
	})

	result := tb.Call(context.Background(), content.ToolCall{
		ID:   "call-8",
		Name: "cart_view",
	})

	assert.False(t, result.IsError)
	assert.JSONEq(t, `{}`, result.Content)
}

func TestCallUnparsableSchema(t *testing.T) {
	tb := New()
	tb.Register(Tool{
		Name:        "broken",
		InputSchema: json.RawMessage(`{"type":42}`),
		Handler:     echoHandler,
	})

	result := tb.Call(context.Background(), content.ToolCall{
		ID:        "call-9",
		Name:      "broken",
		Arguments: `{}`,
	})

	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "input schema")
}

func TestValidationErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	verr := &ValidationError{Tool: "cart_add", Err: base}

	assert.ErrorIs(t, verr, base)
	assert.Contains(t, verr.Error(), "cart_add")
}
