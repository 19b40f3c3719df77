package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/germanamz/shoppy/pkg/tools/toolbox"
)

// MCPClient communicates with an MCP server using the official MCP Go SDK.
// The session stays open for the lifetime of the engine that mounted it and
// is released by Close.
type MCPClient struct {
	client  *mcp.Client
	session *mcp.ClientSession
	logger  *slog.Logger
}

// New spawns an MCP server process and returns a connected client.
// The SDK handles initialization automatically during Connect.
func New(ctx context.Context, command string, args ...string) (*MCPClient, error) {
	transport := &mcp.CommandTransport{
		Command: exec.Command(command, args...), //nolint:gosec // command comes from the config file, not user input
	}

	return newFromTransport(ctx, transport)
}

// NewSSE connects to an SSE-based MCP server at the given URL.
func NewSSE(ctx context.Context, url string) (*MCPClient, error) {
	transport := &mcp.SSEClientTransport{Endpoint: url}

	return newFromTransport(ctx, transport)
}

// newFromTransport creates an MCPClient using the given transport. Used by New
// and useful for testing with InMemoryTransport.
func newFromTransport(ctx context.Context, transport mcp.Transport) (*MCPClient, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "shoppy",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: connect: %w", err)
	}

	return &MCPClient{client: client, session: session}, nil
}

// SetLogger routes skip warnings to l instead of the default logger.
func (c *MCPClient) SetLogger(l *slog.Logger) { c.logger = l }

func (c *MCPClient) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// ListTools fetches available tools from the server and returns them as
// toolbox.Tool instances. Each Tool's Handler closure calls back through
// CallTool. Tools announced without a name or input schema, or with a schema
// that cannot be serialized, are skipped with a log line.
func (c *MCPClient) ListTools(ctx context.Context) ([]toolbox.Tool, error) {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: list tools: %w", err)
	}

	return c.convertTools(result.Tools), nil
}

// convertTools maps SDK tools to toolbox tools, dropping unusable entries.
func (c *MCPClient) convertTools(sdkTools []*mcp.Tool) []toolbox.Tool {
	tools := make([]toolbox.Tool, 0, len(sdkTools))
	for _, sdkTool := range sdkTools {
		if sdkTool.Name == "" || sdkTool.InputSchema == nil {
			c.log().Warn("skipping tool with missing name or input schema", "tool", sdkTool.Name)
			continue
		}

		t, err := fromSDKTool(sdkTool, c)
		if err != nil {
			c.log().Warn("skipping tool with unusable input schema", "tool", sdkTool.Name, "error", err)
			continue
		}

		tools = append(tools, t)
	}

	return tools
}

// CallTool calls a named tool on the server with the given arguments.
func (c *MCPClient) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	var args map[string]any
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return "", fmt.Errorf("mcpclient: unmarshal arguments: %w", err)
		}
	}

	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("mcpclient: call tool: %w", err)
	}

	text := extractText(result)

	if result.IsError {
		return "", fmt.Errorf("mcpclient: tool error: %s", text)
	}

	return text, nil
}

// Close terminates the session and releases resources. The MCP Go SDK handles
// subprocess lifecycle automatically: closing the session closes stdin, waits
// with a timeout, and escalates through SIGTERM/SIGKILL.
func (c *MCPClient) Close() error {
	return c.session.Close()
}

// fromSDKTool converts an SDK *mcp.Tool to a toolbox.Tool. The handler
// closure calls CallTool on the client.
func fromSDKTool(sdkTool *mcp.Tool, c *MCPClient) (toolbox.Tool, error) {
	schemaBytes, err := json.Marshal(sdkTool.InputSchema)
	if err != nil {
		return toolbox.Tool{}, fmt.Errorf("marshal input schema: %w", err)
	}

	name := sdkTool.Name

	return toolbox.Tool{
		Name:        sdkTool.Name,
		Description: sdkTool.Description,
		InputSchema: json.RawMessage(schemaBytes),
		Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
			return c.CallTool(ctx, name, input)
		},
	}, nil
}

// extractText joins all TextContent items from a CallToolResult with newlines.
func extractText(result *mcp.CallToolResult) string {
	var texts []string
	for _, item := range result.Content {
		if tc, ok := item.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	return strings.Join(texts, "\n")
}
