package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/germanamz/shoppy/pkg/agent"
	"github.com/germanamz/shoppy/pkg/agentctx"
	"github.com/germanamz/shoppy/pkg/cart"
	"github.com/germanamz/shoppy/pkg/chats/message"
	"github.com/germanamz/shoppy/pkg/chats/role"
	"github.com/germanamz/shoppy/pkg/modeladapter"
	"github.com/germanamz/shoppy/pkg/prompt"
	"github.com/germanamz/shoppy/pkg/retailer"
	"github.com/germanamz/shoppy/pkg/shoptools"
	"github.com/germanamz/shoppy/pkg/tools/mcpclient"
	"github.com/germanamz/shoppy/pkg/tools/toolbox"
)

// DefaultRetailerBaseURL is used when the retailer config leaves base_url
// empty.
const DefaultRetailerBaseURL = "https://api.vkusvill.ru"

// ErrAgentNotFound is returned when a task or session names an agent that is
// not registered.
var ErrAgentNotFound = errors.New("engine: agent not found")

// TaskResult is the outcome of one task run. When Success is false, Err
// holds the run failure (iteration budget, transport, provider errors) and
// Result is empty.
type TaskResult struct {
	Success bool
	Result  string
	AgentID string
	Err     error
}

// Engine assembles completers, toolboxes, and agent factories from a Config
// and runs tasks against them. Frontends observe activity through the event
// bus and never import lower-level packages directly.
type Engine struct {
	cfg        *Config
	log        *slog.Logger
	events     *EventBus
	registry   *agent.Registry
	completers map[string]modeladapter.Completer
	toolboxes  map[string]*toolbox.ToolBox
	carts      *cart.Store
	mcpClients []*mcpclient.MCPClient

	mu       sync.Mutex
	sessions map[string]*Session
	nextID   int
}

// New validates the config and builds the engine: provider completers, the
// retailer client and shopping toolbox, MCP client toolboxes, and one agent
// factory per agent definition. The context bounds MCP connection setup.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		log:        slog.Default(),
		events:     NewEventBus(),
		registry:   agent.NewRegistry(),
		completers: make(map[string]modeladapter.Completer, len(cfg.Providers)),
		toolboxes:  make(map[string]*toolbox.ToolBox, len(cfg.MCPServers)+1),
		carts:      cart.NewStore(),
		sessions:   make(map[string]*Session),
	}

	baseURL := cfg.Retailer.BaseURL
	if baseURL == "" {
		baseURL = DefaultRetailerBaseURL
	}
	client := retailer.New(baseURL)
	if cfg.Retailer.Timeout != "" {
		d, err := time.ParseDuration(cfg.Retailer.Timeout)
		if err != nil {
			return nil, fmt.Errorf("engine: retailer: invalid timeout %q: %w", cfg.Retailer.Timeout, err)
		}
		client.Client = &http.Client{Timeout: d}
	}

	shop := shoptools.New(client, e.carts)
	e.toolboxes[ShoppingToolBox] = withToolEvents(shop.Tools(), e.events)

	for _, p := range cfg.Providers {
		completer, err := buildCompleter(p)
		if err != nil {
			return nil, fmt.Errorf("engine: provider %q: %w", p.Name, err)
		}
		e.completers[p.Name] = completer
	}

	for _, m := range cfg.MCPServers {
		mc, err := dialMCP(ctx, m)
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("engine: mcp %q: %w", m.Name, err)
		}
		mc.SetLogger(e.log)
		e.mcpClients = append(e.mcpClients, mc)

		tools, err := mc.ListTools(ctx)
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("engine: mcp %q: list tools: %w", m.Name, err)
		}

		tb := toolbox.New()
		tb.Register(tools...)
		e.toolboxes[m.Name] = withToolEvents(tb, e.events)
	}

	for _, a := range cfg.Agents {
		if err := e.registerAgent(a); err != nil {
			_ = e.Close()
			return nil, err
		}
	}

	return e, nil
}

func dialMCP(ctx context.Context, cfg MCPConfig) (*mcpclient.MCPClient, error) {
	if cfg.URL != "" {
		return mcpclient.NewSSE(ctx, cfg.URL)
	}
	return mcpclient.New(ctx, cfg.Command, cfg.Args...)
}

// registerAgent builds the per-agent pieces that are shared across spawns
// (completer, prompt sections, effects, toolbox list) and registers a
// factory producing fresh agents from them.
func (e *Engine) registerAgent(cfg AgentConfig) error {
	providerName := cfg.Provider
	if providerName == "" {
		providerName = e.cfg.Providers[0].Name
	}
	completer := e.completers[providerName]

	sections, err := prompt.LoadFiles(cfg.PromptFiles)
	if err != nil {
		return fmt.Errorf("engine: agent %q: %w", cfg.Name, err)
	}

	effects, err := buildEffects(cfg.Effects)
	if err != nil {
		return fmt.Errorf("engine: agent %q: %w", cfg.Name, err)
	}

	var toolTimeout time.Duration
	if cfg.ToolTimeout != "" {
		toolTimeout, err = time.ParseDuration(cfg.ToolTimeout)
		if err != nil {
			return fmt.Errorf("engine: agent %q: invalid tool_timeout %q: %w", cfg.Name, cfg.ToolTimeout, err)
		}
	}

	boxes := []*toolbox.ToolBox{e.toolboxes[ShoppingToolBox]}
	for _, name := range cfg.Toolboxes {
		if name == ShoppingToolBox {
			continue
		}
		boxes = append(boxes, e.toolboxes[name])
	}

	opts := agent.Options{
		MaxIterations:  cfg.MaxIterations,
		FinalTool:      cfg.FinalTool,
		ToolTimeout:    toolTimeout,
		Middleware:     []agent.Middleware{agent.Recovery(), agent.Logger(e.log, cfg.Name)},
		Effects:        effects,
		PromptSections: prompt.Texts(sections),
	}

	name, description, instructions := cfg.Name, cfg.Description, cfg.Instructions
	e.registry.Register(name, description, func() *agent.Agent {
		a := agent.New(name, description, instructions, completer, opts)
		a.AddToolBoxes(boxes...)
		a.Init()

		return a
	})

	return nil
}

// RunTask spawns a fresh agent for one task and runs it to completion. An
// empty agentName selects the default agent. The task's cart draft is dropped
// when the run returns. The returned error is non-nil only when no agent
// could be spawned; run failures are reported through TaskResult so callers
// can distinguish "task failed" from "bad request".
func (e *Engine) RunTask(ctx context.Context, agentName, task string) (TaskResult, error) {
	name := agentName
	if name == "" {
		name = e.defaultAgentName()
	}

	a, ok := e.registry.Spawn(name)
	if !ok {
		return TaskResult{}, fmt.Errorf("%w: %q", ErrAgentNotFound, name)
	}

	taskID := uuid.NewString()
	ctx = agentctx.WithTaskID(ctx, taskID)
	defer e.carts.Clear(taskID)

	e.events.Publish(Event{
		Kind:   EventAgentStart,
		TaskID: taskID,
		Agent:  name,
		Data:   map[string]any{"task": task},
	})

	a.Chat().Append(message.NewText("user", role.User, task))

	reply, err := a.Run(ctx)
	if err != nil {
		e.events.Publish(Event{
			Kind:   EventError,
			TaskID: taskID,
			Agent:  name,
			Data:   map[string]any{"error": err.Error()},
		})
		e.events.Publish(Event{
			Kind:   EventAgentEnd,
			TaskID: taskID,
			Agent:  name,
			Data:   map[string]any{"success": false},
		})

		return TaskResult{AgentID: a.ID(), Err: err}, nil
	}

	e.events.Publish(Event{
		Kind:   EventAgentEnd,
		TaskID: taskID,
		Agent:  name,
		Data:   map[string]any{"success": true},
	})

	return TaskResult{Success: true, Result: reply.TextContent(), AgentID: a.ID()}, nil
}

// NewSession spawns an agent for a multi-turn conversation. An empty
// agentName selects the default agent. The session keeps one task identity
// across turns so cart state persists between Sends.
func (e *Engine) NewSession(agentName string) (*Session, error) {
	name := agentName
	if name == "" {
		name = e.defaultAgentName()
	}

	a, ok := e.registry.Spawn(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAgentNotFound, name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	s := &Session{
		id:     fmt.Sprintf("session-%d", e.nextID),
		taskID: uuid.NewString(),
		agent:  a,
		engine: e,
		events: e.events,
	}
	e.sessions[s.id] = s

	return s, nil
}

// Session returns a previously created session by ID.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[id]
	return s, ok
}

// dropSession forgets a session. Closing an already dropped session is a
// no-op.
func (e *Engine) dropSession(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.sessions, id)
}

func (e *Engine) defaultAgentName() string {
	if e.cfg.DefaultAgent != "" {
		return e.cfg.DefaultAgent
	}
	return e.cfg.Agents[0].Name
}

// DefaultAgent returns the name used when a task names no agent.
func (e *Engine) DefaultAgent() string { return e.defaultAgentName() }

// Agents lists the registered agents sorted by name.
func (e *Engine) Agents() []agent.Entry { return e.registry.List() }

// Events returns the engine's event bus.
func (e *Engine) Events() *EventBus { return e.events }

// Addr returns the configured HTTP listen address.
func (e *Engine) Addr() string { return e.cfg.Server.Addr }

// Close shuts down the engine's MCP clients. The first close error is
// returned, but all clients are closed regardless.
func (e *Engine) Close() error {
	var firstErr error
	for _, c := range e.mcpClients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.mcpClients = nil

	return firstErr
}
