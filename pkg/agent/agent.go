// Package agent runs the tool-calling loop that drives one shopping task.
// Each iteration asks the model for the next step, executes the tool calls it
// requests, and folds the results back into the conversation. The loop ends
// when the model calls the final-answer tool or the iteration budget runs out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/germanamz/shoppy/pkg/agentctx"
	"github.com/germanamz/shoppy/pkg/chats/chat"
	"github.com/germanamz/shoppy/pkg/chats/content"
	"github.com/germanamz/shoppy/pkg/chats/message"
	"github.com/germanamz/shoppy/pkg/chats/role"
	"github.com/germanamz/shoppy/pkg/modeladapter"
	"github.com/germanamz/shoppy/pkg/tools/toolbox"
)

// ErrBudgetExceeded is returned when the loop exhausts MaxIterations without
// the model calling the final-answer tool.
var ErrBudgetExceeded = errors.New("agent: iteration budget exceeded")

// Defaults applied by Run for zero Options fields.
const (
	DefaultMaxIterations = 10
	DefaultFinalTool     = "final_answer"
	DefaultToolTimeout   = 60 * time.Second
)

// Options configures an Agent.
type Options struct {
	MaxIterations  int           // Loop budget (0 = DefaultMaxIterations).
	FinalTool      string        // Tool whose successful call ends the run ("" = DefaultFinalTool).
	ToolTimeout    time.Duration // Bound on each tool invocation (0 = DefaultToolTimeout).
	Middleware     []Middleware  // Applied around Run().
	Effects        []Effect      // Per-iteration hooks inside the loop.
	PromptSections []string      // Extra system prompt sections, appended in order.
}

// Agent owns one conversation and runs the loop against a Completer. Spawn a
// fresh Agent per task; the chat is not reset between runs.
type Agent struct {
	id           string
	name         string
	description  string
	instructions string
	completer    modeladapter.Completer
	chat         *chat.Chat
	toolboxes    []*toolbox.ToolBox
	options      Options
}

// New creates an Agent with the given configuration. Every agent gets a
// unique ID that identifies the run in task results and logs.
func New(name, description, instructions string, completer modeladapter.Completer, opts Options) *Agent {
	return &Agent{
		id:           uuid.NewString(),
		name:         name,
		description:  description,
		instructions: instructions,
		completer:    completer,
		chat:         chat.New(),
		options:      opts,
	}
}

// ID returns the agent's unique run identifier.
func (a *Agent) ID() string { return a.id }

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent's description.
func (a *Agent) Description() string { return a.description }

// Chat returns the agent's conversation.
func (a *Agent) Chat() *chat.Chat { return a.chat }

// Completer returns the agent's completer.
func (a *Agent) Completer() modeladapter.Completer { return a.completer }

// AddToolBoxes adds toolboxes to the agent. Tools from all boxes are offered
// to the model; the first box that owns a requested name executes it.
func (a *Agent) AddToolBoxes(tbs ...*toolbox.ToolBox) {
	a.toolboxes = append(a.toolboxes, tbs...)
}

// Init builds the system prompt and appends it to the chat. Call this after
// AddToolBoxes so the prompt reflects the final tool configuration. Run calls
// it as a fallback for direct usage.
func (a *Agent) Init() {
	if a.chat.SystemPrompt() == "" {
		a.chat.Append(message.NewText(a.name, role.System, a.buildSystemPrompt()))
	}
}

// Run executes the agent's loop with middleware applied.
func (a *Agent) Run(ctx context.Context) (message.Message, error) {
	var runner Runner = RunnerFunc(a.run)

	// Apply middleware in reverse order so the first middleware is outermost.
	for i := len(a.options.Middleware) - 1; i >= 0; i-- {
		runner = a.options.Middleware[i](runner)
	}

	return runner.Run(ctx)
}

// run is the internal loop.
func (a *Agent) run(ctx context.Context) (message.Message, error) {
	ctx = agentctx.WithAgentName(ctx, a.name)

	a.Init()

	var tools []toolbox.Tool
	for _, tb := range a.toolboxes {
		tools = append(tools, tb.Tools()...)
	}

	maxIterations := a.options.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	for i := range maxIterations {
		if err := a.runEffects(ctx, PhaseBeforeComplete, i); err != nil {
			return message.Message{}, err
		}

		reply, err := a.completer.Complete(ctx, a.chat, tools)
		if err != nil {
			return message.Message{}, fmt.Errorf("agent %s: %w", a.name, err)
		}

		reply.Sender = a.name
		a.chat.Append(reply)

		if err := a.runEffects(ctx, PhaseAfterComplete, i); err != nil {
			return message.Message{}, err
		}

		calls := reply.ToolCalls()
		if len(calls) == 0 {
			// Prose-only reply. Only the final tool ends the run, so spend
			// an iteration and ask again.
			continue
		}

		results := a.dispatch(ctx, calls)

		for _, res := range results {
			a.chat.Append(message.New(a.name, role.Tool, res))
		}

		if answer, ok := a.finalAnswer(calls, results); ok {
			return message.New(a.name, role.Assistant, content.Text{Text: answer}), nil
		}
	}

	return message.Message{}, fmt.Errorf("%w after %d iterations", ErrBudgetExceeded, maxIterations)
}

// dispatch executes all tool calls of one reply concurrently. Results land in
// indexed slots, so they line up with the requesting calls regardless of
// completion order, and a failing call never disturbs its siblings.
func (a *Agent) dispatch(ctx context.Context, calls []content.ToolCall) []content.ToolResult {
	results := make([]content.ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Go(func() {
			results[i] = a.callTool(ctx, tc)
		})
	}
	wg.Wait()

	return results
}

// callTool runs one tool call bounded by ToolTimeout. A timeout folds into an
// IsError result like any other tool failure; it never aborts the loop.
func (a *Agent) callTool(ctx context.Context, tc content.ToolCall) content.ToolResult {
	timeout := a.options.ToolTimeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan content.ToolResult, 1)
	go func() {
		done <- a.call(ctx, tc)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return content.ToolResult{
			ToolCallID: tc.ID,
			Content:    fmt.Sprintf("tool %s: %v", tc.Name, ctx.Err()),
			IsError:    true,
		}
	}
}

// call searches the agent's toolboxes for the named tool and executes it.
func (a *Agent) call(ctx context.Context, tc content.ToolCall) content.ToolResult {
	for _, tb := range a.toolboxes {
		if _, ok := tb.Get(tc.Name); ok {
			return tb.Call(ctx, tc)
		}
	}

	return content.ToolResult{
		ToolCallID: tc.ID,
		Content:    fmt.Sprintf("tool not found: %s", tc.Name),
		IsError:    true,
	}
}

// finalAnswer reports whether the action phase ran the final-answer tool
// without error and returns that tool's result content.
func (a *Agent) finalAnswer(calls []content.ToolCall, results []content.ToolResult) (string, bool) {
	finalTool := a.options.FinalTool
	if finalTool == "" {
		finalTool = DefaultFinalTool
	}

	for i, tc := range calls {
		if tc.Name == finalTool && !results[i].IsError {
			return results[i].Content, true
		}
	}

	return "", false
}

// runEffects evaluates the agent's effects for one phase of one iteration.
func (a *Agent) runEffects(ctx context.Context, phase IterationPhase, iteration int) error {
	for _, e := range a.options.Effects {
		ic := IterationContext{
			Phase:     phase,
			Iteration: iteration,
			Chat:      a.chat,
			Completer: a.completer,
			AgentName: a.name,
		}

		if err := e.Eval(ctx, ic); err != nil {
			return fmt.Errorf("agent %s: effect: %w", a.name, err)
		}
	}

	return nil
}

// buildSystemPrompt assembles the system prompt from identity, instructions,
// configured prompt sections, and tool usage guidance.
func (a *Agent) buildSystemPrompt() string {
	var b strings.Builder

	// Identity.
	fmt.Fprintf(&b, "You are %s.", a.name)
	if a.description != "" {
		fmt.Fprintf(&b, " %s", a.description)
	}
	b.WriteString("\n")

	// Instructions.
	if a.instructions != "" {
		b.WriteString("\n## Instructions\n\n")
		b.WriteString(strings.TrimRight(a.instructions, "\n"))
		b.WriteString("\n")
	}

	// Extra sections loaded from prompt files.
	for _, s := range a.options.PromptSections {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(s)
		b.WriteString("\n")
	}

	finalTool := a.options.FinalTool
	if finalTool == "" {
		finalTool = DefaultFinalTool
	}

	b.WriteString("\n## Tool Usage\n\n")
	fmt.Fprintf(&b, "Work step by step using the available tools. When the task is complete, call %s exactly once with your answer for the user. Never end without calling %s.\n", finalTool, finalTool)

	return b.String()
}
