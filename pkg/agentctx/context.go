// Package agentctx provides shared context key helpers for propagating agent
// and task identity across package boundaries. It is intentionally
// zero-dependency so pkg/agent, pkg/engine, and tool packages can import it
// without creating cycles.
package agentctx

import "context"

type agentNameCtxKey struct{}

type taskIDCtxKey struct{}

// WithAgentName returns a new context carrying the given agent name.
func WithAgentName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, agentNameCtxKey{}, name)
}

// AgentNameFromContext extracts the agent name from the context.
// Returns "" if no agent name is present.
func AgentNameFromContext(ctx context.Context) string {
	v, _ := ctx.Value(agentNameCtxKey{}).(string)
	return v
}

// WithTaskID returns a new context carrying the given task execution ID.
// Tool handlers use it to key per-task state such as cart drafts.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDCtxKey{}, id)
}

// TaskIDFromContext extracts the task execution ID from the context.
// Returns "" if no task ID is present.
func TaskIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(taskIDCtxKey{}).(string)
	return v
}
