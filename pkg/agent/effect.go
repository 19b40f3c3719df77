package agent

import (
	"context"

	"github.com/germanamz/shoppy/pkg/chats/chat"
	"github.com/germanamz/shoppy/pkg/modeladapter"
)

// IterationPhase indicates when an effect runs within a single loop iteration.
type IterationPhase int

const (
	// PhaseBeforeComplete runs before the LLM call.
	PhaseBeforeComplete IterationPhase = iota
	// PhaseAfterComplete runs after the LLM reply, before tool dispatch.
	PhaseAfterComplete
)

// IterationContext gives effects access to per-iteration state without
// exposing the full Agent.
type IterationContext struct {
	Phase     IterationPhase
	Iteration int
	Chat      *chat.Chat
	Completer modeladapter.Completer
	AgentName string
}

// Effect is a per-iteration hook that runs inside the loop. Effects run
// synchronously in registration order. Returning an error aborts the run.
type Effect interface {
	Eval(ctx context.Context, ic IterationContext) error
}

// EffectFunc adapts a plain function to the Effect interface.
type EffectFunc func(ctx context.Context, ic IterationContext) error

// Eval calls f(ctx, ic).
func (f EffectFunc) Eval(ctx context.Context, ic IterationContext) error { return f(ctx, ic) }
