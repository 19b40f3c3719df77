package effects

import (
	"context"
	"fmt"
	"strings"

	"github.com/germanamz/shoppy/pkg/agent"
	"github.com/germanamz/shoppy/pkg/chats/content"
	"github.com/germanamz/shoppy/pkg/chats/message"
	"github.com/germanamz/shoppy/pkg/chats/role"
)

const (
	defaultLoopThreshold  = 3
	defaultLoopWindowSize = 10
	loopKeySep            = "\x00"
)

// LoopDetectConfig holds parameters for the LoopDetectEffect.
type LoopDetectConfig struct {
	Threshold  int // Consecutive identical calls before intervention (default: 3).
	WindowSize int // Sliding window of tool calls to track (default: 10).
}

// LoopDetectEffect detects when the model is stuck repeating the same tool
// call, such as re-searching an out-of-stock product with identical
// arguments, and injects an intervention message. Runs at PhaseBeforeComplete
// when Iteration > 0.
type LoopDetectEffect struct {
	cfg LoopDetectConfig
}

// NewLoopDetectEffect creates a LoopDetectEffect with the given
// configuration, applying defaults for zero or negative values.
func NewLoopDetectEffect(cfg LoopDetectConfig) *LoopDetectEffect {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultLoopThreshold
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = defaultLoopWindowSize
	}

	return &LoopDetectEffect{cfg: cfg}
}

// Eval implements agent.Effect.
func (e *LoopDetectEffect) Eval(_ context.Context, ic agent.IterationContext) error {
	if ic.Phase != agent.PhaseBeforeComplete || ic.Iteration == 0 {
		return nil
	}

	toolName, count := e.detectLoop(ic)
	if count >= e.cfg.Threshold {
		ic.Chat.Append(message.NewText("", role.User,
			fmt.Sprintf("You have called %s with the same arguments %d times. This is not making progress. Try a different approach, or finish the task with what you already know.", toolName, count),
		))
	}

	return nil
}

// detectLoop scans assistant messages from the end of the chat for ToolCall
// parts, up to WindowSize entries, and counts consecutive identical calls at
// the tail. Identity is tool name plus raw argument text.
func (e *LoopDetectEffect) detectLoop(ic agent.IterationContext) (string, int) {
	msgs := ic.Chat.Messages()

	var keys []string

	for i := len(msgs) - 1; i >= 0 && len(keys) < e.cfg.WindowSize; i-- {
		if msgs[i].Role != role.Assistant {
			continue
		}

		for _, p := range msgs[i].Parts {
			tc, ok := p.(content.ToolCall)
			if !ok {
				continue
			}

			keys = append(keys, tc.Name+loopKeySep+tc.Arguments)
		}
	}

	if len(keys) == 0 {
		return "", 0
	}

	// keys[0] is the most recent call.
	latest := keys[0]
	count := 0

	for _, k := range keys {
		if k != latest {
			break
		}
		count++
	}

	toolName, _, _ := strings.Cut(latest, loopKeySep)

	return toolName, count
}
