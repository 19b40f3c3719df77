// Package effects provides loop hooks that keep long shopping conversations
// healthy: trimming bulky tool output and breaking repeated-call loops.
package effects

import (
	"context"
	"unicode/utf8"

	"github.com/germanamz/shoppy/pkg/agent"
	"github.com/germanamz/shoppy/pkg/chats/content"
	"github.com/germanamz/shoppy/pkg/chats/message"
	"github.com/germanamz/shoppy/pkg/chats/role"
)

const (
	defaultMaxResultLength = 500
	defaultPreserveRecent  = 4
	trimmedMetaKey         = "trimmed"
	trimSuffix             = "… [trimmed]"
)

// TrimToolResultsConfig holds parameters for the TrimToolResultsEffect.
type TrimToolResultsConfig struct {
	MaxResultLength int // Max chars for tool result content (default: 500).
	PreserveRecent  int // Keep last N tool-role messages untrimmed (default: 4).
}

// TrimToolResultsEffect trims old tool result content to save tokens.
// Catalog searches return large product JSON that the model only needs while
// it decides the next step; once newer results exist the old ones are cut to
// a prefix. Runs at PhaseAfterComplete and preserves the most recent
// tool-role messages untrimmed.
type TrimToolResultsEffect struct {
	cfg TrimToolResultsConfig
}

// NewTrimToolResultsEffect creates a TrimToolResultsEffect with the given
// configuration, applying defaults for zero values.
func NewTrimToolResultsEffect(cfg TrimToolResultsConfig) *TrimToolResultsEffect {
	if cfg.MaxResultLength <= 0 {
		cfg.MaxResultLength = defaultMaxResultLength
	}
	if cfg.PreserveRecent < 0 {
		cfg.PreserveRecent = defaultPreserveRecent
	}

	return &TrimToolResultsEffect{cfg: cfg}
}

// Eval implements agent.Effect.
func (e *TrimToolResultsEffect) Eval(_ context.Context, ic agent.IterationContext) error {
	if ic.Phase != agent.PhaseAfterComplete || ic.Iteration == 0 {
		return nil
	}

	msgs := ic.Chat.Messages()

	var toolIndices []int
	for i, m := range msgs {
		if m.Role == role.Tool {
			toolIndices = append(toolIndices, i)
		}
	}

	// The last N tool messages stay untouched.
	preserveSet := make(map[int]bool)
	preserveStart := max(len(toolIndices)-e.cfg.PreserveRecent, 0)

	for _, idx := range toolIndices[preserveStart:] {
		preserveSet[idx] = true
	}

	modified := false

	for i := range msgs {
		if msgs[i].Role != role.Tool || preserveSet[i] {
			continue
		}

		if _, ok := msgs[i].GetMeta(trimmedMetaKey); ok {
			continue
		}

		if e.trimMessage(&msgs[i]) {
			modified = true
		}
	}

	if modified {
		ic.Chat.Replace(msgs...)
	}

	return nil
}

// trimMessage trims ToolResult parts that exceed MaxResultLength. Error
// results are kept whole; the model may still need the full failure text.
// Returns true if any part was modified.
func (e *TrimToolResultsEffect) trimMessage(m *message.Message) bool {
	trimmed := false

	for j, p := range m.Parts {
		tr, ok := p.(content.ToolResult)
		if !ok || tr.IsError || len(tr.Content) <= e.cfg.MaxResultLength {
			continue
		}

		// Back off to a rune boundary so Cyrillic product names are not
		// cut mid-character.
		cut := e.cfg.MaxResultLength
		for cut > 0 && !utf8.RuneStart(tr.Content[cut]) {
			cut--
		}

		tr.Content = tr.Content[:cut] + trimSuffix
		m.Parts[j] = tr
		trimmed = true
	}

	if trimmed {
		m.SetMeta(trimmedMetaKey, true)
	}

	return trimmed
}
