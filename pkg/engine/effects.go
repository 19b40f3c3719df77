package engine

import (
	"fmt"

	"github.com/germanamz/shoppy/pkg/agent"
	"github.com/germanamz/shoppy/pkg/agent/effects"
)

// EffectFactory builds an agent loop effect from config params.
type EffectFactory func(params map[string]any) (agent.Effect, error)

var effectFactories = map[string]EffectFactory{
	"trim_tool_results": newTrimToolResultsEffect,
	"loop_detect":       newLoopDetectEffect,
}

// buildEffects constructs the configured effects in order. Errors carry no
// agent name; the caller adds it.
func buildEffects(cfgs []EffectConfig) ([]agent.Effect, error) {
	if len(cfgs) == 0 {
		return nil, nil
	}

	out := make([]agent.Effect, 0, len(cfgs))
	for i, c := range cfgs {
		factory, ok := effectFactories[c.Kind]
		if !ok {
			return nil, fmt.Errorf("effect[%d]: unknown kind %q", i, c.Kind)
		}

		eff, err := factory(c.Params)
		if err != nil {
			return nil, fmt.Errorf("effect[%d] (%s): %w", i, c.Kind, err)
		}
		out = append(out, eff)
	}

	return out, nil
}

func newTrimToolResultsEffect(params map[string]any) (agent.Effect, error) {
	var cfg effects.TrimToolResultsConfig

	n, err := intParam(params, "max_result_length")
	if err != nil {
		return nil, err
	}
	cfg.MaxResultLength = n

	n, err = intParam(params, "preserve_recent")
	if err != nil {
		return nil, err
	}
	cfg.PreserveRecent = n

	return effects.NewTrimToolResultsEffect(cfg), nil
}

func newLoopDetectEffect(params map[string]any) (agent.Effect, error) {
	var cfg effects.LoopDetectConfig

	n, err := intParam(params, "threshold")
	if err != nil {
		return nil, err
	}
	cfg.Threshold = n

	n, err = intParam(params, "window_size")
	if err != nil {
		return nil, err
	}
	cfg.WindowSize = n

	return effects.NewLoopDetectEffect(cfg), nil
}

// intParam reads an optional integer param. YAML gives int, JSON float64;
// both are accepted.
func intParam(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, nil
	}

	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("param %q: expected a number, got %T", key, v)
	}
}
