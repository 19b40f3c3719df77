package engine

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/germanamz/shoppy/pkg/modeladapter"
	"github.com/germanamz/shoppy/pkg/providers/anthropic"
	"github.com/germanamz/shoppy/pkg/providers/gemini"
	"github.com/germanamz/shoppy/pkg/providers/grok"
	"github.com/germanamz/shoppy/pkg/providers/openai"
)

// Default base URLs used when a provider config leaves base_url empty.
const (
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultGeminiBaseURL    = "https://generativelanguage.googleapis.com"
)

// ProviderFactory builds a Completer from a provider config. Register custom
// kinds with RegisterProvider.
type ProviderFactory func(cfg ProviderConfig) (modeladapter.Completer, error)

var (
	factoryMu   sync.RWMutex
	factories   = map[string]ProviderFactory{}
	defaultsReg sync.Once
)

func ensureDefaults() {
	defaultsReg.Do(func() {
		factories["openai"] = newOpenAI
		factories["anthropic"] = newAnthropic
		factories["gemini"] = newGemini
		factories["grok"] = newGrok
	})
}

// RegisterProvider makes a provider kind available to engine configs. Kinds
// registered here override the builtin factories.
func RegisterProvider(kind string, factory ProviderFactory) {
	ensureDefaults()
	factoryMu.Lock()
	defer factoryMu.Unlock()

	factories[kind] = factory
}

func getFactory(kind string) (ProviderFactory, bool) {
	ensureDefaults()
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factories[kind]
	return f, ok
}

// buildCompleter constructs the completer for one provider config, wrapping
// it with rate limiting when a rate_limit block is present. Errors carry no
// provider name; the caller adds it.
func buildCompleter(cfg ProviderConfig) (modeladapter.Completer, error) {
	factory, ok := getFactory(cfg.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}

	completer, err := factory(cfg)
	if err != nil {
		return nil, err
	}

	if rl := cfg.RateLimit; rl != nil {
		opts := modeladapter.RateLimitOpts{
			InputTPM:   rl.InputTPM,
			OutputTPM:  rl.OutputTPM,
			RPM:        rl.RPM,
			MaxRetries: rl.MaxRetries,
		}
		if rl.BaseDelay != "" {
			d, err := time.ParseDuration(rl.BaseDelay)
			if err != nil {
				return nil, fmt.Errorf("invalid base_delay %q: %w", rl.BaseDelay, err)
			}
			opts.BaseDelay = d
		}
		completer = modeladapter.NewRateLimitedCompleter(completer, opts)
	}

	return completer, nil
}

func newOpenAI(cfg ProviderConfig) (modeladapter.Completer, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	a := openai.New(baseURL, cfg.APIKey, cfg.Model)
	a.Stream = cfg.Stream
	if err := applyModelOptions(&a.ModelAdapter, cfg); err != nil {
		return nil, err
	}

	return a, nil
}

func newAnthropic(cfg ProviderConfig) (modeladapter.Completer, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	a := anthropic.New(baseURL, cfg.APIKey, cfg.Model)
	if err := applyModelOptions(&a.ModelAdapter, cfg); err != nil {
		return nil, err
	}

	return a, nil
}

func newGemini(cfg ProviderConfig) (modeladapter.Completer, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}

	a := gemini.New(baseURL, cfg.APIKey, cfg.Model)
	if err := applyModelOptions(&a.ModelAdapter, cfg); err != nil {
		return nil, err
	}

	return a, nil
}

func newGrok(cfg ProviderConfig) (modeladapter.Completer, error) {
	a := grok.New(cfg.APIKey, nil)
	if cfg.BaseURL != "" {
		a.BaseURL = cfg.BaseURL
	}
	a.Name = cfg.Model
	if err := applyModelOptions(&a.ModelAdapter, cfg); err != nil {
		return nil, err
	}

	return a, nil
}

func applyModelOptions(ma *modeladapter.ModelAdapter, cfg ProviderConfig) error {
	if cfg.Temperature != 0 {
		ma.Temperature = cfg.Temperature
	}
	if cfg.MaxTokens != 0 {
		ma.MaxTokens = cfg.MaxTokens
	}
	if cfg.RequestTimeout != "" {
		d, err := time.ParseDuration(cfg.RequestTimeout)
		if err != nil {
			return fmt.Errorf("invalid request_timeout %q: %w", cfg.RequestTimeout, err)
		}
		ma.Client = &http.Client{Timeout: d}
	}

	return nil
}
