package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ShoppingToolBox is the builtin toolbox every agent receives. Agent toolbox
// lists may name it explicitly alongside MCP server names; doing so is a
// no-op since it is always mounted.
const ShoppingToolBox = "shopping"

// Config is the root configuration, typically loaded from config.yaml.
// Agent definitions can live inline under agents or in a separate file
// referenced by agents_file; both lists are merged.
type Config struct {
	Server       ServerConfig     `yaml:"server"`
	Retailer     RetailerConfig   `yaml:"retailer"`
	Providers    []ProviderConfig `yaml:"providers"`
	MCPServers   []MCPConfig      `yaml:"mcp_servers"`
	DefaultAgent string           `yaml:"default_agent"`
	AgentsFile   string           `yaml:"agents_file"`
	Agents       []AgentConfig    `yaml:"agents"`
}

// ServerConfig configures the HTTP facade.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// RetailerConfig configures the retailer API client shared by the shopping
// toolbox. Timeout is a Go duration string.
type RetailerConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// ProviderConfig describes one LLM provider. Kind selects the adapter
// ("openai", "anthropic", "gemini", "grok", or anything added via
// RegisterProvider). RequestTimeout is a Go duration string bounding one
// completion request; empty keeps the adapter default.
type ProviderConfig struct {
	Name           string           `yaml:"name"`
	Kind           string           `yaml:"kind"`
	BaseURL        string           `yaml:"base_url"`
	APIKey         string           `yaml:"api_key"`
	Model          string           `yaml:"model"`
	Temperature    float64          `yaml:"temperature"`
	MaxTokens      int              `yaml:"max_tokens"`
	RequestTimeout string           `yaml:"request_timeout"`
	Stream         bool             `yaml:"stream"`
	RateLimit      *RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig enables client-side rate limiting for a provider. Zero
// fields fall back to the limiter's defaults. BaseDelay is a Go duration
// string.
type RateLimitConfig struct {
	InputTPM   int    `yaml:"input_tpm"`
	OutputTPM  int    `yaml:"output_tpm"`
	RPM        int    `yaml:"rpm"`
	MaxRetries int    `yaml:"max_retries"`
	BaseDelay  string `yaml:"base_delay"`
}

// MCPConfig describes an MCP server whose tools become a named toolbox.
// Exactly one of Command (stdio transport) or URL (SSE transport) must be
// set.
type MCPConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	URL     string   `yaml:"url"`
}

// AgentConfig describes one agent definition. Provider defaults to the first
// configured provider. ToolTimeout is a Go duration string.
type AgentConfig struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	Instructions  string         `yaml:"instructions"`
	Provider      string         `yaml:"provider"`
	Toolboxes     []string       `yaml:"toolboxes"`
	PromptFiles   []string       `yaml:"prompt_files"`
	MaxIterations int            `yaml:"max_iterations"`
	FinalTool     string         `yaml:"final_tool"`
	ToolTimeout   string         `yaml:"tool_timeout"`
	Effects       []EffectConfig `yaml:"effects"`
}

// EffectConfig describes one agent loop effect by kind with free-form
// parameters.
type EffectConfig struct {
	Kind   string         `yaml:"kind"`
	Params map[string]any `yaml:"params"`
}

// LoadConfig reads a YAML config file, expanding ${VAR} references from the
// environment before parsing. If agents_file is set it is loaded relative to
// the config file's directory and its agents are appended. Relative
// prompt_files paths resolve against the directory of the file that declared
// them.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from the CLI flag, not user input
	if err != nil {
		return nil, fmt.Errorf("engine: load config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return nil, fmt.Errorf("engine: parse config: %w", err)
	}

	dir := filepath.Dir(path)
	resolvePromptFiles(cfg.Agents, dir)

	if cfg.AgentsFile != "" {
		agentsPath := cfg.AgentsFile
		if !filepath.IsAbs(agentsPath) {
			agentsPath = filepath.Join(dir, agentsPath)
		}

		raw, err := os.ReadFile(agentsPath) //nolint:gosec // path comes from the config file, not user input
		if err != nil {
			return nil, fmt.Errorf("engine: load agents file: %w", err)
		}

		var extra struct {
			Agents []AgentConfig `yaml:"agents"`
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &extra); err != nil {
			return nil, fmt.Errorf("engine: parse agents file: %w", err)
		}

		resolvePromptFiles(extra.Agents, filepath.Dir(agentsPath))
		cfg.Agents = append(cfg.Agents, extra.Agents...)
	}

	return &cfg, nil
}

func resolvePromptFiles(agents []AgentConfig, dir string) {
	for i := range agents {
		for j, p := range agents[i].PromptFiles {
			if !filepath.IsAbs(p) {
				agents[i].PromptFiles[j] = filepath.Join(dir, p)
			}
		}
	}
}

// Validate checks the configuration for structural problems: missing
// required fields, duplicate names, and references to undefined providers,
// toolboxes, or agents.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("engine: config: at least one provider is required")
	}

	providers := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("engine: config: provider[%d]: name is required", i)
		}
		if p.Kind == "" {
			return fmt.Errorf("engine: config: provider %q: kind is required", p.Name)
		}
		if providers[p.Name] {
			return fmt.Errorf("engine: config: duplicate provider %q", p.Name)
		}
		providers[p.Name] = true
	}

	mcps := make(map[string]bool, len(c.MCPServers))
	for i, m := range c.MCPServers {
		if m.Name == "" {
			return fmt.Errorf("engine: config: mcp_servers[%d]: name is required", i)
		}
		if (m.Command == "") == (m.URL == "") {
			return fmt.Errorf("engine: config: mcp %q: exactly one of command or url is required", m.Name)
		}
		if mcps[m.Name] {
			return fmt.Errorf("engine: config: duplicate mcp server %q", m.Name)
		}
		mcps[m.Name] = true
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("engine: config: at least one agent is required")
	}

	agents := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("engine: config: agent[%d]: name is required", i)
		}
		if agents[a.Name] {
			return fmt.Errorf("engine: config: duplicate agent %q", a.Name)
		}
		agents[a.Name] = true

		if a.Provider != "" && !providers[a.Provider] {
			return fmt.Errorf("engine: config: agent %q: unknown provider %q", a.Name, a.Provider)
		}
		for _, tb := range a.Toolboxes {
			if tb != ShoppingToolBox && !mcps[tb] {
				return fmt.Errorf("engine: config: agent %q: unknown toolbox %q", a.Name, tb)
			}
		}
	}

	if c.DefaultAgent != "" && !agents[c.DefaultAgent] {
		return fmt.Errorf("engine: config: default agent %q is not defined", c.DefaultAgent)
	}

	return nil
}
