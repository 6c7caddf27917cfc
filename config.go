package claude

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file form of Options. Unknown keys are rejected when
// parsing, and callbacks can only be set in code.
type Config struct {
	CLIPath string            `yaml:"cli_path"`
	Cwd     string            `yaml:"cwd"`
	Env     map[string]string `yaml:"env"`
	User    string            `yaml:"user"`

	Model                    string   `yaml:"model"`
	FallbackModel            string   `yaml:"fallback_model"`
	PermissionMode           string   `yaml:"permission_mode"`
	PermissionPromptToolName string   `yaml:"permission_prompt_tool"`
	MaxTurns                 int      `yaml:"max_turns"`
	MaxBudgetUSD             *float64 `yaml:"max_budget_usd"`

	Tools           *[]string `yaml:"tools"`
	AllowedTools    []string  `yaml:"allowed_tools"`
	DisallowedTools []string  `yaml:"disallowed_tools"`

	SystemPrompt       *string `yaml:"system_prompt"`
	AppendSystemPrompt string  `yaml:"append_system_prompt"`

	SettingSources []string `yaml:"setting_sources"`
	Settings       string   `yaml:"settings"`
	PluginDirs     []string `yaml:"plugin_dirs"`
	AddDirs        []string `yaml:"add_dirs"`

	McpServers map[string]MCPServerEntry  `yaml:"mcp_servers"`
	Agents     map[string]AgentDefinition `yaml:"agents"`

	IncludePartialMessages bool               `yaml:"include_partial_messages"`
	MaxThinkingTokens      *int               `yaml:"max_thinking_tokens"`
	Effort                 string             `yaml:"effort"`
	ExtraArgs              map[string]*string `yaml:"extra_args"`

	MaxBufferSize     int           `yaml:"max_buffer_size"`
	InitializeTimeout time.Duration `yaml:"initialize_timeout"`
	ControlTimeout    time.Duration `yaml:"control_timeout"`
	CloseGracePeriod  time.Duration `yaml:"close_grace_period"`
}

// MCPServerEntry describes an external MCP server in a config file.
type MCPServerEntry struct {
	Type    string            `yaml:"type"` // "stdio" (default), "sse" or "http"
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML config data and validates it.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch PermissionMode(c.PermissionMode) {
	case "", PermissionDefault, PermissionAcceptEdits, PermissionPlan, PermissionBypassPermissions:
	default:
		return fmt.Errorf("unknown permission_mode %q", c.PermissionMode)
	}
	for _, s := range c.SettingSources {
		switch SettingSource(s) {
		case SettingSourceUser, SettingSourceProject, SettingSourceLocal:
		default:
			return fmt.Errorf("unknown setting source %q", s)
		}
	}
	switch Effort(c.Effort) {
	case "", EffortLow, EffortMedium, EffortHigh, EffortMax:
	default:
		return fmt.Errorf("unknown effort %q", c.Effort)
	}
	for name, srv := range c.McpServers {
		switch srv.Type {
		case "", "stdio":
			if srv.Command == "" {
				return fmt.Errorf("mcp server %s: command is required", name)
			}
		case "sse", "http":
			if srv.URL == "" {
				return fmt.Errorf("mcp server %s: url is required", name)
			}
		default:
			return fmt.Errorf("mcp server %s: unknown type %q", name, srv.Type)
		}
	}
	if c.MaxTurns < 0 || c.MaxBufferSize < 0 {
		return errors.New("max_turns and max_buffer_size must not be negative")
	}
	return nil
}

// Option applies the config. Options given after it override its values.
func (c *Config) Option() Option {
	return func(o *Options) {
		o.CLIPath = c.CLIPath
		o.Cwd = c.Cwd
		o.Env = c.Env
		o.User = c.User
		o.Model = c.Model
		o.FallbackModel = c.FallbackModel
		o.PermissionMode = PermissionMode(c.PermissionMode)
		o.PermissionPromptToolName = c.PermissionPromptToolName
		o.MaxTurns = c.MaxTurns
		o.MaxBudgetUSD = c.MaxBudgetUSD
		if c.Tools != nil {
			o.Tools = append([]string{}, *c.Tools...)
		}
		o.AllowedTools = c.AllowedTools
		o.DisallowedTools = c.DisallowedTools
		o.SystemPrompt = c.SystemPrompt
		o.AppendSystemPrompt = c.AppendSystemPrompt
		o.SettingSources = nil
		for _, s := range c.SettingSources {
			o.SettingSources = append(o.SettingSources, SettingSource(s))
		}
		o.Settings = c.Settings
		o.PluginDirs = c.PluginDirs
		o.AddDirs = c.AddDirs
		if len(c.McpServers) > 0 {
			o.McpServers = make(map[string]McpServerConfig, len(c.McpServers))
			for name, srv := range c.McpServers {
				o.McpServers[name] = srv.serverConfig()
			}
		}
		o.Agents = c.Agents
		o.IncludePartialMessages = c.IncludePartialMessages
		o.MaxThinkingTokens = c.MaxThinkingTokens
		o.Effort = Effort(c.Effort)
		o.ExtraArgs = c.ExtraArgs
		o.MaxBufferSize = c.MaxBufferSize
		o.InitializeTimeout = c.InitializeTimeout
		o.ControlTimeout = c.ControlTimeout
		o.CloseGracePeriod = c.CloseGracePeriod
	}
}

func (e MCPServerEntry) serverConfig() McpServerConfig {
	switch e.Type {
	case "sse":
		return &McpSSEServerConfig{Type: "sse", URL: e.URL, Headers: e.Headers}
	case "http":
		return &McpHTTPServerConfig{Type: "http", URL: e.URL, Headers: e.Headers}
	default:
		return &McpStdioServerConfig{Type: "stdio", Command: e.Command, Args: e.Args, Env: e.Env}
	}
}
