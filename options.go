package claude

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Default limits applied by applyOptions.
const (
	DefaultInitializeTimeout = 60 * time.Second
	DefaultControlTimeout    = 60 * time.Second
	DefaultCloseGracePeriod  = 5 * time.Second
)

// Options holds every recognised setting for a query. Fields map either to
// CLI arguments, to the initialize request, or to the engine itself.
type Options struct {
	// CLIPath sets the path to the Claude Code CLI. Empty searches PATH and
	// the usual install locations.
	CLIPath string
	// Cwd sets the working directory of the CLI.
	Cwd string
	// Env adds environment variables on top of the current environment.
	Env map[string]string
	// User runs the CLI as another OS user (unix only).
	User string

	Model         string
	FallbackModel string
	// PermissionMode controls tool execution permissions. In
	// PermissionBypassPermissions every can_use_tool request is allowed
	// without consulting CanUseTool.
	PermissionMode           PermissionMode
	PermissionPromptToolName string
	MaxTurns                 int
	MaxBudgetUSD             *float64

	// Tools specifies the base set of tools. Nil keeps the CLI default and an
	// empty slice disables every built-in tool.
	Tools           []string
	AllowedTools    []string
	DisallowedTools []string

	// SystemPrompt replaces the default system prompt when non-nil.
	SystemPrompt       *string
	AppendSystemPrompt string

	// SettingSources selects which filesystem settings the CLI loads. Nil
	// loads none.
	SettingSources []SettingSource
	// Settings is a settings file path or a JSON object.
	Settings   string
	PluginDirs []string
	AddDirs    []string

	McpServers map[string]McpServerConfig
	Agents     map[string]AgentDefinition

	IncludePartialMessages bool
	Betas                  []SdkBeta
	MaxThinkingTokens      *int
	Effort                 Effort
	// OutputSchema requests structured output matching a JSON schema.
	OutputSchema map[string]any

	// ExtraArgs passes arbitrary CLI flags (flag -> value, nil value for
	// boolean flags).
	ExtraArgs map[string]*string

	// Hooks maps hook events to their matcher chains.
	Hooks map[HookEvent][]HookMatcher
	// CanUseTool decides tool permission requests. Without it every request
	// is denied unless PermissionMode bypasses checks.
	CanUseTool PermissionCallback

	// Spawner launches the CLI. Defaults to ExecSpawner.
	Spawner Spawner
	// Stderr receives the CLI's stderr unmodified. Defaults to os.Stderr.
	Stderr io.Writer
	Logger *slog.Logger
	// OnError receives recoverable anomalies: malformed lines, hook and
	// permission callback failures, session id mismatches.
	OnError func(error)

	// MaxBufferSize caps one stdout line in bytes.
	MaxBufferSize     int
	InitializeTimeout time.Duration
	ControlTimeout    time.Duration
	// CloseGracePeriod is how long Close waits after SIGTERM before killing.
	CloseGracePeriod time.Duration
}

// Option is a functional option for configuring Options.
type Option func(*Options)

// WithCLIPath sets the path to the Claude Code CLI.
func WithCLIPath(path string) Option {
	return func(o *Options) { o.CLIPath = path }
}

// WithCwd sets the working directory.
func WithCwd(cwd string) Option {
	return func(o *Options) { o.Cwd = cwd }
}

// WithEnv sets additional environment variables.
func WithEnv(env map[string]string) Option {
	return func(o *Options) { o.Env = env }
}

// WithUser sets the OS user used to run the CLI subprocess.
func WithUser(user string) Option {
	return func(o *Options) { o.User = user }
}

// WithModel sets the AI model.
func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

// WithFallbackModel sets a fallback model.
func WithFallbackModel(model string) Option {
	return func(o *Options) { o.FallbackModel = model }
}

// WithPermissionMode sets the permission mode.
func WithPermissionMode(mode PermissionMode) Option {
	return func(o *Options) { o.PermissionMode = mode }
}

// WithPermissionPromptToolName routes permission prompts to an MCP tool.
func WithPermissionPromptToolName(name string) Option {
	return func(o *Options) { o.PermissionPromptToolName = name }
}

// WithMaxTurns sets the maximum number of turns.
func WithMaxTurns(n int) Option {
	return func(o *Options) { o.MaxTurns = n }
}

// WithMaxBudgetUSD sets the maximum budget in USD.
func WithMaxBudgetUSD(budget float64) Option {
	return func(o *Options) { o.MaxBudgetUSD = &budget }
}

// WithTools sets the base set of tools.
func WithTools(tools ...string) Option {
	return func(o *Options) {
		if tools == nil {
			tools = []string{}
		}
		o.Tools = tools
	}
}

// WithAllowedTools sets additional allowed tools.
func WithAllowedTools(tools ...string) Option {
	return func(o *Options) { o.AllowedTools = tools }
}

// WithDisallowedTools sets tools to disallow.
func WithDisallowedTools(tools ...string) Option {
	return func(o *Options) { o.DisallowedTools = tools }
}

// WithSystemPrompt replaces the system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Options) { o.SystemPrompt = &prompt }
}

// WithAppendSystemPrompt appends to the default system prompt.
func WithAppendSystemPrompt(text string) Option {
	return func(o *Options) { o.AppendSystemPrompt = text }
}

// WithSettingSources specifies setting sources to load.
func WithSettingSources(sources ...SettingSource) Option {
	return func(o *Options) { o.SettingSources = sources }
}

// WithSettings sets the settings file path or JSON string.
func WithSettings(settings string) Option {
	return func(o *Options) { o.Settings = settings }
}

// WithPluginDirs loads local plugins from the given directories.
func WithPluginDirs(dirs ...string) Option {
	return func(o *Options) { o.PluginDirs = dirs }
}

// WithAddDirs sets additional directories.
func WithAddDirs(dirs ...string) Option {
	return func(o *Options) { o.AddDirs = dirs }
}

// WithMcpServers sets MCP server configurations.
func WithMcpServers(servers map[string]McpServerConfig) Option {
	return func(o *Options) { o.McpServers = servers }
}

// WithAgents sets custom agent configurations.
func WithAgents(agents map[string]AgentDefinition) Option {
	return func(o *Options) { o.Agents = agents }
}

// WithIncludePartialMessages enables partial message streaming.
func WithIncludePartialMessages() Option {
	return func(o *Options) { o.IncludePartialMessages = true }
}

// WithBetas enables beta features.
func WithBetas(betas ...SdkBeta) Option {
	return func(o *Options) { o.Betas = betas }
}

// WithMaxThinkingTokens caps extended thinking.
func WithMaxThinkingTokens(tokens int) Option {
	return func(o *Options) { o.MaxThinkingTokens = &tokens }
}

// WithEffort sets the effort level.
func WithEffort(effort Effort) Option {
	return func(o *Options) { o.Effort = effort }
}

// WithOutputSchema requests structured output matching schema.
func WithOutputSchema(schema map[string]any) Option {
	return func(o *Options) { o.OutputSchema = schema }
}

// WithExtraArgs passes arbitrary CLI flags.
func WithExtraArgs(args map[string]*string) Option {
	return func(o *Options) { o.ExtraArgs = args }
}

// WithHooks sets hook configurations.
func WithHooks(hooks map[HookEvent][]HookMatcher) Option {
	return func(o *Options) { o.Hooks = hooks }
}

// WithHook appends one matcher chain for event.
func WithHook(event HookEvent, matcher ToolMatcher, hooks ...HookCallback) Option {
	return func(o *Options) {
		if o.Hooks == nil {
			o.Hooks = make(map[HookEvent][]HookMatcher)
		}
		o.Hooks[event] = append(o.Hooks[event], HookMatcher{Matcher: matcher, Hooks: hooks})
	}
}

// WithCanUseTool sets the tool permission callback.
func WithCanUseTool(cb PermissionCallback) Option {
	return func(o *Options) { o.CanUseTool = cb }
}

// WithSpawner replaces the process launcher.
func WithSpawner(s Spawner) Option {
	return func(o *Options) { o.Spawner = s }
}

// WithStderr sets where the CLI's stderr is copied.
func WithStderr(w io.Writer) Option {
	return func(o *Options) { o.Stderr = w }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithOnError sets the callback for recoverable errors.
func WithOnError(fn func(error)) Option {
	return func(o *Options) { o.OnError = fn }
}

// WithMaxBufferSize sets max bytes accepted for one CLI stdout line.
func WithMaxBufferSize(size int) Option {
	return func(o *Options) { o.MaxBufferSize = size }
}

// WithInitializeTimeout bounds the initialize handshake.
func WithInitializeTimeout(d time.Duration) Option {
	return func(o *Options) { o.InitializeTimeout = d }
}

// WithControlTimeout bounds every other control request.
func WithControlTimeout(d time.Duration) Option {
	return func(o *Options) { o.ControlTimeout = d }
}

// WithCloseGracePeriod sets how long Close waits before killing the CLI.
func WithCloseGracePeriod(d time.Duration) Option {
	return func(o *Options) { o.CloseGracePeriod = d }
}

// applyOptions builds Options from functional options and fills defaults.
func applyOptions(opts []Option) (*Options, error) {
	o := &Options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	if o.CanUseTool != nil {
		if o.PermissionPromptToolName != "" {
			return nil, errors.New("claude: CanUseTool cannot be combined with PermissionPromptToolName")
		}
		o.PermissionPromptToolName = "stdio"
	}
	if o.MaxBufferSize < 0 {
		return nil, errors.New("claude: MaxBufferSize must not be negative")
	}

	if o.Spawner == nil {
		o.Spawner = ExecSpawner{}
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MaxBufferSize == 0 {
		o.MaxBufferSize = defaultMaxBufferSize
	}
	if o.InitializeTimeout <= 0 {
		o.InitializeTimeout = DefaultInitializeTimeout
	}
	// CLAUDE_CODE_STREAM_CLOSE_TIMEOUT (milliseconds) can only raise it.
	if v := os.Getenv("CLAUDE_CODE_STREAM_CLOSE_TIMEOUT"); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil {
			if d := time.Duration(ms * float64(time.Millisecond)); d > o.InitializeTimeout {
				o.InitializeTimeout = d
			}
		}
	}
	if o.ControlTimeout <= 0 {
		o.ControlTimeout = DefaultControlTimeout
	}
	if o.CloseGracePeriod <= 0 {
		o.CloseGracePeriod = DefaultCloseGracePeriod
	}
	return o, nil
}
