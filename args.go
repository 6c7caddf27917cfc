package claude

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// findCLI locates the claude executable on PATH or in common install
// locations. It falls back to "claude" so the spawn error names the binary.
func findCLI() string {
	if path, err := exec.LookPath("claude"); err == nil {
		return path
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		filepath.Join(home, ".npm-global/bin/claude"),
		"/usr/local/bin/claude",
		filepath.Join(home, ".local/bin/claude"),
		filepath.Join(home, "node_modules/.bin/claude"),
		filepath.Join(home, ".yarn/bin/claude"),
		filepath.Join(home, ".claude/local/claude"),
	}
	for _, loc := range locations {
		if info, err := os.Stat(loc); err == nil && !info.IsDir() {
			return loc
		}
	}
	return "claude"
}

// processConfig turns options into a launch description for the Spawner.
func processConfig(opts *Options) ProcessConfig {
	path := opts.CLIPath
	if path == "" {
		path = findCLI()
	}
	return ProcessConfig{
		Path: path,
		Args: buildArgs(opts),
		Env:  buildEnv(opts),
		Dir:  opts.Cwd,
		User: opts.User,
	}
}

// buildArgs maps options to CLI flags. The session always runs in
// bidirectional stream-json mode; the prompt travels on stdin.
func buildArgs(opts *Options) []string {
	args := []string{"--output-format", "stream-json", "--verbose", "--input-format", "stream-json"}
	flag := func(name, value string) { args = append(args, name, value) }
	list := func(name string, values []string) {
		if len(values) > 0 {
			flag(name, strings.Join(values, ","))
		}
	}

	if opts.SystemPrompt != nil {
		flag("--system-prompt", *opts.SystemPrompt)
	}
	if opts.AppendSystemPrompt != "" {
		flag("--append-system-prompt", opts.AppendSystemPrompt)
	}

	if opts.Tools != nil {
		flag("--tools", strings.Join(opts.Tools, ","))
	}
	list("--allowedTools", opts.AllowedTools)
	list("--disallowedTools", opts.DisallowedTools)

	if opts.MaxTurns > 0 {
		flag("--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if opts.MaxBudgetUSD != nil {
		flag("--max-budget-usd", strconv.FormatFloat(*opts.MaxBudgetUSD, 'g', -1, 64))
	}
	if opts.Model != "" {
		flag("--model", opts.Model)
	}
	if opts.FallbackModel != "" {
		flag("--fallback-model", opts.FallbackModel)
	}
	if len(opts.Betas) > 0 {
		betas := make([]string, len(opts.Betas))
		for i, b := range opts.Betas {
			betas[i] = string(b)
		}
		list("--betas", betas)
	}
	if opts.PermissionPromptToolName != "" {
		flag("--permission-prompt-tool", opts.PermissionPromptToolName)
	}
	if opts.PermissionMode != "" {
		flag("--permission-mode", string(opts.PermissionMode))
	}

	if opts.Settings != "" {
		flag("--settings", opts.Settings)
	}
	for _, dir := range opts.AddDirs {
		flag("--add-dir", dir)
	}
	if cfg := mcpConfigArg(opts.McpServers); cfg != "" {
		flag("--mcp-config", cfg)
	}
	if opts.IncludePartialMessages {
		args = append(args, "--include-partial-messages")
	}

	sources := make([]string, len(opts.SettingSources))
	for i, s := range opts.SettingSources {
		sources[i] = string(s)
	}
	flag("--setting-sources", strings.Join(sources, ","))

	for _, dir := range opts.PluginDirs {
		flag("--plugin-dir", dir)
	}
	if opts.MaxThinkingTokens != nil {
		flag("--max-thinking-tokens", strconv.Itoa(*opts.MaxThinkingTokens))
	}
	if opts.Effort != "" {
		flag("--effort", string(opts.Effort))
	}
	if opts.OutputSchema != nil {
		if data, err := json.Marshal(opts.OutputSchema); err == nil {
			flag("--json-schema", string(data))
		}
	}

	// Sorted so the command line is reproducible.
	names := make([]string, 0, len(opts.ExtraArgs))
	for name := range opts.ExtraArgs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		normalized := name
		if !strings.HasPrefix(normalized, "--") {
			normalized = "--" + normalized
		}
		if v := opts.ExtraArgs[name]; v != nil {
			flag(normalized, *v)
		} else {
			args = append(args, normalized)
		}
	}
	return args
}

// mcpConfigArg renders external and in-process MCP servers for --mcp-config.
// In-process servers are declared by name only; their traffic arrives as
// mcp_message control requests.
func mcpConfigArg(servers map[string]McpServerConfig) string {
	if len(servers) == 0 {
		return ""
	}
	forCLI := make(map[string]any, len(servers))
	for name, config := range servers {
		switch cfg := config.(type) {
		case *McpSdkServerConfig:
			forCLI[name] = map[string]any{"type": "sdk", "name": cfg.Name}
		case nil:
		default:
			forCLI[name] = cfg
		}
	}
	if len(forCLI) == 0 {
		return ""
	}
	data, err := json.Marshal(map[string]any{"mcpServers": forCLI})
	if err != nil {
		return ""
	}
	return string(data)
}

// buildEnv returns the child's full environment.
func buildEnv(opts *Options) []string {
	env := os.Environ()
	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+opts.Env[k])
	}
	env = append(env,
		"CLAUDE_CODE_ENTRYPOINT=sdk-go",
		"CLAUDE_AGENT_SDK_VERSION="+Version,
	)
	if opts.Cwd != "" {
		env = append(env, "PWD="+opts.Cwd)
	}
	return env
}
