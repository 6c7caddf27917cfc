package claude

// SettingSource represents where settings are loaded from.
type SettingSource string

const (
	SettingSourceUser    SettingSource = "user"
	SettingSourceProject SettingSource = "project"
	SettingSourceLocal   SettingSource = "local"
)

// AgentDefinition describes a custom subagent. Definitions are sent with the
// initialize request.
type AgentDefinition struct {
	Description string   `json:"description" yaml:"description"`
	Prompt      string   `json:"prompt" yaml:"prompt"`
	Tools       []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"` // "sonnet", "opus", "haiku", "inherit"
}

func (a AgentDefinition) toWire() map[string]any {
	m := map[string]any{
		"description": a.Description,
		"prompt":      a.Prompt,
	}
	if len(a.Tools) > 0 {
		m["tools"] = a.Tools
	}
	if a.Model != "" {
		m["model"] = a.Model
	}
	return m
}

// SdkBeta represents SDK beta features.
type SdkBeta string

const (
	SdkBetaContext1M SdkBeta = "context-1m-2025-08-07"
)

// Effort represents the effort level for thinking depth.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
	EffortMax    Effort = "max"
)
