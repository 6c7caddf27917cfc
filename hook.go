package claude

import (
	"context"
	"strings"
	"time"
)

// HookEvent represents the type of hook event.
type HookEvent string

const (
	HookPreToolUse         HookEvent = "PreToolUse"
	HookPostToolUse        HookEvent = "PostToolUse"
	HookPostToolUseFailure HookEvent = "PostToolUseFailure"
	HookUserPromptSubmit   HookEvent = "UserPromptSubmit"
	HookStop               HookEvent = "Stop"
	HookSubagentStop       HookEvent = "SubagentStop"
	HookPreCompact         HookEvent = "PreCompact"
	HookNotification       HookEvent = "Notification"
	HookSubagentStart      HookEvent = "SubagentStart"
	HookPermissionRequest  HookEvent = "PermissionRequest"
)

// HookInput represents input data for hook callbacks.
// Use HookEventName field to determine the specific type.
type HookInput struct {
	// Common fields
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Cwd            string `json:"cwd"`
	PermissionMode string `json:"permission_mode,omitempty"`
	HookEventName  string `json:"hook_event_name"`

	// PreToolUse / PostToolUse / PostToolUseFailure / PermissionRequest
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`

	// PostToolUse
	ToolResponse any `json:"tool_response,omitempty"`

	// PostToolUseFailure
	ErrorMsg    string `json:"error,omitempty"`
	IsInterrupt *bool  `json:"is_interrupt,omitempty"`

	// UserPromptSubmit
	Prompt string `json:"prompt,omitempty"`

	// Stop / SubagentStop
	StopHookActive bool `json:"stop_hook_active,omitempty"`

	// SubagentStop / SubagentStart
	AgentID             string `json:"agent_id,omitempty"`
	AgentTranscriptPath string `json:"agent_transcript_path,omitempty"`
	AgentType           string `json:"agent_type,omitempty"`

	// PreCompact
	Trigger            string `json:"trigger,omitempty"`
	CustomInstructions string `json:"custom_instructions,omitempty"`

	// Notification
	NotificationMessage string `json:"message,omitempty"`
	Title               string `json:"title,omitempty"`
	NotificationType    string `json:"notification_type,omitempty"`

	// PermissionRequest
	PermissionSuggestions []any `json:"permission_suggestions,omitempty"`
}

// HookSpecificOutput represents hook-specific output fields.
type HookSpecificOutput struct {
	HookEventName string `json:"hookEventName"`

	// PreToolUse specific
	PermissionDecision       string         `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string         `json:"permissionDecisionReason,omitempty"`
	UpdatedInput             map[string]any `json:"updatedInput,omitempty"`

	// PostToolUse specific
	UpdatedMCPToolOutput any `json:"updatedMCPToolOutput,omitempty"`

	// Common
	AdditionalContext string `json:"additionalContext,omitempty"`

	// PermissionRequest specific
	Decision map[string]any `json:"decision,omitempty"`
}

// HookJSONOutput represents the output from a hook callback. A nil output,
// or one that sets nothing beyond continue=true, passes the event through.
type HookJSONOutput struct {
	// Async mode
	Async        *bool `json:"async,omitempty"`
	AsyncTimeout *int  `json:"asyncTimeout,omitempty"`

	// Sync mode - common control fields
	Continue       *bool  `json:"continue,omitempty"`
	SuppressOutput *bool  `json:"suppressOutput,omitempty"`
	StopReason     string `json:"stopReason,omitempty"`

	// Decision fields
	Decision      string `json:"decision,omitempty"` // "block"
	SystemMessage string `json:"systemMessage,omitempty"`
	Reason        string `json:"reason,omitempty"`

	// Hook-specific output
	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// DenyTool returns a decision that blocks the tool call the event is about.
// It is understood for PreToolUse and PermissionRequest.
func DenyTool(event HookEvent, reason string) *HookJSONOutput {
	out := &HookJSONOutput{
		Decision: "block",
		Reason:   reason,
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName: string(event),
		},
	}
	if event == HookPermissionRequest {
		out.HookSpecificOutput.Decision = map[string]any{"behavior": "deny", "message": reason}
	} else {
		out.HookSpecificOutput.PermissionDecision = "deny"
		out.HookSpecificOutput.PermissionDecisionReason = reason
	}
	return out
}

// AllowTool returns a PreToolUse decision that approves the call, optionally
// replacing its input.
func AllowTool(updatedInput map[string]any) *HookJSONOutput {
	return &HookJSONOutput{
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName:      string(HookPreToolUse),
			PermissionDecision: "allow",
			UpdatedInput:       updatedInput,
		},
	}
}

// HookContext provides context information for hook callbacks.
type HookContext struct {
	Event   HookEvent
	Matcher ToolMatcher
}

// HookCallback observes or alters a hook event. Cancellation and timeouts
// arrive through ctx.
type HookCallback interface {
	Handle(ctx context.Context, input HookInput, toolUseID string, hookCtx HookContext) (*HookJSONOutput, error)
}

// HookFunc adapts a function to HookCallback.
type HookFunc func(ctx context.Context, input HookInput, toolUseID string, hookCtx HookContext) (*HookJSONOutput, error)

// Handle calls f.
func (f HookFunc) Handle(ctx context.Context, input HookInput, toolUseID string, hookCtx HookContext) (*HookJSONOutput, error) {
	return f(ctx, input, toolUseID, hookCtx)
}

type matcherKind uint8

const (
	matchAny matcherKind = iota
	matchNames
)

// ToolMatcher is a tool-name predicate. The zero value matches every tool.
type ToolMatcher struct {
	kind  matcherKind
	names []string
}

// MatchAny matches every tool, including events that name no tool.
func MatchAny() ToolMatcher { return ToolMatcher{} }

// MatchTool matches exactly one tool name.
func MatchTool(name string) ToolMatcher {
	return ToolMatcher{kind: matchNames, names: []string{name}}
}

// MatchTools matches any of the given tool names.
func MatchTools(names ...string) ToolMatcher {
	if len(names) == 0 {
		return MatchAny()
	}
	return ToolMatcher{kind: matchNames, names: append([]string(nil), names...)}
}

// ParseToolMatcher reads the CLI's matcher notation: "" or "*" match every
// tool and "Write|Edit" matches either name.
func ParseToolMatcher(s string) ToolMatcher {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return MatchAny()
	}
	var names []string
	for _, part := range strings.Split(s, "|") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return MatchTools(names...)
}

// Matches reports whether the matcher accepts toolName.
func (m ToolMatcher) Matches(toolName string) bool {
	if m.kind == matchAny {
		return true
	}
	for _, name := range m.names {
		if name == toolName {
			return true
		}
	}
	return false
}

// String renders the matcher in the CLI's notation.
func (m ToolMatcher) String() string {
	if m.kind == matchAny {
		return "*"
	}
	return strings.Join(m.names, "|")
}

// HookMatcher binds a chain of callbacks to the tools its Matcher accepts.
type HookMatcher struct {
	Matcher ToolMatcher
	Hooks   []HookCallback
	// Timeout bounds each callback in the chain. Zero means no local limit.
	Timeout time.Duration
}
