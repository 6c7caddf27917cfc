package claude

// Message is a sealed interface representing conversational messages from
// Claude Code. Use a type switch to handle specific message types.
type Message interface {
	messageType() string
	session() string
}

// AssistantMessageError represents possible error types in assistant messages.
type AssistantMessageError string

const (
	AssistantErrorAuthenticationFailed AssistantMessageError = "authentication_failed"
	AssistantErrorBillingError         AssistantMessageError = "billing_error"
	AssistantErrorRateLimit            AssistantMessageError = "rate_limit"
	AssistantErrorInvalidRequest       AssistantMessageError = "invalid_request"
	AssistantErrorServerError          AssistantMessageError = "server_error"
	AssistantErrorUnknown              AssistantMessageError = "unknown"
)

// UserMessage represents a user message, including tool results echoed back
// by the CLI.
type UserMessage struct {
	Content         any            `json:"content"` // string | []ContentBlock
	UUID            string         `json:"uuid,omitempty"`
	SessionID       string         `json:"session_id"`
	ParentToolUseID string         `json:"parent_tool_use_id,omitempty"`
	ToolUseResult   map[string]any `json:"tool_use_result,omitempty"`
}

func (m *UserMessage) messageType() string { return "user" }
func (m *UserMessage) session() string     { return m.SessionID }

// AssistantMessage represents an assistant message with content blocks.
type AssistantMessage struct {
	Content         []ContentBlock        `json:"content"`
	Model           string                `json:"model"`
	UUID            string                `json:"uuid,omitempty"`
	SessionID       string                `json:"session_id"`
	ParentToolUseID string                `json:"parent_tool_use_id,omitempty"`
	Error           AssistantMessageError `json:"error,omitempty"`
}

func (m *AssistantMessage) messageType() string { return "assistant" }
func (m *AssistantMessage) session() string     { return m.SessionID }

// Text concatenates the message's text blocks.
func (m *AssistantMessage) Text() string {
	var out string
	for _, block := range m.Content {
		if tb, ok := block.(*TextBlock); ok {
			out += tb.Text
		}
	}
	return out
}

// SystemMessage represents a system message with metadata. For the "init"
// subtype the session fields are decoded; Data always holds the raw record.
type SystemMessage struct {
	Subtype        string         `json:"subtype"`
	SessionID      string         `json:"session_id,omitempty"`
	Model          string         `json:"model,omitempty"`
	PermissionMode string         `json:"permissionMode,omitempty"`
	Tools          []string       `json:"tools,omitempty"`
	SlashCommands  []string       `json:"slash_commands,omitempty"`
	Data           map[string]any `json:"data"`
}

func (m *SystemMessage) messageType() string { return "system" }
func (m *SystemMessage) session() string     { return m.SessionID }

// IsInit reports whether this is the session initialization message.
func (m *SystemMessage) IsInit() bool { return m.Subtype == "init" }

// ResultMessage ends one turn and carries its cost and usage information.
type ResultMessage struct {
	Subtype          string         `json:"subtype"`
	DurationMS       int            `json:"duration_ms"`
	DurationAPIMS    int            `json:"duration_api_ms"`
	IsError          bool           `json:"is_error"`
	NumTurns         int            `json:"num_turns"`
	SessionID        string         `json:"session_id"`
	TotalCostUSD     *float64       `json:"total_cost_usd,omitempty"`
	Usage            map[string]any `json:"usage,omitempty"`
	Result           string         `json:"result,omitempty"`
	StructuredOutput any            `json:"structured_output,omitempty"`

	// Interrupted is set when the turn ended after a successful Interrupt.
	Interrupted bool `json:"-"`
	// Synthetic is set on results produced locally because the CLI never
	// sent one.
	Synthetic bool `json:"-"`
}

func (m *ResultMessage) messageType() string { return "result" }
func (m *ResultMessage) session() string     { return m.SessionID }

// ResultOutcome classifies how a turn ended.
type ResultOutcome string

const (
	OutcomeSuccess     ResultOutcome = "success"
	OutcomeMaxTurns    ResultOutcome = "max_turns"
	OutcomeInterrupted ResultOutcome = "interrupted"
	OutcomeError       ResultOutcome = "error"
)

// Result subtypes sent by the CLI.
const (
	ResultSubtypeSuccess              = "success"
	ResultSubtypeErrorMaxTurns        = "error_max_turns"
	ResultSubtypeErrorDuringExecution = "error_during_execution"
)

// Outcome classifies the result.
func (m *ResultMessage) Outcome() ResultOutcome {
	switch {
	case m.Interrupted:
		return OutcomeInterrupted
	case m.Subtype == ResultSubtypeErrorMaxTurns:
		return OutcomeMaxTurns
	case m.Subtype == ResultSubtypeSuccess && !m.IsError:
		return OutcomeSuccess
	default:
		return OutcomeError
	}
}

// StreamEvent represents a stream event for partial message updates during streaming.
type StreamEvent struct {
	UUID            string         `json:"uuid"`
	SessionID       string         `json:"session_id"`
	Event           map[string]any `json:"event"`
	ParentToolUseID string         `json:"parent_tool_use_id,omitempty"`
}

func (m *StreamEvent) messageType() string { return "stream_event" }
func (m *StreamEvent) session() string     { return m.SessionID }

// RateLimitEvent represents rate limit metadata events emitted by Claude CLI.
// Keep the payload raw for forward compatibility with CLI changes.
type RateLimitEvent struct {
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"data"`
}

func (m *RateLimitEvent) messageType() string { return "rate_limit_event" }
func (m *RateLimitEvent) session() string     { return m.SessionID }
