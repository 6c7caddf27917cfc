package claude

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const hookCallbackPrefix = "hook_"

// hookDispatcher runs the caller's hook chains for events the CLI reports.
// Each event is registered with the CLI once as a catch-all; tool matching
// happens here so a chain never runs twice for one tool use.
type hookDispatcher struct {
	hooks   map[HookEvent][]HookMatcher
	logger  *slog.Logger
	onError func(error)
}

func newHookDispatcher(hooks map[HookEvent][]HookMatcher, logger *slog.Logger, onError func(error)) *hookDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &hookDispatcher{hooks: hooks, logger: logger, onError: onError}
}

// registration builds the "hooks" field of the initialize request.
func (d *hookDispatcher) registration() map[string]any {
	config := map[string]any{}
	for event, matchers := range d.hooks {
		var total time.Duration
		bounded, callbacks := true, 0
		for _, m := range matchers {
			callbacks += len(m.Hooks)
			if m.Timeout <= 0 {
				bounded = false
			}
			// Timeout bounds each callback, not the chain.
			total += time.Duration(len(m.Hooks)) * m.Timeout
		}
		if callbacks == 0 {
			continue
		}
		entry := map[string]any{
			"matcher":         nil,
			"hookCallbackIds": []string{hookCallbackPrefix + string(event)},
		}
		// Chains run one after another, so the CLI waits for their sum.
		if bounded {
			entry["timeout"] = total.Seconds()
		}
		config[string(event)] = []map[string]any{entry}
	}
	return config
}

// handleCallback answers a hook_callback control request.
func (d *hookDispatcher) handleCallback(ctx context.Context, request map[string]any) (map[string]any, error) {
	callbackID, _ := request["callback_id"].(string)
	event, ok := strings.CutPrefix(callbackID, hookCallbackPrefix)
	if !ok || len(d.hooks[HookEvent(event)]) == 0 {
		return nil, fmt.Errorf("no hook callback found for ID: %s", callbackID)
	}

	var input HookInput
	if raw, ok := request["input"].(map[string]any); ok {
		input = parseHookInput(raw)
	}
	toolUseID, _ := request["tool_use_id"].(string)

	out := d.dispatch(ctx, HookEvent(event), input, toolUseID)
	if out == nil {
		return map[string]any{}, nil
	}
	return convertHookOutputForCLI(out), nil
}

// dispatch runs every chain whose matcher accepts the input's tool, in
// registration order. The first decision that is not a pass-through wins; a
// nil result means continue unmodified.
func (d *hookDispatcher) dispatch(ctx context.Context, event HookEvent, input HookInput, toolUseID string) *HookJSONOutput {
	for _, m := range d.hooks[event] {
		if !m.Matcher.Matches(input.ToolName) {
			continue
		}
		hookCtx := HookContext{Event: event, Matcher: m.Matcher}
		for i, cb := range m.Hooks {
			out, err := d.invoke(ctx, cb, m.Timeout, input, toolUseID, hookCtx)
			if err != nil {
				d.report(&HookError{
					SDKError: SDKError{Message: fmt.Sprintf("%s hook %d for %q failed", event, i, m.Matcher), Cause: err},
					Event:    event,
					ToolName: input.ToolName,
				})
				continue
			}
			if isPassThrough(out) {
				continue
			}
			if out.HookSpecificOutput != nil && out.HookSpecificOutput.HookEventName == "" {
				out.HookSpecificOutput.HookEventName = string(event)
			}
			d.logger.Debug("hook decided", "event", event, "tool", input.ToolName, "matcher", m.Matcher.String())
			return out
		}
	}
	return nil
}

type hookResult struct {
	out *HookJSONOutput
	err error
}

// invoke runs one callback. It returns as soon as ctx ends even if the
// callback keeps running.
func (d *hookDispatcher) invoke(ctx context.Context, cb HookCallback, timeout time.Duration, input HookInput, toolUseID string, hookCtx HookContext) (*HookJSONOutput, error) {
	if cb == nil {
		return nil, nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan hookResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- hookResult{err: fmt.Errorf("hook panicked: %v", r)}
			}
		}()
		out, err := cb.Handle(ctx, input, toolUseID, hookCtx)
		done <- hookResult{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *hookDispatcher) report(err *HookError) {
	d.logger.Warn("hook callback failed; continuing", "event", err.Event, "tool", err.ToolName, "err", err.Cause)
	if d.onError != nil {
		d.onError(err)
	}
}

// isPassThrough reports whether out leaves the event unchanged.
func isPassThrough(out *HookJSONOutput) bool {
	if out == nil {
		return true
	}
	wire := convertHookOutputForCLI(out)
	if cont, ok := wire["continue"].(bool); ok && cont {
		delete(wire, "continue")
	}
	return len(wire) == 0
}

// parseHookInput converts a raw map to a HookInput without a JSON round-trip.
func parseHookInput(m map[string]any) HookInput {
	str := func(key string) string {
		s, _ := m[key].(string)
		return s
	}
	input := HookInput{
		SessionID:           str("session_id"),
		TranscriptPath:      str("transcript_path"),
		Cwd:                 str("cwd"),
		PermissionMode:      str("permission_mode"),
		HookEventName:       str("hook_event_name"),
		ToolName:            str("tool_name"),
		ToolUseID:           str("tool_use_id"),
		ToolResponse:        m["tool_response"],
		ErrorMsg:            str("error"),
		Prompt:              str("prompt"),
		AgentID:             str("agent_id"),
		AgentTranscriptPath: str("agent_transcript_path"),
		AgentType:           str("agent_type"),
		Trigger:             str("trigger"),
		CustomInstructions:  str("custom_instructions"),
		NotificationMessage: str("message"),
		Title:               str("title"),
		NotificationType:    str("notification_type"),
	}
	input.ToolInput, _ = m["tool_input"].(map[string]any)
	input.StopHookActive, _ = m["stop_hook_active"].(bool)
	input.PermissionSuggestions, _ = m["permission_suggestions"].([]any)
	if v, ok := m["is_interrupt"].(bool); ok {
		input.IsInterrupt = &v
	}
	return input
}

// convertHookOutputForCLI converts a HookJSONOutput to the CLI's wire map.
func convertHookOutputForCLI(output *HookJSONOutput) map[string]any {
	result := map[string]any{}
	setBool := func(key string, v *bool) {
		if v != nil {
			result[key] = *v
		}
	}
	setString := func(dst map[string]any, key, v string) {
		if v != "" {
			dst[key] = v
		}
	}

	setBool("async", output.Async)
	if output.AsyncTimeout != nil {
		result["asyncTimeout"] = *output.AsyncTimeout
	}
	setBool("continue", output.Continue)
	setBool("suppressOutput", output.SuppressOutput)
	setString(result, "stopReason", output.StopReason)
	setString(result, "decision", output.Decision)
	setString(result, "systemMessage", output.SystemMessage)
	setString(result, "reason", output.Reason)

	if hso := output.HookSpecificOutput; hso != nil {
		specific := map[string]any{"hookEventName": hso.HookEventName}
		setString(specific, "permissionDecision", hso.PermissionDecision)
		setString(specific, "permissionDecisionReason", hso.PermissionDecisionReason)
		setString(specific, "additionalContext", hso.AdditionalContext)
		if hso.UpdatedInput != nil {
			specific["updatedInput"] = hso.UpdatedInput
		}
		if hso.UpdatedMCPToolOutput != nil {
			specific["updatedMCPToolOutput"] = hso.UpdatedMCPToolOutput
		}
		if hso.Decision != nil {
			specific["decision"] = hso.Decision
		}
		result["hookSpecificOutput"] = specific
	}
	return result
}
