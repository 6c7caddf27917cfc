package claude

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// permissionBridge answers can_use_tool requests. It fails closed: anything
// other than an explicit allow from the callback becomes a denial.
type permissionBridge struct {
	callback PermissionCallback
	bypass   atomic.Bool
	logger   *slog.Logger
	onError  func(error)
}

func newPermissionBridge(callback PermissionCallback, mode PermissionMode, logger *slog.Logger, onError func(error)) *permissionBridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &permissionBridge{callback: callback, logger: logger, onError: onError}
	b.setMode(mode)
	return b
}

// setMode tracks the session's permission mode; only bypassPermissions
// changes the bridge's behaviour.
func (b *permissionBridge) setMode(mode PermissionMode) {
	b.bypass.Store(mode == PermissionBypassPermissions)
}

func (b *permissionBridge) handleCanUseTool(ctx context.Context, request map[string]any) (map[string]any, error) {
	toolName, _ := request["tool_name"].(string)
	input, _ := request["input"].(map[string]any)
	if input == nil {
		input = map[string]any{}
	}

	permCtx := ToolPermissionContext{}
	permCtx.BlockedPath, _ = request["blocked_path"].(string)
	permCtx.ToolUseID, _ = request["tool_use_id"].(string)
	if raw, ok := request["permission_suggestions"].([]any); ok {
		for _, item := range raw {
			if m, ok := item.(map[string]any); ok {
				permCtx.Suggestions = append(permCtx.Suggestions, parsePermissionUpdate(m))
			}
		}
	}

	return encodePermissionResult(b.decide(ctx, toolName, input, permCtx), input), nil
}

type permissionOutcome struct {
	result PermissionResult
	err    error
}

func (b *permissionBridge) decide(ctx context.Context, toolName string, input map[string]any, permCtx ToolPermissionContext) PermissionResult {
	if b.bypass.Load() {
		return &PermissionResultAllow{}
	}
	if b.callback == nil {
		b.logger.Debug("no permission callback; denying", "tool", toolName)
		return &PermissionResultDeny{Message: "no permission callback configured"}
	}

	done := make(chan permissionOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- permissionOutcome{err: fmt.Errorf("permission callback panicked: %v", r)}
			}
		}()
		result, err := b.callback.CanUseTool(ctx, toolName, input, permCtx)
		done <- permissionOutcome{result: result, err: err}
	}()

	var out permissionOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		return &PermissionResultDeny{Message: "permission request cancelled"}
	}

	if out.err != nil {
		perr := &PermissionCallbackError{
			SDKError: SDKError{Message: "permission callback for " + toolName + " failed", Cause: out.err},
			ToolName: toolName,
		}
		b.logger.Warn("permission callback failed; denying", "tool", toolName, "err", out.err)
		if b.onError != nil {
			b.onError(perr)
		}
		return &PermissionResultDeny{Message: perr.Error()}
	}

	switch r := out.result.(type) {
	case *PermissionResultAllow:
		if r != nil {
			return r
		}
	case *PermissionResultDeny:
		if r != nil {
			return r
		}
	}
	b.logger.Warn("permission callback returned no decision; denying", "tool", toolName)
	return &PermissionResultDeny{Message: "permission callback returned no decision"}
}

// encodePermissionResult renders a decision as the can_use_tool response.
func encodePermissionResult(result PermissionResult, input map[string]any) map[string]any {
	switch r := result.(type) {
	case *PermissionResultAllow:
		resp := map[string]any{
			"behavior":     string(PermissionBehaviorAllow),
			"updatedInput": input,
		}
		if r.UpdatedInput != nil {
			resp["updatedInput"] = r.UpdatedInput
		}
		if len(r.UpdatedPermissions) > 0 {
			perms := make([]map[string]any, len(r.UpdatedPermissions))
			for i := range r.UpdatedPermissions {
				perms[i] = r.UpdatedPermissions[i].toWire()
			}
			resp["updatedPermissions"] = perms
		}
		return resp
	case *PermissionResultDeny:
		resp := map[string]any{
			"behavior": string(PermissionBehaviorDeny),
			"message":  r.Message,
		}
		if r.Interrupt {
			resp["interrupt"] = true
		}
		return resp
	default:
		return map[string]any{"behavior": string(PermissionBehaviorDeny), "message": "no decision"}
	}
}

// parsePermissionUpdate converts a raw map to a PermissionUpdate.
func parsePermissionUpdate(m map[string]any) PermissionUpdate {
	pu := PermissionUpdate{}
	if v, ok := m["type"].(string); ok {
		pu.Type = PermissionUpdateType(v)
	}
	if v, ok := m["behavior"].(string); ok {
		pu.Behavior = PermissionBehavior(v)
	}
	if v, ok := m["mode"].(string); ok {
		pu.Mode = PermissionMode(v)
	}
	if v, ok := m["destination"].(string); ok {
		pu.Destination = PermissionUpdateDestination(v)
	}
	if dirs, ok := m["directories"].([]any); ok {
		for _, d := range dirs {
			if s, ok := d.(string); ok {
				pu.Directories = append(pu.Directories, s)
			}
		}
	}
	if rules, ok := m["rules"].([]any); ok {
		for _, raw := range rules {
			rm, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			rule := PermissionRuleValue{}
			rule.ToolName, _ = rm["toolName"].(string)
			rule.RuleContent, _ = rm["ruleContent"].(string)
			pu.Rules = append(pu.Rules, rule)
		}
	}
	return pu
}
