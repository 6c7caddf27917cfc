package claude

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func canUseToolPayload(tool string) map[string]any {
	return map[string]any{
		"subtype":     "can_use_tool",
		"tool_name":   tool,
		"input":       map[string]any{"file_path": "/tmp/x"},
		"tool_use_id": "toolu_1",
		"permission_suggestions": []any{
			map[string]any{
				"type":        "addRules",
				"behavior":    "allow",
				"destination": "session",
				"rules":       []any{map[string]any{"toolName": tool, "ruleContent": "/tmp/**"}},
			},
		},
	}
}

func TestPermissionBridgeWithoutCallbackDenies(t *testing.T) {
	b := newPermissionBridge(nil, PermissionDefault, testLogger(), nil)
	resp, err := b.handleCanUseTool(context.Background(), canUseToolPayload("Write"))
	require.NoError(t, err)
	assert.Equal(t, "deny", resp["behavior"])
}

func TestPermissionBridgeBypassSkipsCallback(t *testing.T) {
	called := false
	cb := CanUseToolFunc(func(ctx context.Context, toolName string, input map[string]any, permCtx ToolPermissionContext) (PermissionResult, error) {
		called = true
		return &PermissionResultDeny{}, nil
	})
	b := newPermissionBridge(cb, PermissionBypassPermissions, testLogger(), nil)

	resp, err := b.handleCanUseTool(context.Background(), canUseToolPayload("Bash"))
	require.NoError(t, err)
	assert.Equal(t, "allow", resp["behavior"])
	assert.Equal(t, map[string]any{"file_path": "/tmp/x"}, resp["updatedInput"])
	assert.False(t, called)

	b.setMode(PermissionDefault)
	resp, _ = b.handleCanUseTool(context.Background(), canUseToolPayload("Bash"))
	assert.Equal(t, "deny", resp["behavior"])
	assert.True(t, called)
}

func TestPermissionBridgePassesContext(t *testing.T) {
	var got ToolPermissionContext
	cb := CanUseToolFunc(func(ctx context.Context, toolName string, input map[string]any, permCtx ToolPermissionContext) (PermissionResult, error) {
		got = permCtx
		return &PermissionResultAllow{
			UpdatedInput:       map[string]any{"file_path": "/tmp/safe"},
			UpdatedPermissions: permCtx.Suggestions,
		}, nil
	})
	b := newPermissionBridge(cb, PermissionDefault, testLogger(), nil)

	resp, err := b.handleCanUseTool(context.Background(), canUseToolPayload("Edit"))
	require.NoError(t, err)

	assert.Equal(t, "toolu_1", got.ToolUseID)
	require.Len(t, got.Suggestions, 1)
	assert.Equal(t, PermissionUpdateAddRules, got.Suggestions[0].Type)
	assert.Equal(t, []PermissionRuleValue{{ToolName: "Edit", RuleContent: "/tmp/**"}}, got.Suggestions[0].Rules)

	assert.Equal(t, "allow", resp["behavior"])
	assert.Equal(t, map[string]any{"file_path": "/tmp/safe"}, resp["updatedInput"])
	perms := resp["updatedPermissions"].([]map[string]any)
	require.Len(t, perms, 1)
	assert.Equal(t, "session", perms[0]["destination"])
	assert.Equal(t, "allow", perms[0]["behavior"])
}

func TestPermissionBridgeFailsClosed(t *testing.T) {
	var nilAllow *PermissionResultAllow
	tests := []struct {
		name     string
		cb       CanUseToolFunc
		reported bool
	}{
		{
			name: "error",
			cb: func(ctx context.Context, toolName string, input map[string]any, permCtx ToolPermissionContext) (PermissionResult, error) {
				return &PermissionResultAllow{}, errors.New("policy service down")
			},
			reported: true,
		},
		{
			name: "panic",
			cb: func(ctx context.Context, toolName string, input map[string]any, permCtx ToolPermissionContext) (PermissionResult, error) {
				panic("nil map")
			},
			reported: true,
		},
		{
			name: "nil result",
			cb: func(ctx context.Context, toolName string, input map[string]any, permCtx ToolPermissionContext) (PermissionResult, error) {
				return nil, nil
			},
		},
		{
			name: "typed nil result",
			cb: func(ctx context.Context, toolName string, input map[string]any, permCtx ToolPermissionContext) (PermissionResult, error) {
				return nilAllow, nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reported []error
			b := newPermissionBridge(tt.cb, PermissionDefault, testLogger(), func(err error) { reported = append(reported, err) })

			resp, err := b.handleCanUseTool(context.Background(), canUseToolPayload("Bash"))
			require.NoError(t, err)
			assert.Equal(t, "deny", resp["behavior"])

			if !tt.reported {
				assert.Empty(t, reported)
				return
			}
			require.Len(t, reported, 1)
			var permErr *PermissionCallbackError
			require.ErrorAs(t, reported[0], &permErr)
			assert.Equal(t, "Bash", permErr.ToolName)
		})
	}
}

func TestPermissionBridgeCancelledContextDenies(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	cb := CanUseToolFunc(func(ctx context.Context, toolName string, input map[string]any, permCtx ToolPermissionContext) (PermissionResult, error) {
		<-block
		return &PermissionResultAllow{}, nil
	})
	b := newPermissionBridge(cb, PermissionDefault, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err := b.handleCanUseTool(ctx, canUseToolPayload("Bash"))
	require.NoError(t, err)
	assert.Equal(t, "deny", resp["behavior"])
}

func TestEncodeDenyWithInterrupt(t *testing.T) {
	resp := encodePermissionResult(&PermissionResultDeny{Message: "stop", Interrupt: true}, nil)
	assert.Equal(t, map[string]any{"behavior": "deny", "message": "stop", "interrupt": true}, resp)
}

func TestPermissionUpdateToWire(t *testing.T) {
	tests := []struct {
		name   string
		update PermissionUpdate
		want   map[string]any
	}{
		{
			name:   "set mode",
			update: PermissionUpdate{Type: PermissionUpdateSetMode, Mode: PermissionAcceptEdits, Destination: PermissionDestSession},
			want:   map[string]any{"type": "setMode", "mode": "acceptEdits", "destination": "session"},
		},
		{
			name:   "directories",
			update: PermissionUpdate{Type: PermissionUpdateAddDirectories, Directories: []string{"/src"}},
			want:   map[string]any{"type": "addDirectories", "directories": []string{"/src"}},
		},
		{
			name:   "mode ignored for rules",
			update: PermissionUpdate{Type: PermissionUpdateRemoveRules, Mode: PermissionPlan, Behavior: PermissionBehaviorDeny},
			want:   map[string]any{"type": "removeRules", "behavior": "deny"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.update.toWire())
		})
	}
}
