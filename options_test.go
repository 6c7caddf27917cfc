package claude

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOptionsDefaults(t *testing.T) {
	t.Setenv("CLAUDE_CODE_STREAM_CLOSE_TIMEOUT", "")
	opts, err := applyOptions(nil)
	require.NoError(t, err)

	assert.IsType(t, ExecSpawner{}, opts.Spawner)
	assert.Equal(t, os.Stderr, opts.Stderr)
	assert.NotNil(t, opts.Logger)
	assert.Equal(t, defaultMaxBufferSize, opts.MaxBufferSize)
	assert.Equal(t, DefaultInitializeTimeout, opts.InitializeTimeout)
	assert.Equal(t, DefaultControlTimeout, opts.ControlTimeout)
	assert.Equal(t, DefaultCloseGracePeriod, opts.CloseGracePeriod)
	assert.Empty(t, opts.PermissionPromptToolName)
}

func TestApplyOptionsLaterOverridesEarlier(t *testing.T) {
	var stderr bytes.Buffer
	opts, err := applyOptions([]Option{
		WithModel("first"),
		nil,
		WithModel("second"),
		WithStderr(&stderr),
		WithControlTimeout(3 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, "second", opts.Model)
	assert.Same(t, &stderr, opts.Stderr)
	assert.Equal(t, 3*time.Second, opts.ControlTimeout)
}

func TestApplyOptionsCanUseTool(t *testing.T) {
	cb := CanUseToolFunc(func(ctx context.Context, toolName string, input map[string]any, permCtx ToolPermissionContext) (PermissionResult, error) {
		return &PermissionResultAllow{}, nil
	})

	opts, err := applyOptions([]Option{WithCanUseTool(cb)})
	require.NoError(t, err)
	assert.Equal(t, "stdio", opts.PermissionPromptToolName)

	_, err = applyOptions([]Option{WithCanUseTool(cb), WithPermissionPromptToolName("mcp__x__ask")})
	assert.Error(t, err)
}

func TestApplyOptionsRejectsNegativeBuffer(t *testing.T) {
	_, err := applyOptions([]Option{WithMaxBufferSize(-1)})
	assert.Error(t, err)
}

func TestApplyOptionsStreamCloseTimeoutEnv(t *testing.T) {
	t.Setenv("CLAUDE_CODE_STREAM_CLOSE_TIMEOUT", "120000")
	opts, err := applyOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, opts.InitializeTimeout)

	t.Setenv("CLAUDE_CODE_STREAM_CLOSE_TIMEOUT", "1000")
	opts, err = applyOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultInitializeTimeout, opts.InitializeTimeout, "the variable never lowers the timeout")
}

func TestWithHookAppends(t *testing.T) {
	noop := HookFunc(func(ctx context.Context, input HookInput, toolUseID string, hookCtx HookContext) (*HookJSONOutput, error) {
		return nil, nil
	})
	opts, err := applyOptions([]Option{
		WithHook(HookPreToolUse, MatchTool("Read"), noop),
		WithHook(HookPreToolUse, MatchAny(), noop, noop),
		WithHook(HookStop, MatchAny(), noop),
	})
	require.NoError(t, err)

	require.Len(t, opts.Hooks[HookPreToolUse], 2)
	assert.Equal(t, "Read", opts.Hooks[HookPreToolUse][0].Matcher.String())
	assert.Len(t, opts.Hooks[HookPreToolUse][1].Hooks, 2)
	assert.Len(t, opts.Hooks[HookStop], 1)
}

func TestWithToolsNilMeansEmpty(t *testing.T) {
	opts, err := applyOptions([]Option{WithTools()})
	require.NoError(t, err)
	assert.NotNil(t, opts.Tools)
	assert.Empty(t, opts.Tools)
}
