package claude

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSDKError(t *testing.T) {
	err := &SDKError{Message: "something went wrong"}
	assert.Equal(t, "something went wrong", err.Error())
}

func TestSDKErrorWithCause(t *testing.T) {
	cause := errors.New("root cause")
	err := &SDKError{Message: "wrapped", Cause: cause}
	assert.Equal(t, "wrapped: root cause", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestSpawnErrorCarriesPath(t *testing.T) {
	cause := errors.New("exec: not found")
	var err error = &SpawnError{SDKError: SDKError{Message: "failed to start Claude Code", Cause: cause}, Path: "/opt/claude"}

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "/opt/claude", spawnErr.Path)
	assert.ErrorIs(t, err, cause)
}

func TestClosedErrorMatchesErrClosed(t *testing.T) {
	err := newClosedError("push")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, "push", err.Op)
	assert.Equal(t, "push: query closed", err.Error())
}

func TestUnsupportedErrorMatchesErrUnsupported(t *testing.T) {
	err := newUnsupportedError("fork")
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	assert.Contains(t, err.Error(), "fork is not supported")
}

func TestProcessExitedError(t *testing.T) {
	cause := errors.New("exit status 3")
	err := newProcessExitedError(ExitStatus{Code: 3}, cause)
	assert.Equal(t, 3, err.Status.Code)
	assert.Contains(t, err.Error(), "exited unexpectedly")
	assert.ErrorIs(t, err, cause)
}

func TestTypedErrorsAreDistinguishable(t *testing.T) {
	errs := []error{
		&MalformedMessageError{SDKError: SDKError{Message: "bad"}, Line: "{"},
		&ControlTimeoutError{SDKError: SDKError{Message: "timeout"}, Subtype: "interrupt"},
		&ControlError{SDKError: SDKError{Message: "failed"}, Subtype: "set_model"},
		&HookError{SDKError: SDKError{Message: "hook"}, Event: HookPreToolUse},
		&PermissionCallbackError{SDKError: SDKError{Message: "perm"}, ToolName: "Bash"},
	}

	var malformed *MalformedMessageError
	var timeout *ControlTimeoutError
	var controlErr *ControlError
	var hookErr *HookError
	var permErr *PermissionCallbackError

	assert.ErrorAs(t, errs[0], &malformed)
	assert.ErrorAs(t, errs[1], &timeout)
	assert.ErrorAs(t, errs[2], &controlErr)
	assert.ErrorAs(t, errs[3], &hookErr)
	assert.ErrorAs(t, errs[4], &permErr)

	assert.False(t, errors.As(errs[1], &controlErr))
	assert.False(t, errors.As(errs[2], &timeout))
}
