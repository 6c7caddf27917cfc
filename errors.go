package claude

import (
	"errors"
	"fmt"
)

// ErrClosed is matched by errors.Is for any operation attempted after Close.
var ErrClosed = errors.New("claude: query closed")

// ErrConcurrentIteration is returned when a second consumer calls Next while
// another call is still in progress.
var ErrConcurrentIteration = errors.New("claude: concurrent iteration of a query")

// SDKError is the base error type for all Claude SDK errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// SpawnError is returned when the CLI process cannot be located or launched.
type SpawnError struct {
	SDKError
	Path string
}

// MalformedMessageError describes one stdout line that could not be decoded.
// It is diagnostic only; the session continues.
type MalformedMessageError struct {
	SDKError
	Line string
}

// MessageParseError is raised when a decoded record does not form a valid message.
type MessageParseError struct {
	SDKError
	Data map[string]any
}

// ControlTimeoutError is returned when an outbound control request receives
// no response within its timeout.
type ControlTimeoutError struct {
	SDKError
	Subtype   string
	RequestID string
}

// ControlError is returned when the CLI answers a control request with an error.
type ControlError struct {
	SDKError
	Subtype   string
	RequestID string
}

// HookError reports a hook callback that failed. The failing hook is treated
// as a pass-through.
type HookError struct {
	SDKError
	Event    HookEvent
	ToolName string
}

// PermissionCallbackError reports a permission callback that failed. The
// request it was answering is denied.
type PermissionCallbackError struct {
	SDKError
	ToolName string
}

// ProcessExitedError is reported when the CLI exits while the session is
// still in use.
type ProcessExitedError struct {
	SDKError
	Status ExitStatus
}

func newProcessExitedError(status ExitStatus, cause error) *ProcessExitedError {
	return &ProcessExitedError{
		SDKError: SDKError{
			Message: fmt.Sprintf("CLI process exited unexpectedly (%s)", status),
			Cause:   cause,
		},
		Status: status,
	}
}

// ClosedError is returned by operations issued after Close.
type ClosedError struct {
	SDKError
	Op string
}

func newClosedError(op string) *ClosedError {
	return &ClosedError{SDKError: SDKError{Message: op + ": query closed"}, Op: op}
}

// Is reports ErrClosed as a match.
func (e *ClosedError) Is(target error) bool { return target == ErrClosed }

// UnsupportedError is returned for capabilities this engine deliberately does
// not implement. It matches errors.ErrUnsupported.
type UnsupportedError struct {
	SDKError
	Op string
}

func newUnsupportedError(op string) *UnsupportedError {
	return &UnsupportedError{
		SDKError: SDKError{Message: op + " is not supported", Cause: errors.ErrUnsupported},
		Op:       op,
	}
}
