package claude

// Control protocol types. Control records travel on the same stdin/stdout
// streams as conversation records and are correlated by request_id.

// ControlSubtype names a control request.
type ControlSubtype string

const (
	// Sent by the SDK.
	ControlInitialize        ControlSubtype = "initialize"
	ControlInterrupt         ControlSubtype = "interrupt"
	ControlSetPermissionMode ControlSubtype = "set_permission_mode"
	ControlSetModel          ControlSubtype = "set_model"
	ControlMcpStatus         ControlSubtype = "mcp_status"

	// Sent by the CLI and answered locally.
	ControlCanUseTool   ControlSubtype = "can_use_tool"
	ControlHookCallback ControlSubtype = "hook_callback"
	ControlMcpMessage   ControlSubtype = "mcp_message"
)

// Record type discriminators for the control protocol.
const (
	typeControlRequest       = "control_request"
	typeControlResponse      = "control_response"
	typeControlCancelRequest = "control_cancel_request"
)

// ControlRequest is a control request in either direction.
type ControlRequest struct {
	Type      string         `json:"type"` // "control_request"
	RequestID string         `json:"request_id"`
	Request   map[string]any `json:"request"`
}

// ControlResponse answers exactly one ControlRequest.
type ControlResponse struct {
	Type     string              `json:"type"` // "control_response"
	Response ControlResponseBody `json:"response"`
}

// ControlResponseBody represents the body of a control response.
type ControlResponseBody struct {
	Subtype   string         `json:"subtype"` // "success" or "error"
	RequestID string         `json:"request_id"`
	Response  map[string]any `json:"response,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func newControlResponse(requestID string, payload map[string]any, err error) ControlResponse {
	if err != nil {
		return ControlResponse{
			Type:     typeControlResponse,
			Response: ControlResponseBody{Subtype: "error", RequestID: requestID, Error: err.Error()},
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return ControlResponse{
		Type:     typeControlResponse,
		Response: ControlResponseBody{Subtype: "success", RequestID: requestID, Response: payload},
	}
}
