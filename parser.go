package claude

import "fmt"

// parseMessage converts a conversational record from CLI output into a typed
// Message. Record types this package does not know yield (nil, nil) so newer
// CLI versions do not break the stream.
func parseMessage(data map[string]any) (Message, error) {
	msgType, _ := data["type"].(string)
	switch msgType {
	case "":
		return nil, parseErr(data, "message missing 'type' field")
	case "user":
		return parseUserMessage(data)
	case "assistant":
		return parseAssistantMessage(data)
	case "system":
		return parseSystemMessage(data)
	case "result":
		return parseResultMessage(data)
	case "stream_event":
		return parseStreamEvent(data)
	case "rate_limit_event":
		sessionID, _ := data["session_id"].(string)
		return &RateLimitEvent{SessionID: sessionID, Data: data}, nil
	default:
		return nil, nil
	}
}

func parseErr(data map[string]any, format string, args ...any) *MessageParseError {
	return &MessageParseError{
		SDKError: SDKError{Message: fmt.Sprintf(format, args...)},
		Data:     data,
	}
}

func parseUserMessage(data map[string]any) (*UserMessage, error) {
	msg, ok := data["message"].(map[string]any)
	if !ok {
		return nil, parseErr(data, "missing 'message' field in user message")
	}
	content, ok := msg["content"]
	if !ok {
		return nil, parseErr(data, "missing required field in user message: content")
	}

	um := &UserMessage{}
	um.UUID, _ = data["uuid"].(string)
	um.SessionID, _ = data["session_id"].(string)
	um.ParentToolUseID, _ = data["parent_tool_use_id"].(string)
	um.ToolUseResult, _ = data["tool_use_result"].(map[string]any)

	if list, ok := content.([]any); ok {
		um.Content = parseContentBlocks(list)
	} else {
		um.Content, _ = content.(string)
	}
	return um, nil
}

func parseAssistantMessage(data map[string]any) (*AssistantMessage, error) {
	msg, ok := data["message"].(map[string]any)
	if !ok {
		return nil, parseErr(data, "missing 'message' field in assistant message")
	}
	list, ok := msg["content"].([]any)
	if !ok {
		return nil, parseErr(data, "missing 'content' field in assistant message")
	}
	model, _ := msg["model"].(string)
	if model == "" {
		return nil, parseErr(data, "missing required field in assistant message: model")
	}

	am := &AssistantMessage{Content: parseContentBlocks(list), Model: model}
	am.UUID, _ = data["uuid"].(string)
	am.SessionID, _ = data["session_id"].(string)
	am.ParentToolUseID, _ = data["parent_tool_use_id"].(string)
	if errorStr, ok := data["error"].(string); ok {
		am.Error = AssistantMessageError(errorStr)
	}
	return am, nil
}

func parseSystemMessage(data map[string]any) (*SystemMessage, error) {
	subtype, ok := data["subtype"].(string)
	if !ok {
		return nil, parseErr(data, "missing 'subtype' field in system message")
	}
	sm := &SystemMessage{Subtype: subtype, Data: data}
	sm.SessionID, _ = data["session_id"].(string)
	sm.Model, _ = data["model"].(string)
	sm.PermissionMode, _ = data["permissionMode"].(string)
	sm.Tools = stringList(data["tools"])
	sm.SlashCommands = stringList(data["slash_commands"])
	return sm, nil
}

func parseResultMessage(data map[string]any) (*ResultMessage, error) {
	subtype, _ := data["subtype"].(string)
	if subtype == "" {
		return nil, parseErr(data, "missing required field in result message: subtype")
	}
	for _, field := range []string{"duration_ms", "duration_api_ms", "num_turns"} {
		if _, ok := data[field]; !ok {
			return nil, parseErr(data, "missing required field in result message: %s", field)
		}
	}
	isError, ok := data["is_error"].(bool)
	if !ok {
		return nil, parseErr(data, "missing required field in result message: is_error")
	}
	sessionID, _ := data["session_id"].(string)
	if sessionID == "" {
		return nil, parseErr(data, "missing required field in result message: session_id")
	}

	rm := &ResultMessage{
		Subtype:          subtype,
		DurationMS:       getIntFromAny(data["duration_ms"]),
		DurationAPIMS:    getIntFromAny(data["duration_api_ms"]),
		IsError:          isError,
		NumTurns:         getIntFromAny(data["num_turns"]),
		SessionID:        sessionID,
		StructuredOutput: data["structured_output"],
	}
	if cost, ok := data["total_cost_usd"].(float64); ok {
		rm.TotalCostUSD = &cost
	}
	rm.Usage, _ = data["usage"].(map[string]any)
	rm.Result, _ = data["result"].(string)
	return rm, nil
}

func parseStreamEvent(data map[string]any) (*StreamEvent, error) {
	ev := &StreamEvent{}
	ev.UUID, _ = data["uuid"].(string)
	ev.SessionID, _ = data["session_id"].(string)
	ev.Event, _ = data["event"].(map[string]any)
	ev.ParentToolUseID, _ = data["parent_tool_use_id"].(string)
	if ev.UUID == "" || ev.SessionID == "" || ev.Event == nil {
		return nil, parseErr(data, "missing required field in stream_event message")
	}
	return ev, nil
}

func parseContentBlocks(list []any) []ContentBlock {
	blocks := make([]ContentBlock, 0, len(list))
	for _, item := range list {
		if block, ok := item.(map[string]any); ok {
			blocks = append(blocks, parseContentBlock(block))
		}
	}
	return blocks
}

func parseContentBlock(block map[string]any) ContentBlock {
	blockType, _ := block["type"].(string)
	switch blockType {
	case "text":
		text, _ := block["text"].(string)
		return &TextBlock{Text: text}
	case "thinking":
		thinking, _ := block["thinking"].(string)
		signature, _ := block["signature"].(string)
		return &ThinkingBlock{Thinking: thinking, Signature: signature}
	case "tool_use":
		id, _ := block["id"].(string)
		name, _ := block["name"].(string)
		input, _ := block["input"].(map[string]any)
		return &ToolUseBlock{ID: id, Name: name, Input: input}
	case "tool_result":
		toolUseID, _ := block["tool_use_id"].(string)
		var isError *bool
		if ie, ok := block["is_error"].(bool); ok {
			isError = &ie
		}
		return &ToolResultBlock{ToolUseID: toolUseID, Content: block["content"], IsError: isError}
	default:
		return &UnknownBlock{Type: blockType, Raw: block}
	}
}

func stringList(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// getIntFromAny converts various numeric types to int.
func getIntFromAny(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}
