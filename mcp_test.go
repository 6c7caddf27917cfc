package claude

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() *SdkMcpTool {
	return NewMCPTool("echo", "Echo input",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(ctx context.Context, args map[string]any) (MCPToolResult, error) {
			text, _ := args["text"].(string)
			return MCPToolResult{Content: []MCPContent{{Type: "text", Text: text}}}, nil
		},
	)
}

func TestCreateSdkMcpServer(t *testing.T) {
	server := CreateSdkMcpServer("calculator", "1.0.0", echoTool())
	assert.Equal(t, "sdk", server.Type)
	assert.Equal(t, "calculator", server.Name)
	require.NotNil(t, server.Instance)
	assert.Len(t, server.Instance.Tools, 1)
}

func TestMcpServerHandleInitialize(t *testing.T) {
	server := CreateSdkMcpServer("test", "1.0.0")
	resp := server.Instance.HandleInitialize("init-1")

	result, _ := resp["result"].(map[string]any)
	require.NotNil(t, result)
	assert.Equal(t, mcpProtocolVersion, result["protocolVersion"])
	serverInfo, _ := result["serverInfo"].(map[string]any)
	assert.Equal(t, "test", serverInfo["name"])
	assert.Equal(t, "init-1", resp["id"])
}

func TestMcpServerHandleListTools(t *testing.T) {
	bare := &SdkMcpTool{Name: "bare", Description: "No schema"}
	server := CreateSdkMcpServer("greeter", "1.0.0", echoTool(), bare)

	resp := server.Instance.HandleListTools("list-1")
	result, _ := resp["result"].(map[string]any)
	tools, _ := result["tools"].([]map[string]any)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0]["name"])
	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, tools[1]["inputSchema"])
}

func TestMcpServerHandleCallTool(t *testing.T) {
	server := CreateSdkMcpServer("echo-server", "1.0.0", echoTool())
	resp := server.Instance.HandleCallTool(context.Background(), "call-1", "echo", map[string]any{"text": "hello"})

	result, _ := resp["result"].(map[string]any)
	content, _ := result["content"].([]map[string]any)
	require.Len(t, content, 1)
	assert.Equal(t, "hello", content[0]["text"])
	assert.NotContains(t, result, "isError")
}

func TestMcpServerHandleCallToolFailures(t *testing.T) {
	failing := NewMCPTool("fail", "", nil, func(ctx context.Context, args map[string]any) (MCPToolResult, error) {
		return MCPToolResult{}, errors.New("backend down")
	})
	panicking := NewMCPTool("boom", "", nil, func(ctx context.Context, args map[string]any) (MCPToolResult, error) {
		panic("unexpected")
	})
	server := CreateSdkMcpServer("s", "1.0.0", failing, panicking)

	tests := []struct {
		tool string
		code int
	}{
		{"nonexistent", mcpMethodNotFound},
		{"fail", mcpInternalError},
		{"boom", mcpInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			resp := server.Instance.HandleCallTool(context.Background(), 1, tt.tool, map[string]any{})
			errObj, _ := resp["error"].(map[string]any)
			require.NotNil(t, errObj)
			assert.Equal(t, tt.code, errObj["code"])
		})
	}
}

func TestMcpServerHandleRequest(t *testing.T) {
	server := CreateSdkMcpServer("test", "1.0.0", echoTool())
	ctx := context.Background()

	resp := server.Instance.HandleRequest(ctx, map[string]any{"method": "initialize", "id": "1"})
	assert.Nil(t, resp["error"])

	resp = server.Instance.HandleRequest(ctx, map[string]any{
		"method": "tools/call",
		"id":     "2",
		"params": map[string]any{"name": "echo", "arguments": map[string]any{"text": "hi"}},
	})
	result, _ := resp["result"].(map[string]any)
	require.NotNil(t, result)

	resp = server.Instance.HandleRequest(ctx, map[string]any{"method": "unknown/method", "id": "3"})
	errObj, _ := resp["error"].(map[string]any)
	require.NotNil(t, errObj)
	assert.Equal(t, mcpMethodNotFound, errObj["code"])
}

type addParams struct {
	A float64 `json:"a" jsonschema:"required,description=First operand"`
	B float64 `json:"b" jsonschema:"required,description=Second operand"`
}

func TestSchemaFor(t *testing.T) {
	schema := SchemaFor[addParams]()

	assert.Equal(t, "object", schema["type"])
	assert.NotContains(t, schema, "$schema")
	assert.NotContains(t, schema, "$ref")
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.ElementsMatch(t, []any{"a", "b"}, schema["required"])
}

func TestTypedMCPTool(t *testing.T) {
	add := NewTypedMCPTool("add", "Add two numbers", func(ctx context.Context, p addParams) (string, error) {
		if p.A < 0 {
			return "", errors.New("negative operand")
		}
		return fmt.Sprintf("%g", p.A+p.B), nil
	})
	server := CreateSdkMcpServer("calc", "1.0.0", add)
	ctx := context.Background()

	resp := server.Instance.HandleCallTool(ctx, 1, "add", map[string]any{"a": 2.0, "b": 3.5})
	result, _ := resp["result"].(map[string]any)
	content, _ := result["content"].([]map[string]any)
	require.Len(t, content, 1)
	assert.Equal(t, "5.5", content[0]["text"])

	resp = server.Instance.HandleCallTool(ctx, 2, "add", map[string]any{"a": -1.0, "b": 1.0})
	result, _ = resp["result"].(map[string]any)
	assert.Equal(t, true, result["isError"])

	resp = server.Instance.HandleCallTool(ctx, 3, "add", map[string]any{"a": "two"})
	errObj, _ := resp["error"].(map[string]any)
	require.NotNil(t, errObj)
	assert.Equal(t, mcpInvalidParams, errObj["code"])
}

func TestWithOutputSchemaFor(t *testing.T) {
	opts, err := applyOptions([]Option{WithOutputSchemaFor[addParams]()})
	require.NoError(t, err)
	assert.Equal(t, "object", opts.OutputSchema["type"])
}
