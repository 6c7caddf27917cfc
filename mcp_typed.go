package claude

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

type invalidArgumentsError struct {
	tool string
	err  error
}

func (e *invalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %v", e.tool, e.err)
}

func (e *invalidArgumentsError) Unwrap() error { return e.err }

// NewTypedMCPTool builds a tool whose input schema is reflected from T. The
// struct's json and jsonschema tags drive the schema:
//
//	type AddParams struct {
//	    A float64 `json:"a" jsonschema:"required,description=First operand"`
//	    B float64 `json:"b" jsonschema:"required,description=Second operand"`
//	}
//
// A handler error is returned to the model as a tool error result rather
// than a protocol error.
func NewTypedMCPTool[T any](name, description string, handler func(context.Context, T) (string, error)) *SdkMcpTool {
	invoke := func(ctx context.Context, args map[string]any) (MCPToolResult, error) {
		var params T
		raw, err := json.Marshal(args)
		if err == nil {
			err = json.Unmarshal(raw, &params)
		}
		if err != nil {
			return MCPToolResult{}, &invalidArgumentsError{tool: name, err: err}
		}

		text, err := handler(ctx, params)
		if err != nil {
			return MCPToolResult{Content: []MCPContent{{Type: "text", Text: err.Error()}}, IsError: true}, nil
		}
		return MCPToolResult{Content: []MCPContent{{Type: "text", Text: text}}}, nil
	}
	return NewMCPTool(name, description, SchemaFor[T](), invoke)
}

// SchemaFor reflects a JSON schema from T with every definition inlined.
func SchemaFor[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero T
	data, err := json.Marshal(reflector.Reflect(zero))
	if err != nil {
		panic(fmt.Sprintf("failed to generate schema for type %T: %v", zero, err))
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		panic(fmt.Sprintf("failed to decode schema for type %T: %v", zero, err))
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema
}

// WithOutputSchemaFor requests structured output shaped like T.
func WithOutputSchemaFor[T any]() Option {
	schema := SchemaFor[T]()
	return func(o *Options) { o.OutputSchema = schema }
}
