package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool is a stateless named operation with a structured, schema-described
// input. Run returns plain text or an error; callers that must keep the
// errors-as-strings contract go through InvokeTool.
type Tool interface {
	Name() string
	Description() string

	// Schema returns the JSON Schema of the tool input. An empty schema
	// disables validation.
	Schema() json.RawMessage

	Run(ctx context.Context, input json.RawMessage) (string, error)
}

// ToolError is the structured failure returned by tools.
type ToolError struct {
	Tool    string
	Message string
	Err     error
}

// NewToolError creates a ToolError for tool with a formatted message.
func NewToolError(tool string, err error, format string, args ...any) *ToolError {
	return &ToolError{Tool: tool, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tool, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

// ErrInvalidInput is wrapped by errors returned for input that fails schema
// validation or decoding.
var ErrInvalidInput = errors.New("invalid tool input")

// InvokeTool runs t with input and always returns text. Failures, including
// panics inside the tool, come back as a string prefixed with "Error: ".
func InvokeTool(ctx context.Context, t Tool, input json.RawMessage) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("Error: tool %s panicked: %v", t.Name(), r)
		}
	}()
	res, err := t.Run(ctx, input)
	if err != nil {
		return FormatToolError(err)
	}
	return res
}

// FormatToolError renders err the way tools report failures.
func FormatToolError(err error) string {
	var te *ToolError
	if errors.As(err, &te) && te.Err == nil {
		return "Error: " + te.Message
	}
	return "Error: " + err.Error()
}

// DecodeInput unmarshals a tool input into T.
func DecodeInput[T any](tool string, input json.RawMessage) (T, error) {
	var v T
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(input, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrInvalidInput, tool, err)
	}
	return v, nil
}

type validatingTool struct {
	Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation wraps t so that Run validates the input against the
// tool's JSON Schema first. Tools without a schema are returned unchanged.
func WithSchemaValidation(t Tool) (Tool, error) {
	if _, ok := t.(*validatingTool); ok {
		return t, nil
	}
	raw := t.Schema()
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}
	return &validatingTool{Tool: t, schema: compiled}, nil
}

func (v *validatingTool) Run(ctx context.Context, input json.RawMessage) (string, error) {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(input, &doc); err != nil {
		return "", fmt.Errorf("%w: %s: invalid JSON: %v", ErrInvalidInput, v.Name(), err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidInput, v.Name(), err)
	}
	return v.Tool.Run(ctx, input)
}

// Unwrap returns the tool behind the validator.
func (v *validatingTool) Unwrap() Tool { return v.Tool }

// FuncTool is a Tool assembled from a function, handy for small inline tools.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	InputSchema     json.RawMessage
	Fn              func(ctx context.Context, input json.RawMessage) (string, error)
}

func (f *FuncTool) Name() string            { return f.ToolName }
func (f *FuncTool) Description() string     { return f.ToolDescription }
func (f *FuncTool) Schema() json.RawMessage { return f.InputSchema }

func (f *FuncTool) Run(ctx context.Context, input json.RawMessage) (string, error) {
	return f.Fn(ctx, input)
}
