package agent

import (
	"context"
	"encoding/json"
)

// RawResult is whatever a Backend returns from a generation step. The router
// accepts a plain string, a *FunctionCall, an Envelope, a map with a "type",
// "function_call" or "content" key, or any value implementing
// FunctionCaller or ContentCarrier (such as Completion).
type RawResult any

// Backend is the completion collaborator that turns an agent's configuration
// and an inbound message into a RawResult. Failures are returned as errors and
// never crash the router.
type Backend interface {
	Generate(ctx context.Context, req *GenerateRequest) (RawResult, error)
}

// BackendFunc adapts a plain function to the Backend interface.
type BackendFunc func(ctx context.Context, req *GenerateRequest) (RawResult, error)

// Generate calls f(ctx, req).
func (f BackendFunc) Generate(ctx context.Context, req *GenerateRequest) (RawResult, error) {
	return f(ctx, req)
}

// Profile is the generation-relevant snapshot of an Agent.
type Profile struct {
	Name         string
	Description  string
	Instructions string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Role of a conversation turn passed back to the backend during tool execution.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one prior exchange within a single agent invocation. The router
// produces assistant turns for function calls and tool turns for their output.
type Turn struct {
	Role         Role
	Content      string
	FunctionCall *FunctionCall
}

// ToolSpec describes a bound tool to the backend.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// GenerateRequest is a single generation step for one agent.
type GenerateRequest struct {
	Agent   Profile
	Message *Message
	Tools   []ToolSpec
	Turns   []Turn
}

// FunctionCaller is implemented by results that may carry a function call.
// A nil return means no call is present.
type FunctionCaller interface {
	GetFunctionCall() *FunctionCall
}

// ContentCarrier is implemented by results exposing a text body.
type ContentCarrier interface {
	GetContent() string
}

// Completion is the structured result produced by the bundled backends.
type Completion struct {
	Content      string
	FunctionCall *FunctionCall
}

// GetFunctionCall implements FunctionCaller.
func (c Completion) GetFunctionCall() *FunctionCall { return c.FunctionCall }

// GetContent implements ContentCarrier.
func (c Completion) GetContent() string { return c.Content }

// Relayer lets an agent (usually through a tool) hand a follow-up message to
// another agent. Implementations enforce the allowed communication flows.
type Relayer interface {
	Relay(ctx context.Context, recipient, message string) (string, error)
}
