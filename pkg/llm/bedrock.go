package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/aixgo-dev/agency/agent"
)

const (
	defaultBedrockRegion    = "us-east-1"
	defaultBedrockModel     = "anthropic.claude-3-5-haiku-20241022-v1:0"
	defaultBedrockMaxTokens = 4096
)

// ConverseAPI abstracts the Bedrock runtime Converse call for testability.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock is an agent.Backend for the AWS Bedrock Converse API.
type Bedrock struct {
	client ConverseAPI
	model  string
}

// NewBedrock creates a Bedrock backend using the default AWS credential chain.
func NewBedrock(ctx context.Context, cfg Config) (*Bedrock, error) {
	region := cfg.Region
	if region == "" {
		region = defaultBedrockRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewBedrockWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg.Model), nil
}

// NewBedrockWithClient wraps an existing Converse client.
func NewBedrockWithClient(client ConverseAPI, model string) *Bedrock {
	if model == "" {
		model = defaultBedrockModel
	}
	return &Bedrock{client: client, model: model}
}

// Generate implements agent.Backend.
func (b *Bedrock) Generate(ctx context.Context, req *agent.GenerateRequest) (agent.RawResult, error) {
	output, err := b.client.Converse(ctx, b.buildInput(req))
	if err != nil {
		return nil, mapBedrockError(err)
	}

	outMsg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, NewProviderError(ProviderBedrock, ErrorCodeEmptyResponse, "no message in response", nil)
	}

	var out agent.Completion
	for _, block := range outMsg.Value.Content {
		switch blk := block.(type) {
		case *types.ContentBlockMemberText:
			out.Content += blk.Value
		case *types.ContentBlockMemberToolUse:
			if out.FunctionCall != nil {
				continue
			}
			out.FunctionCall = &agent.FunctionCall{
				ID:        aws.ToString(blk.Value.ToolUseId),
				Name:      aws.ToString(blk.Value.Name),
				Arguments: string(marshalDocument(blk.Value.Input)),
			}
		}
	}
	return out, nil
}

func (b *Bedrock) buildInput(req *agent.GenerateRequest) *bedrockruntime.ConverseInput {
	model := req.Agent.Model
	if model == "" {
		model = b.model
	}
	maxTokens := req.Agent.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultBedrockMaxTokens
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(model),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens)),
		},
	}
	if req.Agent.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(req.Agent.Temperature))
	}
	if sys := systemPrompt(req.Agent); sys != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: sys},
		}
	}

	if req.Message != nil {
		input.Messages = append(input.Messages, types.Message{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: req.Message.Content}},
		})
	}
	for _, turn := range req.Turns {
		input.Messages = append(input.Messages, bedrockTurn(turn))
	}

	if len(req.Tools) > 0 {
		input.ToolConfig = bedrockToolConfig(req.Tools)
	}
	return input
}

func bedrockTurn(turn agent.Turn) types.Message {
	switch turn.Role {
	case agent.RoleAssistant:
		msg := types.Message{Role: types.ConversationRoleAssistant}
		if turn.Content != "" {
			msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: turn.Content})
		}
		if fc := turn.FunctionCall; fc != nil {
			var input map[string]any
			_ = json.Unmarshal(fc.Input(), &input)
			if input == nil {
				input = map[string]any{}
			}
			msg.Content = append(msg.Content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
				ToolUseId: aws.String(fc.ID),
				Name:      aws.String(fc.Name),
				Input:     document.NewLazyDocument(input),
			}})
		}
		return msg
	case agent.RoleTool:
		toolUseID := ""
		if turn.FunctionCall != nil {
			toolUseID = turn.FunctionCall.ID
		}
		return types.Message{
			Role: types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
				ToolUseId: aws.String(toolUseID),
				Content: []types.ToolResultContentBlock{
					&types.ToolResultContentBlockMemberText{Value: turn.Content},
				},
			}}},
		}
	default:
		return types.Message{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: turn.Content}},
		}
	}
}

func bedrockToolConfig(tools []agent.ToolSpec) *types.ToolConfiguration {
	specs := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &schema)
		}
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		specs = append(specs, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(t.Name),
			Description: aws.String(t.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}})
	}
	return &types.ToolConfiguration{Tools: specs}
}

// marshalDocument renders a tool input document as JSON. Both lazy documents
// built by callers and documents decoded from a response marshal directly.
func marshalDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return json.RawMessage("{}")
	}
	if data, err := doc.MarshalSmithyDocument(); err == nil && json.Valid(data) && string(data) != "null" {
		return data
	}
	var v any
	if err := doc.UnmarshalSmithyDocument(&v); err != nil || v == nil {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

func mapBedrockError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return NewProviderError(ProviderBedrock, ErrorCodeTimeout, err.Error(), err)
	}

	code := ErrorCodeUnknown
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "TooManyRequestsException":
		code = ErrorCodeRateLimit
	case "AccessDeniedException", "UnrecognizedClientException":
		code = ErrorCodeAuthentication
	case "ValidationException":
		code = ErrorCodeInvalidRequest
	case "ResourceNotFoundException":
		code = ErrorCodeModelNotFound
	case "ModelNotReadyException", "ServiceUnavailableException", "InternalServerException":
		code = ErrorCodeServerError
	}
	return NewProviderError(ProviderBedrock, code, apiErr.ErrorMessage(), err)
}
