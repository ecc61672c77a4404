package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/aixgo-dev/agency/agent"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	openaiMaxRetries   = 3
)

// ChatClient is the subset of the go-openai client used by OpenAI, so tests
// can substitute it.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI is an agent.Backend for the OpenAI chat completions API and
// compatible servers.
type OpenAI struct {
	client     ChatClient
	model      string
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAI creates an OpenAI backend from cfg. An API key is required.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	o := NewOpenAIWithClient(openai.NewClientWithConfig(clientCfg), cfg.Model)
	if cfg.MaxRetries > 0 {
		o.maxRetries = cfg.MaxRetries
	}
	return o, nil
}

// NewOpenAIWithClient wraps an existing chat client.
func NewOpenAIWithClient(client ChatClient, model string) *OpenAI {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		client:     client,
		model:      model,
		maxRetries: openaiMaxRetries,
		retryDelay: time.Second,
	}
}

// Generate implements agent.Backend. A reply with tool calls yields a
// Completion carrying the first call; otherwise the text content.
func (o *OpenAI) Generate(ctx context.Context, req *agent.GenerateRequest) (agent.RawResult, error) {
	chatReq := o.buildRequest(req)

	var resp openai.ChatCompletionResponse
	err := retry(ctx, o.maxRetries, o.retryDelay, func() error {
		var callErr error
		resp, callErr = o.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			return mapOpenAIError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, NewProviderError(ProviderOpenAI, ErrorCodeEmptyResponse, "no choices in response", nil)
	}

	msg := resp.Choices[0].Message
	out := agent.Completion{Content: msg.Content}
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		out.FunctionCall = &agent.FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}
	} else if msg.FunctionCall != nil {
		out.FunctionCall = &agent.FunctionCall{
			Name:      msg.FunctionCall.Name,
			Arguments: msg.FunctionCall.Arguments,
		}
	}
	return out, nil
}

func (o *OpenAI) buildRequest(req *agent.GenerateRequest) openai.ChatCompletionRequest {
	model := req.Agent.Model
	if model == "" {
		model = o.model
	}

	var messages []openai.ChatCompletionMessage
	if sys := systemPrompt(req.Agent); sys != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: sys})
	}
	if req.Message != nil {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Message.Content})
	}
	for _, turn := range req.Turns {
		messages = append(messages, openaiTurn(turn))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Agent.Temperature),
		MaxTokens:   req.Agent.MaxTokens,
	}

	if len(req.Tools) > 0 {
		chatReq.Tools = make([]openai.Tool, len(req.Tools))
		for i, t := range req.Tools {
			var params any = json.RawMessage(`{"type":"object","properties":{}}`)
			if len(t.Parameters) > 0 {
				params = t.Parameters
			}
			chatReq.Tools[i] = openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  params,
				},
			}
		}
	}
	return chatReq
}

func openaiTurn(turn agent.Turn) openai.ChatCompletionMessage {
	switch turn.Role {
	case agent.RoleAssistant:
		m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: turn.Content}
		if fc := turn.FunctionCall; fc != nil {
			m.ToolCalls = []openai.ToolCall{{
				ID:   fc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      fc.Name,
					Arguments: string(fc.Input()),
				},
			}}
		}
		return m
	case agent.RoleTool:
		m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, Content: turn.Content}
		if turn.FunctionCall != nil {
			m.ToolCallID = turn.FunctionCall.ID
			m.Name = turn.FunctionCall.Name
		}
		return m
	default:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: turn.Content}
	}
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe := NewProviderError(ProviderOpenAI, codeForStatus(apiErr.HTTPStatusCode), apiErr.Message, err)
		pe.StatusCode = apiErr.HTTPStatusCode
		return pe
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		pe := NewProviderError(ProviderOpenAI, codeForStatus(reqErr.HTTPStatusCode), fmt.Sprintf("request failed: %v", reqErr.Err), err)
		pe.StatusCode = reqErr.HTTPStatusCode
		return pe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NewProviderError(ProviderOpenAI, ErrorCodeTimeout, err.Error(), err)
}
