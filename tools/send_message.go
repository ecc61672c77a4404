package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aixgo-dev/agency/agent"
)

// SendMessageName is the registered name of the relay tool.
const SendMessageName = "send_message"

const sendMessageSchema = `{
  "type": "object",
  "properties": {
    "recipient": {"type": "string", "minLength": 1, "description": "Name of the agent to send the message to"},
    "message": {"type": "string", "minLength": 1, "description": "The message content"},
    "additional_instructions": {"type": "string", "description": "Extra context for the recipient"}
  },
  "required": ["recipient", "message"],
  "additionalProperties": false
}`

// SendMessage relays a message to another agent along a declared flow and
// returns that agent's reply.
type SendMessage struct {
	relayer agent.Relayer
}

// NewSendMessage creates the tool. deps.Relayer is required.
func NewSendMessage(deps Deps) (agent.Tool, error) {
	if deps.Relayer == nil {
		return nil, errors.New("relayer is required")
	}
	return &SendMessage{relayer: deps.Relayer}, nil
}

func (t *SendMessage) Name() string { return SendMessageName }

func (t *SendMessage) Description() string {
	return "Send a message to another agent in the agency and return its reply."
}

func (t *SendMessage) Schema() json.RawMessage { return json.RawMessage(sendMessageSchema) }

func (t *SendMessage) Run(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := agent.DecodeInput[struct {
		Recipient              string `json:"recipient"`
		Message                string `json:"message"`
		AdditionalInstructions string `json:"additional_instructions"`
	}](SendMessageName, input)
	if err != nil {
		return "", err
	}

	msg := in.Message
	if in.AdditionalInstructions != "" {
		msg += "\n\n" + in.AdditionalInstructions
	}

	reply, err := t.relayer.Relay(ctx, in.Recipient, msg)
	if err != nil {
		return "", agent.NewToolError(SendMessageName, err, "message to %s failed", in.Recipient)
	}
	return reply, nil
}
