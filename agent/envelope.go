package agent

import (
	"fmt"
	"time"
)

// EnvelopeType discriminates the three shapes an agent response can take.
type EnvelopeType string

const (
	EnvelopeMessage  EnvelopeType = "message"
	EnvelopeFunction EnvelopeType = "function"
	EnvelopeError    EnvelopeType = "error"
)

// Valid reports whether t is one of the known envelope types.
func (t EnvelopeType) Valid() bool {
	switch t {
	case EnvelopeMessage, EnvelopeFunction, EnvelopeError:
		return true
	}
	return false
}

// Envelope is the normalized output of an agent invocation.
//
// For function envelopes Name holds the function name and Content its raw
// JSON arguments. For message and error envelopes Name is empty.
type Envelope struct {
	Type      EnvelopeType `json:"type"`
	Agent     string       `json:"agent"`
	Content   string       `json:"content"`
	Name      string       `json:"name,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// MessageEnvelope builds a plain message envelope.
func MessageEnvelope(agentName, content string) Envelope {
	return Envelope{Type: EnvelopeMessage, Agent: agentName, Content: content}
}

// FunctionEnvelope builds a function invocation envelope.
func FunctionEnvelope(agentName, name, arguments string) Envelope {
	return Envelope{Type: EnvelopeFunction, Agent: agentName, Name: name, Content: arguments}
}

// ErrorEnvelope builds an error envelope.
func ErrorEnvelope(agentName, content string) Envelope {
	return Envelope{Type: EnvelopeError, Agent: agentName, Content: content}
}

// IsError reports whether e is an error envelope.
func (e Envelope) IsError() bool { return e.Type == EnvelopeError }

// FunctionCall returns the call descriptor of a function envelope, or nil.
func (e Envelope) FunctionCall() *FunctionCall {
	if e.Type != EnvelopeFunction {
		return nil
	}
	return &FunctionCall{Name: e.Name, Arguments: e.Content}
}

func (e Envelope) String() string {
	if e.Type == EnvelopeFunction {
		return fmt.Sprintf("[%s] %s(%s)", e.Agent, e.Name, e.Content)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Agent, e.Type, e.Content)
}
