package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Well-known sender labels.
const (
	// SenderUser labels messages typed by a human.
	SenderUser = "user"

	// SenderSystem labels envelopes produced by the router itself rather
	// than by an agent, such as routing failures.
	SenderSystem = "System"
)

// Message is a unit of communication handed to an agent.
type Message struct {
	// ID is a unique identifier for this message, automatically generated.
	ID string `json:"id"`

	// Sender is the label of the producer: a user, a transport or another agent.
	Sender string `json:"sender"`

	// Content is the text payload.
	Content string `json:"content"`

	// FunctionCall is set when the message carries a structured call
	// descriptor instead of plain text.
	FunctionCall *FunctionCall `json:"function_call,omitempty"`

	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`

	// Metadata contains optional key-value pairs for tracing and transports.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewMessage creates a text message from sender with a fresh ID and timestamp.
func NewMessage(sender, content string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

// WithMetadata adds metadata to the message and returns it for chaining.
//
//	msg := NewMessage("user", "status?").
//	    WithMetadata("analysisType", "market").
//	    WithMetadata("transport", "ws")
func (m *Message) WithMetadata(key string, value any) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
	return m
}

// GetMetadataString returns metadata stored under key as a string, or
// defaultValue when it is missing or not a string.
func (m *Message) GetMetadataString(key, defaultValue string) string {
	if m.Metadata == nil {
		return defaultValue
	}
	if s, ok := m.Metadata[key].(string); ok {
		return s
	}
	return defaultValue
}

// Clone creates a deep copy of the message.
func (m *Message) Clone() *Message {
	clone := *m
	if m.FunctionCall != nil {
		fc := *m.FunctionCall
		clone.FunctionCall = &fc
	}
	clone.Metadata = make(map[string]any, len(m.Metadata))
	for k, v := range m.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}

// String returns a human-readable representation of the message for debugging.
func (m *Message) String() string {
	return fmt.Sprintf("Message{ID:%s, Sender:%s, Timestamp:%s}", m.ID, m.Sender, m.Timestamp.Format(time.RFC3339))
}

// FunctionCall is a structured request from the model to run a named tool.
type FunctionCall struct {
	// ID correlates the call with its result for backends that track it.
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Input returns the call arguments as raw JSON, substituting an empty object
// when the model sent none.
func (f *FunctionCall) Input() json.RawMessage {
	if f.Arguments == "" {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(f.Arguments)
}
