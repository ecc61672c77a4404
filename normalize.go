package agency

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/aixgo-dev/agency/agent"
)

// Normalize decodes a backend result into exactly one envelope attributed to
// agentName. Shapes are tried in order: function call, pre-shaped envelope,
// object with content, plain string. Anything else becomes an "invalid
// response format" error envelope.
//
// The returned envelope carries a zero timestamp unless the result supplied
// one; Route stamps it before recording. Nil pointers and results whose
// accessors panic are reported as invalid format.
func Normalize(agentName string, raw agent.RawResult) (env agent.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			env = agent.ErrorEnvelope(agentName, fmt.Sprintf("%s: %T panicked: %v", ErrInvalidResponseFormat, raw, r))
		}
	}()
	if isNilPointer(raw) {
		return invalidFormat(agentName, raw)
	}
	return normalize(agentName, raw)
}

func isNilPointer(raw any) bool {
	v := reflect.ValueOf(raw)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func normalize(agentName string, raw agent.RawResult) agent.Envelope {
	switch v := raw.(type) {
	case nil:
		return invalidFormat(agentName, raw)
	case string:
		return agent.MessageEnvelope(agentName, v)
	case *agent.FunctionCall:
		if v == nil {
			return invalidFormat(agentName, raw)
		}
		return functionEnvelope(agentName, *v)
	case agent.FunctionCall:
		return functionEnvelope(agentName, v)
	case agent.Envelope:
		return preShaped(agentName, v)
	case *agent.Envelope:
		if v == nil {
			return invalidFormat(agentName, raw)
		}
		return preShaped(agentName, *v)
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return normalizeMap(agentName, m)
	case map[string]any:
		return normalizeMap(agentName, v)
	case agent.FunctionCaller:
		if fc := v.GetFunctionCall(); fc != nil {
			return functionEnvelope(agentName, *fc)
		}
		if cc, ok := v.(agent.ContentCarrier); ok {
			return agent.MessageEnvelope(agentName, cc.GetContent())
		}
		return invalidFormat(agentName, raw)
	case agent.ContentCarrier:
		return agent.MessageEnvelope(agentName, v.GetContent())
	default:
		return invalidFormat(agentName, raw)
	}
}

func normalizeMap(agentName string, m map[string]any) agent.Envelope {
	if raw, ok := m["function_call"]; ok && raw != nil {
		fc, ok := decodeFunctionCall(raw)
		if !ok {
			return invalidFormat(agentName, m)
		}
		return functionEnvelope(agentName, fc)
	}

	if t, ok := m["type"]; ok {
		env := agent.Envelope{
			Type:    agent.EnvelopeType(stringify(t)),
			Content: stringify(m["content"]),
			Name:    stringify(m["name"]),
		}
		switch ts := m["timestamp"].(type) {
		case time.Time:
			env.Timestamp = ts
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				env.Timestamp = parsed
			}
		}
		return preShaped(agentName, env)
	}

	if c, ok := m["content"]; ok {
		return agent.MessageEnvelope(agentName, stringify(c))
	}
	return invalidFormat(agentName, m)
}

// preShaped accepts an envelope produced by the backend itself. The agent
// name is always the invoked agent's. "success" is accepted as a message.
func preShaped(agentName string, env agent.Envelope) agent.Envelope {
	env.Agent = agentName
	switch env.Type {
	case agent.EnvelopeMessage, "success":
		env.Type = agent.EnvelopeMessage
		env.Name = ""
	case agent.EnvelopeError:
		env.Name = ""
	case agent.EnvelopeFunction:
		if env.Name == "" {
			return invalidFormat(agentName, env)
		}
	default:
		return invalidFormat(agentName, env)
	}
	return env
}

func functionEnvelope(agentName string, fc agent.FunctionCall) agent.Envelope {
	if fc.Name == "" {
		return invalidFormat(agentName, fc)
	}
	return agent.FunctionEnvelope(agentName, fc.Name, fc.Arguments)
}

func decodeFunctionCall(raw any) (agent.FunctionCall, bool) {
	switch v := raw.(type) {
	case agent.FunctionCall:
		return v, true
	case *agent.FunctionCall:
		if v == nil {
			return agent.FunctionCall{}, false
		}
		return *v, true
	case map[string]any:
		name, _ := v["name"].(string)
		fc := agent.FunctionCall{Name: name, ID: stringify(v["id"])}
		switch args := v["arguments"].(type) {
		case nil:
			fc.Arguments = "{}"
		case string:
			fc.Arguments = args
		default:
			fc.Arguments = stringify(args)
		}
		return fc, name != ""
	}
	return agent.FunctionCall{}, false
}

func invalidFormat(agentName string, raw any) agent.Envelope {
	return agent.ErrorEnvelope(agentName, fmt.Sprintf("%s: unsupported result %T", ErrInvalidResponseFormat, raw))
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case fmt.Stringer:
		return s.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
