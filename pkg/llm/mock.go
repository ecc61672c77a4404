package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/aixgo-dev/agency/agent"
)

// Mock is a scripted backend for testing. Queued errors take precedence over
// queued responses at the same position; once both queues are drained it
// returns "Mock response".
type Mock struct {
	mu        sync.Mutex
	responses []agent.RawResult
	errs      []error
	calls     []*agent.GenerateRequest
	index     int
}

// NewMock creates an empty mock backend.
func NewMock() *Mock {
	return &Mock{}
}

// AddResponse queues a result to return.
func (m *Mock) AddResponse(raw agent.RawResult) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, raw)
	return m
}

// AddError queues an error to return. A nil error is a placeholder that
// lets the response at the same index through.
func (m *Mock) AddError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
	return m
}

// Generate implements agent.Backend.
func (m *Mock) Generate(_ context.Context, req *agent.GenerateRequest) (agent.RawResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	i := m.index
	m.index++

	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "Mock response", nil
}

// Calls returns the requests received so far.
func (m *Mock) Calls() []*agent.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*agent.GenerateRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears queued results and recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses, m.errs, m.calls, m.index = nil, nil, nil, 0
}

// Echo returns a backend that answers every message by repeating it. It
// needs no credentials and is used for offline runs.
func Echo() agent.Backend {
	return agent.BackendFunc(func(_ context.Context, req *agent.GenerateRequest) (agent.RawResult, error) {
		if len(req.Turns) > 0 {
			return fmt.Sprintf("%s: %s", req.Agent.Name, req.Turns[len(req.Turns)-1].Content), nil
		}
		content := ""
		if req.Message != nil {
			content = req.Message.Content
		}
		return fmt.Sprintf("%s received: %s", req.Agent.Name, content), nil
	})
}
