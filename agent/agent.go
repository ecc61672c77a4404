package agent

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidConfig is returned when an agent configuration fails validation.
	ErrInvalidConfig = errors.New("invalid agent config")

	// ErrDuplicateTool is returned when two tools with the same name are bound
	// to one agent through SetTools or New.
	ErrDuplicateTool = errors.New("duplicate tool")
)

// Config is the single record every agent is built from.
type Config struct {
	Name         string
	Description  string
	Instructions string

	// Model overrides the backend default model when non-empty.
	Model string

	// Temperature is the sampling temperature in [0, 2].
	Temperature float64

	// MaxTokens bounds the response length. Zero means the backend default.
	MaxTokens int

	Tools []Tool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: agent %q: temperature %.2f out of range [0, 2]", ErrInvalidConfig, c.Name, c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("%w: agent %q: max tokens must not be negative", ErrInvalidConfig, c.Name)
	}
	return nil
}

// Agent is a named actor with generation parameters and a mutable set of
// tool bindings. Identity fields are immutable after New.
type Agent struct {
	name         string
	description  string
	instructions string
	model        string
	temperature  float64
	maxTokens    int

	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// New builds an agent from cfg.
func New(cfg Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Agent{
		name:         cfg.Name,
		description:  cfg.Description,
		instructions: cfg.Instructions,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
	}
	if err := a.SetTools(cfg.Tools...); err != nil {
		return nil, err
	}
	return a, nil
}

// MustNew is like New but panics on error. Intended for tests and static setups.
func MustNew(cfg Config) *Agent {
	a, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return a
}

func (a *Agent) Name() string         { return a.name }
func (a *Agent) Description() string  { return a.description }
func (a *Agent) Instructions() string { return a.instructions }
func (a *Agent) Model() string        { return a.model }
func (a *Agent) Temperature() float64 { return a.temperature }
func (a *Agent) MaxTokens() int       { return a.maxTokens }

// Profile returns the generation parameters of the agent.
func (a *Agent) Profile() Profile {
	return Profile{
		Name:         a.name,
		Description:  a.description,
		Instructions: a.instructions,
		Model:        a.model,
		Temperature:  a.temperature,
		MaxTokens:    a.maxTokens,
	}
}

// SetTools atomically replaces all tool bindings.
func (a *Agent) SetTools(tools ...Tool) error {
	next := make(map[string]Tool, len(tools))
	order := make([]string, 0, len(tools))
	for _, t := range tools {
		if t == nil {
			return fmt.Errorf("%w: agent %q: nil tool", ErrInvalidConfig, a.name)
		}
		if _, dup := next[t.Name()]; dup {
			return fmt.Errorf("%w: agent %q: %q", ErrDuplicateTool, a.name, t.Name())
		}
		vt, err := WithSchemaValidation(t)
		if err != nil {
			return fmt.Errorf("%w: agent %q: %v", ErrInvalidConfig, a.name, err)
		}
		next[t.Name()] = vt
		order = append(order, t.Name())
	}

	a.mu.Lock()
	a.tools = next
	a.order = order
	a.mu.Unlock()
	return nil
}

// AddTool binds t, replacing any tool already bound under the same name.
func (a *Agent) AddTool(t Tool) error {
	if t == nil {
		return fmt.Errorf("%w: agent %q: nil tool", ErrInvalidConfig, a.name)
	}
	vt, err := WithSchemaValidation(t)
	if err != nil {
		return fmt.Errorf("%w: agent %q: %v", ErrInvalidConfig, a.name, err)
	}
	t = vt

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tools == nil {
		a.tools = make(map[string]Tool)
	}
	if _, exists := a.tools[t.Name()]; !exists {
		a.order = append(a.order, t.Name())
	}
	a.tools[t.Name()] = t
	return nil
}

// RemoveTool unbinds the named tool and reports whether it was bound.
func (a *Agent) RemoveTool(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.tools[name]; !exists {
		return false
	}
	delete(a.tools, name)
	for i, n := range a.order {
		if n == name {
			a.order = append(a.order[:i:i], a.order[i+1:]...)
			break
		}
	}
	return true
}

// Tool returns the tool bound under name.
func (a *Agent) Tool(name string) (Tool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.tools[name]
	return t, ok
}

// Tools returns the bound tools in binding order.
func (a *Agent) Tools() []Tool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Tool, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.tools[name])
	}
	return out
}

// ToolSpecs describes the bound tools for a backend request.
func (a *Agent) ToolSpecs() []ToolSpec {
	tools := a.Tools()
	specs := make([]ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return specs
}

func (a *Agent) String() string {
	return fmt.Sprintf("Agent{Name:%s}", a.name)
}
