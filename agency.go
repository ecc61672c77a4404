// Package agency routes messages between named LLM-backed agents.
//
// An Agency owns a registry of agents, a fixed graph of allowed
// communication flows and a designated entry agent. Route hands a message to
// one agent, normalizes whatever the completion backend returns into an
// agent.Envelope and records it in the conversation history. Agents reach
// each other only through the bounded Relay capability.
//
//	ceo := agent.MustNew(agent.Config{Name: "CEO"})
//	analyst := agent.MustNew(agent.Config{Name: "Analyst"})
//
//	a, err := agency.New([]agency.Entry{
//	    agency.Node(ceo),
//	    agency.Node(analyst),
//	    agency.Flow(ceo, analyst),
//	}, agency.WithBackend(backend))
//
//	envs := a.Route(ctx, "status?")
package agency

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/internal/graph"
)

type entryKind int

const (
	entryNode entryKind = iota
	entryPoint
	entryFlow
)

// Entry is one element of an agency chart: a node, an explicit entry point
// or a directed flow between two agents.
type Entry struct {
	kind entryKind
	from *agent.Agent
	to   *agent.Agent
}

// Node declares a standalone agent.
func Node(a *agent.Agent) Entry { return Entry{kind: entryNode, from: a} }

// EntryPoint declares a and designates it as the entry agent.
func EntryPoint(a *agent.Agent) Entry { return Entry{kind: entryPoint, from: a} }

// Flow declares that from may relay messages to to. Both agents must also be
// declared as nodes.
func Flow(from, to *agent.Agent) Entry { return Entry{kind: entryFlow, from: from, to: to} }

// FlowEdge is a declared communication flow.
type FlowEdge = graph.Edge

// Agency is the message router. The registry and flow graph are immutable
// after New; Route and Relay are safe for concurrent use.
type Agency struct {
	agents map[string]*agent.Agent
	order  []string
	entry  string
	flows  *graph.FlowGraph

	backend  agent.Backend
	history  History
	recordMu sync.Mutex
	logger   *slog.Logger
	clock    *clock
	opts     options
}

// New validates chart and builds an Agency. Construction errors are
// programmer errors: an empty chart, a flow to an undeclared agent, two
// agents under one name, conflicting entry points or a missing backend.
func New(chart []Entry, opts ...Option) (*Agency, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	a := &Agency{
		agents: make(map[string]*agent.Agent),
		flows:  graph.NewFlowGraph(),
		logger: o.logger,
		clock:  newClock(o.now),
		opts:   o,
	}

	var explicitEntry string
	for _, e := range chart {
		if e.kind == entryFlow {
			continue
		}
		if e.from == nil {
			return nil, ErrNilAgent
		}
		if err := a.register(e.from); err != nil {
			return nil, err
		}
		if e.kind == entryPoint {
			if explicitEntry != "" && explicitEntry != e.from.Name() {
				return nil, ErrMultipleEntryPoints
			}
			explicitEntry = e.from.Name()
		}
	}
	if len(a.order) == 0 {
		return nil, EmptyAgencyError{}
	}
	a.entry = a.order[0]
	if explicitEntry != "" {
		a.entry = explicitEntry
	}

	for _, e := range chart {
		if e.kind != entryFlow {
			continue
		}
		for _, end := range []*agent.Agent{e.from, e.to} {
			if end == nil {
				return nil, ErrNilAgent
			}
			if a.agents[end.Name()] != end {
				return nil, &UnknownAgentError{Name: end.Name()}
			}
		}
		if _, err := a.flows.AddEdge(e.from.Name(), e.to.Name()); err != nil {
			var nodeErr *graph.UnknownNodeError
			if errors.As(err, &nodeErr) {
				return nil, &UnknownAgentError{Name: nodeErr.Name}
			}
			return nil, err
		}
	}

	if o.backend == nil {
		return nil, ErrNoBackend
	}
	a.backend = o.backend

	a.history = o.history
	if a.history == nil {
		a.history = NewMemoryHistory()
	}

	if err := a.flows.FindCycle(); err != nil {
		a.logger.Warn("communication graph contains a relay cycle, bounded at runtime",
			"cycle", err.Error(), "max_relay_depth", o.maxRelayDepth)
	}
	a.logger.Debug("agency constructed",
		"agents", len(a.order), "flows", len(a.flows.Edges()), "entry", a.entry)
	return a, nil
}

func (a *Agency) register(ag *agent.Agent) error {
	existing, ok := a.agents[ag.Name()]
	if ok {
		if existing != ag {
			return &DuplicateAgentError{Name: ag.Name()}
		}
		return nil
	}
	a.agents[ag.Name()] = ag
	a.order = append(a.order, ag.Name())
	a.flows.AddNode(ag.Name())
	return nil
}

// Agents returns the registered agents in declaration order.
func (a *Agency) Agents() []*agent.Agent {
	out := make([]*agent.Agent, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.agents[name])
	}
	return out
}

// Agent returns the agent registered under name.
func (a *Agency) Agent(name string) (*agent.Agent, bool) {
	ag, ok := a.agents[name]
	return ag, ok
}

// EntryAgent returns the agent that receives untargeted messages.
func (a *Agency) EntryAgent() *agent.Agent {
	return a.agents[a.entry]
}

// Flows returns the declared communication flows in declaration order.
func (a *Agency) Flows() []FlowEdge {
	return a.flows.Edges()
}

// CanRelay reports whether from may relay messages to to.
func (a *Agency) CanRelay(from, to string) bool {
	return a.flows.Allowed(from, to)
}

// Recipients returns the agents from may relay to.
func (a *Agency) Recipients(from string) []string {
	return a.flows.Successors(from)
}

// History returns the conversation history.
func (a *Agency) History() History {
	return a.history
}

// Entries returns a snapshot of the conversation history.
func (a *Agency) Entries(ctx context.Context) ([]agent.Envelope, error) {
	return a.history.Entries(ctx)
}
