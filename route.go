package agency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/internal/observability"
	metrics "github.com/aixgo-dev/agency/pkg/observability"
)

// State is a step of a single route invocation. It is attached to spans and
// log records.
type State string

const (
	StateResolving   State = "resolving_target"
	StateInvoking    State = "invoking_agent"
	StateNormalizing State = "normalizing_response"
	StateRecording   State = "recording"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// sink collects the envelopes of one Route call and forwards them to the
// enclosing call, so the outermost Route returns every envelope emitted below it.
type sink struct {
	parent    *sink
	observers []func(agent.Envelope)

	mu   sync.Mutex
	envs []agent.Envelope
}

func (s *sink) emit(env agent.Envelope) {
	s.mu.Lock()
	s.envs = append(s.envs, env)
	s.mu.Unlock()
	for _, fn := range s.observers {
		fn(env)
	}
	if s.parent != nil {
		s.parent.emit(env)
	}
}

func (s *sink) envelopes() []agent.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agent.Envelope, len(s.envs))
	copy(out, s.envs)
	return out
}

type frameKey struct{}

// frame is the per-call routing state carried in the context.
type frame struct {
	chain []string
	depth int
	sink  *sink
}

func frameFrom(ctx context.Context) frame {
	f, _ := ctx.Value(frameKey{}).(frame)
	return f
}

func withFrame(ctx context.Context, f frame) context.Context {
	return context.WithValue(ctx, frameKey{}, f)
}

// Route delivers message to the agent named by To, or to the entry agent,
// and returns the envelopes emitted while handling it, in order. Envelopes of
// relays triggered by the agent's tools are included.
//
// Route never fails: unknown targets, backend errors, timeouts and
// unrecognized results are all reported as error envelopes. Every returned
// envelope is also appended to the history.
func (a *Agency) Route(ctx context.Context, message string, opts ...RouteOption) []agent.Envelope {
	ro := routeOptions{sender: agent.SenderUser}
	for _, opt := range opts {
		opt(&ro)
	}

	f := frameFrom(ctx)
	s := &sink{parent: f.sink, observers: ro.observers}
	f.sink = s
	a.dispatch(withFrame(ctx, f), message, ro)
	return s.envelopes()
}

func (a *Agency) dispatch(ctx context.Context, message string, ro routeOptions) {
	ctx, span := observability.StartSpan(ctx, "agency.route",
		trace.WithAttributes(
			attribute.String("agency.sender", ro.sender),
			attribute.String("agency.target", ro.target),
		),
	)
	defer span.End()

	span.AddEvent(string(StateResolving))
	name := a.entry
	if ro.target != "" {
		if _, ok := a.agents[ro.target]; !ok {
			err := fmt.Errorf("%w: %q is not registered", ErrUnknownAgent, ro.target)
			a.fail(ctx, span, agent.SenderSystem, err)
			return
		}
		name = ro.target
	}
	if strings.TrimSpace(message) == "" {
		a.fail(ctx, span, agent.SenderSystem, errors.New("message must not be empty"))
		return
	}
	ag := a.agents[name]
	span.SetAttributes(attribute.String("agency.agent", name))

	msg := agent.NewMessage(ro.sender, message)
	for k, v := range ro.metadata {
		msg.WithMetadata(k, v)
	}

	f := frameFrom(ctx)
	f.chain = append(append([]string(nil), f.chain...), name)
	ctx = withFrame(ctx, f)

	start := time.Now()
	a.invoke(ctx, span, ag, msg)
	metrics.RecordRoute(name, time.Since(start))
}

// invoke runs the generation step, optionally looping through tool calls.
func (a *Agency) invoke(ctx context.Context, span trace.Span, ag *agent.Agent, msg *agent.Message) {
	req := &agent.GenerateRequest{
		Agent:   a.profile(ag),
		Message: msg,
		Tools:   ag.ToolSpecs(),
	}

	for steps := 0; ; steps++ {
		span.AddEvent(string(StateInvoking))
		raw, err := a.generate(ctx, req)
		if err != nil {
			a.fail(ctx, span, ag.Name(), err)
			return
		}

		span.AddEvent(string(StateNormalizing))
		env := Normalize(ag.Name(), raw)
		a.emit(ctx, env)
		if env.Type != agent.EnvelopeFunction || a.opts.maxToolSteps <= 0 {
			if env.IsError() {
				span.AddEvent(string(StateFailed))
			} else {
				span.AddEvent(string(StateDone))
			}
			return
		}
		if steps >= a.opts.maxToolSteps {
			a.fail(ctx, span, ag.Name(), fmt.Errorf("tool step limit of %d reached", a.opts.maxToolSteps))
			return
		}

		fc := env.FunctionCall()
		fc.ID = "call_" + uuid.NewString()
		output := a.runTool(ctx, ag, fc)
		req.Turns = append(req.Turns,
			agent.Turn{Role: agent.RoleAssistant, FunctionCall: fc},
			agent.Turn{Role: agent.RoleTool, Content: output, FunctionCall: fc},
		)
	}
}

type generateResult struct {
	raw agent.RawResult
	err error
}

// generate calls the backend under the configured deadline. Panics and
// deadline expiry are turned into errors; a backend that ignores its context
// is abandoned rather than awaited.
func (a *Agency) generate(ctx context.Context, req *agent.GenerateRequest) (agent.RawResult, error) {
	if a.opts.generateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.generateTimeout)
		defer cancel()
	}

	done := make(chan generateResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- generateResult{err: fmt.Errorf("backend panic: %v", r)}
			}
		}()
		raw, err := a.backend.Generate(ctx, req)
		done <- generateResult{raw: raw, err: err}
	}()

	select {
	case res := <-done:
		return res.raw, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("backend call for %s aborted: %w", req.Agent.Name, ctx.Err())
	}
}

func (a *Agency) runTool(ctx context.Context, ag *agent.Agent, fc *agent.FunctionCall) string {
	ctx, span := observability.StartSpan(ctx, "agency.tool",
		trace.WithAttributes(
			attribute.String("agency.agent", ag.Name()),
			attribute.String("agency.tool", fc.Name),
		),
	)
	defer span.End()

	tool, ok := ag.Tool(fc.Name)
	if !ok {
		metrics.RecordToolCall(fc.Name, "unbound", 0)
		return fmt.Sprintf("Error: tool %q is not available to agent %s", fc.Name, ag.Name())
	}

	start := time.Now()
	out := agent.InvokeTool(ctx, tool, fc.Input())
	status := "ok"
	if strings.HasPrefix(out, "Error:") {
		status = "error"
		span.SetAttributes(attribute.Bool("agency.tool.error", true))
	}
	metrics.RecordToolCall(fc.Name, status, time.Since(start))
	a.logger.Debug("tool executed", "agent", ag.Name(), "tool", fc.Name, "status", status)
	return out
}

func (a *Agency) profile(ag *agent.Agent) agent.Profile {
	p := ag.Profile()
	if a.opts.sharedInstructions != "" {
		if p.Instructions == "" {
			p.Instructions = a.opts.sharedInstructions
		} else {
			p.Instructions = a.opts.sharedInstructions + "\n\n" + p.Instructions
		}
	}
	if p.Temperature == 0 {
		p.Temperature = a.opts.defaultTemperature
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = a.opts.defaultMaxTokens
	}
	return p
}

func (a *Agency) fail(ctx context.Context, span trace.Span, origin string, err error) {
	observability.FailSpan(span, err)
	span.AddEvent(string(StateFailed))
	a.logger.Warn("route failed", "agent", origin, "error", err)
	a.emit(ctx, agent.ErrorEnvelope(origin, err.Error()))
}

// emit stamps env, records it and hands it to the call's sink.
func (a *Agency) emit(ctx context.Context, env agent.Envelope) {
	trace.SpanFromContext(ctx).AddEvent(string(StateRecording))

	// Stamp and append under one lock so history order matches timestamp order.
	a.recordMu.Lock()
	if env.Timestamp.IsZero() {
		env.Timestamp = a.clock.next()
	}
	err := a.history.Append(context.WithoutCancel(ctx), env)
	a.recordMu.Unlock()
	if err != nil {
		a.logger.Error("failed to record envelope", "agent", env.Agent, "type", env.Type, "error", err)
	}
	metrics.RecordEnvelope(env.Agent, string(env.Type))

	if s := frameFrom(ctx).sink; s != nil {
		s.emit(env)
	}
}
