package agency

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/internal/observability"
	metrics "github.com/aixgo-dev/agency/pkg/observability"
)

// Relay hands message from one agent to another and returns the recipient's
// final reply. The flow from -> to must be declared, the chain of nested
// relays must stay below the maximum depth, and to must not already be
// handling a message further up the same chain.
//
// The recipient's envelopes are recorded and reported to the enclosing Route
// like any other. An error envelope from the recipient is returned as an error.
func (a *Agency) Relay(ctx context.Context, from, to, message string) (string, error) {
	ctx, span := observability.StartSpan(ctx, "agency.relay",
		trace.WithAttributes(
			attribute.String("agency.from", from),
			attribute.String("agency.to", to),
		),
	)
	defer span.End()

	f := frameFrom(ctx)
	span.SetAttributes(attribute.Int("agency.relay_depth", f.depth+1))

	if err := a.checkRelay(f, from, to); err != nil {
		observability.FailSpan(span, err)
		metrics.RecordRelay(from, to, "denied")
		a.logger.Warn("relay denied", "from", from, "to", to, "depth", f.depth, "error", err)
		return "", err
	}

	f.depth++
	envs := a.Route(withFrame(ctx, f), message, To(to), From(from))

	reply, err := finalReply(to, envs)
	if err != nil {
		observability.FailSpan(span, err)
		metrics.RecordRelay(from, to, "error")
		return "", err
	}
	metrics.RecordRelay(from, to, "ok")
	return reply, nil
}

func (a *Agency) checkRelay(f frame, from, to string) error {
	for _, name := range []string{from, to} {
		if _, ok := a.agents[name]; !ok {
			return fmt.Errorf("%w: %q is not registered", ErrUnknownAgent, name)
		}
	}
	if !a.flows.Allowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrFlowNotAllowed, from, to)
	}
	if f.depth >= a.opts.maxRelayDepth {
		return fmt.Errorf("%w: limit is %d", ErrRelayDepthExceeded, a.opts.maxRelayDepth)
	}
	if slices.Contains(f.chain, to) {
		return &RelayCycleError{Chain: slices.Clone(f.chain), To: to}
	}
	return nil
}

func finalReply(to string, envs []agent.Envelope) (string, error) {
	for i := len(envs) - 1; i >= 0; i-- {
		env := envs[i]
		if env.Agent != to && env.Agent != agent.SenderSystem {
			continue
		}
		switch env.Type {
		case agent.EnvelopeError:
			return "", fmt.Errorf("%s: %s", env.Agent, env.Content)
		case agent.EnvelopeFunction:
			return "", fmt.Errorf("%s answered with an unexecuted call to %s", to, env.Name)
		default:
			return env.Content, nil
		}
	}
	return "", fmt.Errorf("%s produced no reply", to)
}

// RelayerFor returns the relay capability of the named agent. Tools bound to
// that agent use it to reach the agents it has flows to.
func (a *Agency) RelayerFor(name string) agent.Relayer {
	return &relayer{agency: a, from: name}
}

type relayer struct {
	agency *Agency
	from   string
}

func (r *relayer) Relay(ctx context.Context, recipient, message string) (string, error) {
	return r.agency.Relay(ctx, r.from, recipient, message)
}
