package llm

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/internal/observability"
	metrics "github.com/aixgo-dev/agency/pkg/observability"
)

// Instrumented wraps a Backend with a span and request metrics per call.
type Instrumented struct {
	name  string
	inner agent.Backend
}

// WithInstrumentation wraps inner; name labels spans and metrics.
func WithInstrumentation(inner agent.Backend, name string) *Instrumented {
	return &Instrumented{name: name, inner: inner}
}

// Generate implements agent.Backend.
func (i *Instrumented) Generate(ctx context.Context, req *agent.GenerateRequest) (agent.RawResult, error) {
	ctx, span := observability.StartSpan(ctx, fmt.Sprintf("llm.%s.generate", i.name),
		trace.WithAttributes(
			attribute.String("llm.provider", i.name),
			attribute.String("llm.model", req.Agent.Model),
			attribute.String("llm.agent", req.Agent.Name),
			attribute.Float64("llm.temperature", req.Agent.Temperature),
			attribute.Int("llm.max_tokens", req.Agent.MaxTokens),
			attribute.Int("llm.turns", len(req.Turns)),
			attribute.Int("llm.tools", len(req.Tools)),
		),
	)
	defer span.End()

	raw, err := i.inner.Generate(ctx, req)
	if err != nil {
		observability.FailSpan(span, err)
		metrics.RecordBackendRequest(i.name, "error")
		return nil, err
	}
	metrics.RecordBackendRequest(i.name, "ok")
	return raw, nil
}
