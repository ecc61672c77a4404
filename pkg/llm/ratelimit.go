package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/aixgo-dev/agency/agent"
)

// RateLimited delays backend calls to stay under a token-bucket rate.
type RateLimited struct {
	inner   agent.Backend
	limiter *rate.Limiter
}

// WithRateLimit wraps inner with a limiter of rps requests per second. A
// burst below one is raised to one.
func WithRateLimit(inner agent.Backend, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Generate implements agent.Backend. It waits for a token or the context.
func (r *RateLimited) Generate(ctx context.Context, req *agent.GenerateRequest) (agent.RawResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.inner.Generate(ctx, req)
}
