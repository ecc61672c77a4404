package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/aixgo-dev/agency/agent"
	metrics "github.com/aixgo-dev/agency/pkg/observability"
)

// Default circuit breaker settings.
const (
	defaultBreakerMaxFailures uint32 = 5
	defaultBreakerTimeout            = 30 * time.Second
	defaultBreakerInterval           = 60 * time.Second
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	Disabled bool `yaml:"disabled"`
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before a probe is allowed.
	Timeout time.Duration `yaml:"timeout"`
	// Interval clears failure counts while closed (0 = default).
	Interval time.Duration `yaml:"interval"`
}

// Breaker wraps a Backend with circuit breaker protection. Once the backend
// fails repeatedly, calls fail fast until the open timeout elapses.
type Breaker struct {
	name    string
	inner   agent.Backend
	breaker *gobreaker.CircuitBreaker[agent.RawResult]
}

// WithCircuitBreaker wraps inner. Zero fields of cfg take defaults.
func WithCircuitBreaker(inner agent.Backend, name string, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[agent.RawResult](gobreaker.Settings{
		Name:        "backend:" + name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(breaker string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", breaker,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.SetBreakerState(name, int(to))
		},
		IsSuccessful: func(err error) bool {
			// Cancellation and deadlines set by the caller say nothing about backend health.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	metrics.SetBreakerState(name, int(gobreaker.StateClosed))

	return &Breaker{name: name, inner: inner, breaker: cb}
}

// Generate implements agent.Backend.
func (b *Breaker) Generate(ctx context.Context, req *agent.GenerateRequest) (agent.RawResult, error) {
	raw, err := b.breaker.Execute(func() (agent.RawResult, error) {
		return b.inner.Generate(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("backend %q %w: %w", b.name, ErrCircuitOpen, err)
	}
	return raw, err
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

// Check reports an error while the circuit is open. It is meant for
// readiness probes.
func (b *Breaker) Check(context.Context) error {
	if b.breaker.State() == gobreaker.StateOpen {
		return fmt.Errorf("backend %q: %w", b.name, ErrCircuitOpen)
	}
	return nil
}
