package agency

import (
	"io"
	"log/slog"
	"time"

	"github.com/aixgo-dev/agency/agent"
)

// DefaultMaxRelayDepth bounds nested agent-to-agent relays.
const DefaultMaxRelayDepth = 3

type options struct {
	backend            agent.Backend
	history            History
	logger             *slog.Logger
	now                func() time.Time
	maxRelayDepth      int
	generateTimeout    time.Duration
	maxToolSteps       int
	sharedInstructions string
	defaultTemperature float64
	defaultMaxTokens   int
}

func defaultOptions() options {
	return options{
		maxRelayDepth: DefaultMaxRelayDepth,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option configures an Agency.
type Option func(*options)

// WithBackend sets the completion backend. Required.
func WithBackend(b agent.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithHistory replaces the default in-memory conversation history.
func WithHistory(h History) Option {
	return func(o *options) { o.history = h }
}

// WithLogger sets the structured logger. Logging is discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source used to stamp envelopes.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMaxRelayDepth bounds how many relays may be nested below a route.
// Zero disables relaying.
func WithMaxRelayDepth(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRelayDepth = n
		}
	}
}

// WithGenerateTimeout puts a deadline on every backend call. Expiry yields an
// error envelope.
func WithGenerateTimeout(d time.Duration) Option {
	return func(o *options) { o.generateTimeout = d }
}

// WithToolExecution makes the router run the tools an agent asks for and feed
// the results back to the backend, for at most maxSteps calls per invocation.
// Without it function envelopes are returned to the caller as-is.
func WithToolExecution(maxSteps int) Option {
	return func(o *options) { o.maxToolSteps = maxSteps }
}

// WithSharedInstructions prepends text to every agent's instructions.
func WithSharedInstructions(text string) Option {
	return func(o *options) { o.sharedInstructions = text }
}

// WithDefaults sets the temperature and token budget used for agents that
// leave them at zero.
func WithDefaults(temperature float64, maxTokens int) Option {
	return func(o *options) {
		o.defaultTemperature = temperature
		o.defaultMaxTokens = maxTokens
	}
}

type routeOptions struct {
	target    string
	sender    string
	observers []func(agent.Envelope)
	metadata  map[string]any
}

// RouteOption configures a single Route call.
type RouteOption func(*routeOptions)

// To addresses the message to the named agent instead of the entry agent.
func To(name string) RouteOption {
	return func(o *routeOptions) { o.target = name }
}

// From sets the sender label of the message. Defaults to "user".
func From(sender string) RouteOption {
	return func(o *routeOptions) { o.sender = sender }
}

// WithObserver registers fn to be called synchronously for every envelope
// emitted during the call, including those produced by nested relays.
func WithObserver(fn func(agent.Envelope)) RouteOption {
	return func(o *routeOptions) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// WithMetadata attaches metadata to the message handed to the backend.
func WithMetadata(key string, value any) RouteOption {
	return func(o *routeOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]any)
		}
		o.metadata[key] = value
	}
}
