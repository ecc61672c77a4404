package agency

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyAgency is returned by New when the chart declares no agents.
	ErrEmptyAgency = errors.New("agency has no agents")

	// ErrUnknownAgent is wrapped by UnknownAgentError.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrDuplicateAgent is wrapped by DuplicateAgentError.
	ErrDuplicateAgent = errors.New("duplicate agent name")

	// ErrMultipleEntryPoints is returned when two different agents are
	// designated as entry point.
	ErrMultipleEntryPoints = errors.New("multiple entry points")

	// ErrNoBackend is returned when no completion backend is configured.
	ErrNoBackend = errors.New("no completion backend configured")

	// ErrNilAgent is returned when the chart contains a nil agent.
	ErrNilAgent = errors.New("nil agent in chart")

	// ErrFlowNotAllowed is returned by Relay when no flow connects sender and recipient.
	ErrFlowNotAllowed = errors.New("communication flow not allowed")

	// ErrRelayDepthExceeded is returned by Relay when the chain of nested
	// relays reached the configured maximum depth.
	ErrRelayDepthExceeded = errors.New("relay depth exceeded")

	// ErrRelayCycle is wrapped by RelayCycleError.
	ErrRelayCycle = errors.New("relay cycle")

	// ErrInvalidResponseFormat is reported in error envelopes when a backend
	// result has no recognizable shape.
	ErrInvalidResponseFormat = errors.New("invalid response format")
)

// EmptyAgencyError is returned when construction is attempted without agents.
// It matches ErrEmptyAgency with errors.Is.
type EmptyAgencyError struct{}

func (EmptyAgencyError) Error() string { return ErrEmptyAgency.Error() }
func (EmptyAgencyError) Unwrap() error { return ErrEmptyAgency }

// UnknownAgentError reports a flow endpoint that is not a declared node.
type UnknownAgentError struct {
	Name string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent %q referenced by communication flow", e.Name)
}

// Unwrap returns the base error for errors.Is compatibility.
func (e *UnknownAgentError) Unwrap() error { return ErrUnknownAgent }

// DuplicateAgentError reports two distinct agents declared under one name.
type DuplicateAgentError struct {
	Name string
}

func (e *DuplicateAgentError) Error() string {
	return fmt.Sprintf("two different agents share the name %q", e.Name)
}

// Unwrap returns the base error for errors.Is compatibility.
func (e *DuplicateAgentError) Unwrap() error { return ErrDuplicateAgent }

// RelayCycleError reports a relay to an agent that is already active in the
// current relay chain.
type RelayCycleError struct {
	Chain []string
	To    string
}

func (e *RelayCycleError) Error() string {
	return fmt.Sprintf("relay cycle: %s -> %s", strings.Join(e.Chain, " -> "), e.To)
}

// Unwrap returns the base error for errors.Is compatibility.
func (e *RelayCycleError) Unwrap() error { return ErrRelayCycle }
