package graph

import (
	"fmt"
	"strings"
)

// UnknownNodeError reports an edge endpoint that was never added as a node.
type UnknownNodeError struct {
	Name string
	From string
	To   string
}

// Error returns a human-readable description of the dangling edge.
func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("flow %s -> %s references unknown agent %q", e.From, e.To, e.Name)
}

// Unwrap returns the base error for errors.Is compatibility.
func (e *UnknownNodeError) Unwrap() error {
	return ErrUnknownNode
}

// CycleError provides detailed information about a relay cycle.
type CycleError struct {
	Path []string
}

// Error returns a human-readable description of the cycle.
func (e *CycleError) Error() string {
	return fmt.Sprintf("relay cycle detected: %s", strings.Join(e.Path, " -> "))
}

// Unwrap returns the base error for errors.Is compatibility.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}
