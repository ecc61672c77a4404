package agency

import (
	"context"
	"sync"

	"github.com/aixgo-dev/agency/agent"
)

// History is the ordered conversation log owned by an Agency. Every
// envelope emitted by Route is appended exactly once, failures included.
//
// Implementations must be safe for concurrent use.
type History interface {
	Append(ctx context.Context, env agent.Envelope) error
	Entries(ctx context.Context) ([]agent.Envelope, error)
	Len(ctx context.Context) (int, error)

	// Truncate drops all but the newest keep entries.
	Truncate(ctx context.Context, keep int) error
}

// MemoryHistory is a process-local History guarded by a mutex. It grows
// without bound unless truncated.
type MemoryHistory struct {
	mu      sync.RWMutex
	entries []agent.Envelope
}

// NewMemoryHistory creates an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) Append(_ context.Context, env agent.Envelope) error {
	h.mu.Lock()
	h.entries = append(h.entries, env)
	h.mu.Unlock()
	return nil
}

// Entries returns a copy of the log in append order.
func (h *MemoryHistory) Entries(_ context.Context) ([]agent.Envelope, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]agent.Envelope, len(h.entries))
	copy(out, h.entries)
	return out, nil
}

func (h *MemoryHistory) Len(_ context.Context) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries), nil
}

func (h *MemoryHistory) Truncate(_ context.Context, keep int) error {
	if keep < 0 {
		keep = 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) > keep {
		kept := make([]agent.Envelope, keep)
		copy(kept, h.entries[len(h.entries)-keep:])
		h.entries = kept
	}
	return nil
}
