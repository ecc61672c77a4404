package agency

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/agency/agent"
)

func TestMemoryHistory(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory()

	n, err := h.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Append(ctx, agent.MessageEnvelope("CEO", fmt.Sprintf("m%d", i))))
	}

	entries, err := h.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "m0", entries[0].Content)

	entries[0].Content = "mutated"
	again, _ := h.Entries(ctx)
	assert.Equal(t, "m0", again[0].Content)

	require.NoError(t, h.Truncate(ctx, 2))
	entries, _ = h.Entries(ctx)
	require.Len(t, entries, 2)
	assert.Equal(t, "m3", entries[0].Content)
	assert.Equal(t, "m4", entries[1].Content)

	require.NoError(t, h.Truncate(ctx, 10))
	n, _ = h.Len(ctx)
	assert.Equal(t, 2, n)

	require.NoError(t, h.Truncate(ctx, -1))
	n, _ = h.Len(ctx)
	assert.Zero(t, n)
}

func TestMemoryHistory_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Append(ctx, agent.MessageEnvelope("CEO", "x"))
		}()
	}
	wg.Wait()

	n, err := h.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
}

func TestClock_StrictlyIncreasing(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newClock(func() time.Time { return frozen })

	first := c.next()
	second := c.next()
	assert.Equal(t, frozen, first)
	assert.True(t, second.After(first))

	backwards := newClock(nil)
	prev := backwards.next()
	backwards.now = func() time.Time { return prev.Add(-time.Hour) }
	assert.True(t, backwards.next().After(prev))
}

func TestRoute_UsesClock(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a, err := New([]Entry{Node(newAgent(t, "CEO"))},
		WithBackend(replyWith("ok")),
		WithClock(func() time.Time { return frozen }),
	)
	require.NoError(t, err)

	first := a.Route(context.Background(), "one")
	second := a.Route(context.Background(), "two")
	assert.Equal(t, frozen, first[0].Timestamp)
	assert.Equal(t, frozen.Add(time.Nanosecond), second[0].Timestamp)
}
