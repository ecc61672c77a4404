package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/agency/agent"
)

func countingBackend(calls *atomic.Int32, err error) agent.Backend {
	return agent.BackendFunc(func(context.Context, *agent.GenerateRequest) (agent.RawResult, error) {
		calls.Add(1)
		if err != nil {
			return nil, err
		}
		return "ok", nil
	})
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	b := WithCircuitBreaker(countingBackend(&calls, errors.New("upstream down")), "test", BreakerConfig{
		MaxFailures: 2,
		Timeout:     time.Hour,
	}, nil)

	for i := 0; i < 2; i++ {
		_, err := b.Generate(context.Background(), testRequest())
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())
	assert.ErrorIs(t, b.Check(context.Background()), ErrCircuitOpen)

	_, err := b.Generate(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load(), "open circuit must not reach the backend")
}

func TestBreaker_IgnoresCancellation(t *testing.T) {
	for _, cause := range []error{context.Canceled, context.DeadlineExceeded} {
		t.Run(cause.Error(), func(t *testing.T) {
			var calls atomic.Int32
			b := WithCircuitBreaker(countingBackend(&calls, cause), "test", BreakerConfig{MaxFailures: 1}, nil)

			for i := 0; i < 3; i++ {
				_, err := b.Generate(context.Background(), testRequest())
				assert.ErrorIs(t, err, cause)
			}
			assert.Equal(t, int32(3), calls.Load())
			assert.Equal(t, gobreaker.StateClosed, b.State())
			assert.NoError(t, b.Check(context.Background()))
		})
	}
}

func TestRateLimited(t *testing.T) {
	var calls atomic.Int32
	r := WithRateLimit(countingBackend(&calls, nil), 0.001, 1)

	raw, err := r.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", raw)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Generate(ctx, testRequest())
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInstrumented(t *testing.T) {
	var calls atomic.Int32
	ok := WithInstrumentation(countingBackend(&calls, nil), "test")
	raw, err := ok.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", raw)

	failing := WithInstrumentation(countingBackend(&calls, errors.New("nope")), "test")
	_, err = failing.Generate(context.Background(), testRequest())
	assert.EqualError(t, err, "nope")
}

func TestMock(t *testing.T) {
	m := NewMock().
		AddResponse("first").
		AddResponse(&agent.FunctionCall{Name: "f"}).
		AddError(nil).
		AddError(errors.New("second fails"))

	raw, err := m.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "first", raw)

	_, err = m.Generate(context.Background(), testRequest())
	assert.EqualError(t, err, "second fails")

	raw, err = m.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Mock response", raw)
	assert.Len(t, m.Calls(), 3)

	m.Reset()
	assert.Empty(t, m.Calls())
}

func TestEcho(t *testing.T) {
	raw, err := Echo().Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Analyst received: How is EV demand?", raw)
}

func TestNew(t *testing.T) {
	b, err := New(context.Background(), Config{Provider: "echo"}, nil)
	require.NoError(t, err)
	raw, err := b.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Analyst received: How is EV demand?", raw)

	_, err = New(context.Background(), Config{Provider: "carrier-pigeon"}, nil)
	assert.ErrorContains(t, err, "unsupported provider")

	_, err = New(context.Background(), Config{Provider: "openai"}, nil)
	assert.Error(t, err)

	b, err = New(context.Background(), Config{Provider: "openai", APIKey: "sk-test", RequestsPerSecond: 5}, nil)
	require.NoError(t, err)
	_, isBreaker := b.(*Breaker)
	assert.True(t, isBreaker)
}
