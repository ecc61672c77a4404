package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/config"
	"github.com/aixgo-dev/agency/pkg/llm"
	metrics "github.com/aixgo-dev/agency/pkg/observability"
	"github.com/aixgo-dev/agency/tools"
)

const marketInsight = `
name: market-insight
entry: CEO
shared_instructions: Work as one team.
agents:
  - name: CEO
    tools: [send_message]
  - name: Analyst
    tools: [web_search, sentiment_analyzer]
  - name: Writer
    tools: [markdown_writer, task_reporter]
flows:
  - from: CEO
    to: Analyst
  - from: CEO
    to: Writer
llm:
  provider: echo
tools:
  output_dir: %s
schedules:
  - name: morning
    spec: "0 8 * * *"
    agent: CEO
    message: Morning briefing
`

func loadConfig(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.NewLoader(config.OSFileReader{}, config.WithEnv(func(string) string { return "" })).Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func marketConfig(t *testing.T) *config.Config {
	return loadConfig(t, fmt.Sprintf(marketInsight, t.TempDir()))
}

func TestBuild_Echo(t *testing.T) {
	cfg := marketConfig(t)

	a, err := Build(context.Background(), cfg, WithRetry(1, 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Equal(t, "CEO", a.Agency.EntryAgent().Name())
	assert.Len(t, a.Agency.Agents(), 3)
	assert.True(t, a.Agency.CanRelay("CEO", "Analyst"))
	assert.False(t, a.Agency.CanRelay("Analyst", "CEO"))

	ceo, _ := a.Agency.Agent("CEO")
	_, ok := ceo.Tool(tools.SendMessageName)
	assert.True(t, ok)

	analyst, _ := a.Agency.Agent("Analyst")
	for _, name := range []string{tools.WebSearchName, tools.SentimentAnalyzerName} {
		_, ok := analyst.Tool(name)
		assert.True(t, ok, name)
	}

	envs := a.Agency.Route(context.Background(), "hello")
	require.Len(t, envs, 1)
	assert.Equal(t, "CEO received: hello", envs[0].Content)

	assert.Contains(t, a.Scheduler.Jobs(), "morning")
}

func TestBuild_RelayThroughSendMessage(t *testing.T) {
	cfg := marketConfig(t)
	mock := llm.NewMock().
		AddResponse(&agent.FunctionCall{Name: tools.SendMessageName, Arguments: `{"recipient":"Analyst","message":"numbers?"}`}).
		AddResponse("Revenue is up 4%").
		AddResponse("The analyst reports revenue up 4%")

	a, err := Build(context.Background(), cfg, WithBackend(mock), WithRetry(1, 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	envs := a.Agency.Route(context.Background(), "How are we doing?")
	require.Len(t, envs, 3)
	assert.Equal(t, agent.EnvelopeFunction, envs[0].Type)
	assert.Equal(t, "Analyst", envs[1].Agent)
	assert.Equal(t, "Revenue is up 4%", envs[1].Content)
	assert.Equal(t, "CEO", envs[2].Agent)
	assert.Equal(t, "The analyst reports revenue up 4%", envs[2].Content)

	calls := mock.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[0].Agent.Instructions, "Work as one team.")
	assert.Equal(t, config.DefaultTemperature, calls[0].Agent.Temperature)
	assert.Equal(t, config.DefaultMaxTokens, calls[0].Agent.MaxTokens)
}

func TestBuild_RedisHistory(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := marketConfig(t)
	cfg.History = config.HistoryConfig{
		Backend: config.HistoryRedis,
		Redis:   config.RedisConfig{Addr: mr.Addr(), Conversation: "test"},
	}

	a, err := Build(context.Background(), cfg, WithRetry(1, 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	a.Agency.Route(context.Background(), "hello")

	items, err := mr.List("agency:history:test")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	a.RegisterHealthChecks()
	resp := metrics.GetHealthChecker().Check(context.Background())
	assert.Equal(t, metrics.HealthStatusHealthy, resp.Status)
	assert.Contains(t, resp.Checks, "history_store")
}

func TestBuild_RetriesThenFails(t *testing.T) {
	cfg := marketConfig(t)
	cfg.History = config.HistoryConfig{
		Backend: config.HistoryRedis,
		Redis:   config.RedisConfig{Addr: "127.0.0.1:1"},
	}

	start := time.Now()
	_, err := Build(context.Background(), cfg, WithRetry(3, 10*time.Millisecond))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Contains(t, err.Error(), "open history")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestBuild_CanceledDuringRetry(t *testing.T) {
	cfg := marketConfig(t)
	cfg.History = config.HistoryConfig{
		Backend: config.HistoryRedis,
		Redis:   config.RedisConfig{Addr: "127.0.0.1:1"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, cfg, WithRetry(3, time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_UnknownTool(t *testing.T) {
	cfg := loadConfig(t, "agents:\n  - name: CEO\n    tools: [crystal_ball]\nllm:\n  provider: echo\n")

	_, err := Build(context.Background(), cfg, WithRetry(1, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, tools.ErrUnknownTool)
}

func TestBuild_RoutingOptions(t *testing.T) {
	cfg := loadConfig(t, `
agents:
  - name: CEO
    tools: [send_message]
  - name: Analyst
flows:
  - from: CEO
    to: Analyst
llm:
  provider: echo
routing:
  max_relay_depth: 0
`)
	mock := llm.NewMock().
		AddResponse(&agent.FunctionCall{Name: tools.SendMessageName, Arguments: `{"recipient":"Analyst","message":"hi"}`}).
		AddResponse("gave up")

	a, err := Build(context.Background(), cfg, WithBackend(mock), WithRetry(1, 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	envs := a.Agency.Route(context.Background(), "go")
	require.Len(t, envs, 2)
	assert.Equal(t, "gave up", envs[1].Content)
	require.Len(t, mock.Calls(), 2)
	assert.Contains(t, mock.Calls()[1].Turns[1].Content, "relay depth")
}
