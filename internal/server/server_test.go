package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aixgo-dev/agency"
	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/config"
	"github.com/aixgo-dev/agency/pkg/llm"
)

func newTestAgency(t *testing.T, backend agent.Backend) *agency.Agency {
	t.Helper()
	ceo := agent.MustNew(agent.Config{Name: "CEO", Description: "Coordinates the team"})
	analyst := agent.MustNew(agent.Config{Name: "Analyst", Description: "Analyzes markets"})
	a, err := agency.New([]agency.Entry{
		agency.Node(ceo),
		agency.Node(analyst),
		agency.Flow(ceo, analyst),
	}, agency.WithBackend(backend))
	require.NoError(t, err)
	return a
}

func newTestServer(t *testing.T, a *agency.Agency, cfg config.ServerConfig) *httptest.Server {
	t.Helper()
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond, cfg.Burst = 1000, 1000
	}
	ts := httptest.NewServer(New(a, cfg, nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAgents(t *testing.T) {
	ts := newTestServer(t, newTestAgency(t, llm.Echo()), config.ServerConfig{})

	resp, err := http.Get(ts.URL + "/api/agents")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	agents := decode[[]AgentInfo](t, resp)
	require.Len(t, agents, 2)
	assert.Equal(t, "CEO", agents[0].Name)
	assert.True(t, agents[0].Entry)
	assert.Equal(t, []string{"Analyst"}, agents[0].Recipients)
	assert.Equal(t, "Analyzes markets", agents[1].Description)
	assert.Empty(t, agents[1].Recipients)
}

func TestChat(t *testing.T) {
	ts := newTestServer(t, newTestAgency(t, llm.Echo()), config.ServerConfig{})

	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
		check       func(t *testing.T, resp *http.Response)
	}{
		{
			name:        "entry agent",
			contentType: "application/json",
			body:        `{"message":"status?"}`,
			status:      http.StatusOK,
			check: func(t *testing.T, resp *http.Response) {
				out := decode[ChatResponse](t, resp)
				assert.Equal(t, "User", out.UserMessage.Agent)
				assert.Equal(t, "status?", out.UserMessage.Content)
				require.Len(t, out.AgentResponses, 1)
				assert.Equal(t, "CEO received: status?", out.AgentResponses[0].Content)
			},
		},
		{
			name:        "addressed agent",
			contentType: "application/json; charset=utf-8",
			body:        `{"message":"numbers?","agent":"Analyst"}`,
			status:      http.StatusOK,
			check: func(t *testing.T, resp *http.Response) {
				out := decode[ChatResponse](t, resp)
				require.Len(t, out.AgentResponses, 1)
				assert.Equal(t, "Analyst", out.AgentResponses[0].Agent)
			},
		},
		{
			name:        "unknown agent is an error envelope",
			contentType: "application/json",
			body:        `{"message":"hi","agent":"Nobody"}`,
			status:      http.StatusOK,
			check: func(t *testing.T, resp *http.Response) {
				out := decode[ChatResponse](t, resp)
				require.Len(t, out.AgentResponses, 1)
				assert.Equal(t, agent.EnvelopeError, out.AgentResponses[0].Type)
				assert.Equal(t, agent.SenderSystem, out.AgentResponses[0].Agent)
			},
		},
		{name: "wrong content type", contentType: "text/plain", body: `{"message":"hi"}`, status: http.StatusBadRequest},
		{name: "invalid json", contentType: "application/json", body: `{"message":`, status: http.StatusBadRequest},
		{name: "empty message", contentType: "application/json", body: `{"message":"  \u0000 "}`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/chat", tt.contentType, strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.check != nil {
				tt.check(t, resp)
				return
			}
			out := decode[map[string]string](t, resp)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestStatusAndHistory(t *testing.T) {
	a := newTestAgency(t, llm.Echo())
	ts := newTestServer(t, a, config.ServerConfig{})

	for _, msg := range []string{"one", "two", "three"} {
		a.Route(context.Background(), msg)
	}

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	status := decode[StatusResponse](t, resp)
	assert.Equal(t, "online", status.Status)
	assert.True(t, status.Initialized)
	assert.Equal(t, 2, status.Agents)
	assert.Equal(t, "CEO", status.Entry)
	assert.Equal(t, 3, status.History)

	resp, err = http.Get(ts.URL + "/api/history?limit=2")
	require.NoError(t, err)
	entries := decode[[]agent.Envelope](t, resp)
	require.Len(t, entries, 2)
	assert.Equal(t, "CEO received: two", entries[0].Content)

	resp, err = http.Get(ts.URL + "/api/history?limit=abc")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/history?keep=1", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	n, err := a.History().Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, newTestAgency(t, llm.Echo()), config.ServerConfig{})

	for _, path := range []string{"/health/live", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/api/agents")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "agency_http_requests_total")
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, newTestAgency(t, llm.Echo()), config.ServerConfig{RequestsPerSecond: 0.001, Burst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/api/status")
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRecoverer(t *testing.T) {
	s := New(newTestAgency(t, llm.Echo()), config.ServerConfig{RequestsPerSecond: 10, Burst: 10}, nil)
	h := s.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func dial(t *testing.T, ts *httptest.Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws, ctx
}

func readFrame(t *testing.T, ctx context.Context, ws *websocket.Conn) Frame {
	t.Helper()
	var f Frame
	require.NoError(t, wsjson.Read(ctx, ws, &f))
	return f
}

func readEnvelope(t *testing.T, ctx context.Context, ws *websocket.Conn) ReceivedEnvelope {
	t.Helper()
	f := readFrame(t, ctx, ws)
	require.Equal(t, EventReceiveMessage, f.Event)
	var env ReceivedEnvelope
	require.NoError(t, json.Unmarshal(f.Data, &env))
	return env
}

func sendMessage(t *testing.T, ctx context.Context, ws *websocket.Conn, msg SendMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, ws, Frame{Event: EventSendMessage, Data: data}))
}

func TestWebSocket_Conversation(t *testing.T) {
	ws, ctx := dial(t, newTestServer(t, newTestAgency(t, llm.Echo()), config.ServerConfig{}))

	f := readFrame(t, ctx, ws)
	assert.Equal(t, EventAgentList, f.Event)
	var agents []AgentInfo
	require.NoError(t, json.Unmarshal(f.Data, &agents))
	assert.Len(t, agents, 2)

	f = readFrame(t, ctx, ws)
	assert.Equal(t, EventConnectionResponse, f.Event)
	assert.JSONEq(t, `{"data":"Connected"}`, string(f.Data))

	sendMessage(t, ctx, ws, SendMessage{Message: "Analyze EV market", Agent: "Analyst", AnalysisType: "market-assessment"})

	user := readEnvelope(t, ctx, ws)
	assert.Equal(t, "User", user.Agent)
	assert.Equal(t, "Analyze EV market", user.Content)
	assert.Equal(t, "market-assessment", user.AnalysisType)

	reply := readEnvelope(t, ctx, ws)
	assert.Equal(t, "Analyst", reply.Agent)
	assert.Equal(t, "Analyst received: Analyze EV market", reply.Content)
	assert.Equal(t, "market-assessment", reply.AnalysisType)
	assert.False(t, reply.Timestamp.IsZero())
}

func TestWebSocket_Errors(t *testing.T) {
	backend := agent.BackendFunc(func(context.Context, *agent.GenerateRequest) (agent.RawResult, error) {
		return nil, errors.New("upstream timeout")
	})
	ws, ctx := dial(t, newTestServer(t, newTestAgency(t, backend), config.ServerConfig{}))
	readFrame(t, ctx, ws)
	readFrame(t, ctx, ws)

	require.NoError(t, wsjson.Write(ctx, ws, Frame{Event: "join_room"}))
	f := readFrame(t, ctx, ws)
	assert.Equal(t, EventError, f.Event)

	sendMessage(t, ctx, ws, SendMessage{Message: "   "})
	env := readEnvelope(t, ctx, ws)
	assert.Equal(t, agent.EnvelopeError, env.Type)
	assert.Equal(t, agent.SenderSystem, env.Agent)
	assert.Equal(t, "Error: message is required", env.Content)

	sendMessage(t, ctx, ws, SendMessage{Message: "status?"})
	assert.Equal(t, "User", readEnvelope(t, ctx, ws).Agent)
	env = readEnvelope(t, ctx, ws)
	assert.Equal(t, agent.EnvelopeError, env.Type)
	assert.Equal(t, "CEO", env.Agent)
	assert.Contains(t, env.Content, "upstream timeout")
}

func TestServe_Shutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(newTestAgency(t, llm.Echo()), config.ServerConfig{RequestsPerSecond: 10, Burst: 10}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health/live")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
