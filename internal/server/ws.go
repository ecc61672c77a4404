package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aixgo-dev/agency"
	"github.com/aixgo-dev/agency/agent"
	metrics "github.com/aixgo-dev/agency/pkg/observability"
	"github.com/aixgo-dev/agency/pkg/security"
)

// WebSocket events.
const (
	EventAgentList          = "agent_list"
	EventConnectionResponse = "connection_response"
	EventSendMessage        = "send_message"
	EventReceiveMessage     = "receive_message"
	EventError              = "error"
)

const writeTimeout = 5 * time.Second

// Frame is exchanged in both directions over /ws.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendMessage is the payload of a send_message frame.
type SendMessage struct {
	Message      string `json:"message"`
	Agent        string `json:"agent"`
	AnalysisType string `json:"analysisType"`
}

// ReceivedEnvelope is the payload of a receive_message frame.
type ReceivedEnvelope struct {
	agent.Envelope
	AnalysisType string `json:"analysisType,omitempty"`
}

type wsConn struct {
	ws     *websocket.Conn
	client string

	writeMu sync.Mutex
	// routeMu keeps the envelopes of one message together.
	routeMu sync.Mutex
}

func (c *wsConn) send(ctx context.Context, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, Frame{Event: event, Data: raw})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	patterns := append([]string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*", "[::1]", "[::1]:*"}, s.cfg.AllowedOrigins...)
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: patterns})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(maxBodyBytes)

	metrics.AddActiveConnections(1)
	defer metrics.AddActiveConnections(-1)

	c := &wsConn{ws: ws, client: clientID(r)}
	ctx := r.Context()
	s.logger.Info("websocket client connected", "client", c.client)

	if err := c.send(ctx, EventAgentList, s.agentInfos()); err != nil {
		ws.Close(websocket.StatusInternalError, "write failed")
		return
	}
	if err := c.send(ctx, EventConnectionResponse, map[string]string{"data": "Connected"}); err != nil {
		ws.Close(websocket.StatusInternalError, "write failed")
		return
	}

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		ws.Close(websocket.StatusNormalClosure, "")
		s.logger.Info("websocket client disconnected", "client", c.client)
	}()

	for {
		var frame Frame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			return
		}
		if frame.Event != EventSendMessage {
			_ = c.send(ctx, EventError, map[string]string{"message": "unsupported event: " + frame.Event})
			continue
		}

		var msg SendMessage
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			_ = c.send(ctx, EventError, map[string]string{"message": "invalid send_message payload"})
			continue
		}
		if !s.limiter.Allow(c.client) {
			_ = c.send(ctx, EventReceiveMessage, ReceivedEnvelope{
				Envelope:     errorEnvelope("rate limit exceeded"),
				AnalysisType: msg.AnalysisType,
			})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.converse(ctx, c, msg)
		}()
	}
}

// converse echoes the user message, then streams every envelope produced
// while routing it.
func (s *Server) converse(ctx context.Context, c *wsConn, msg SendMessage) {
	c.routeMu.Lock()
	defer c.routeMu.Unlock()

	msg.Message = security.SanitizeString(msg.Message)
	if strings.TrimSpace(msg.Message) == "" {
		_ = c.send(ctx, EventReceiveMessage, ReceivedEnvelope{
			Envelope:     errorEnvelope("message is required"),
			AnalysisType: msg.AnalysisType,
		})
		return
	}

	user := agent.Envelope{Type: agent.EnvelopeMessage, Agent: SenderUser, Content: msg.Message, Timestamp: time.Now().UTC()}
	if err := c.send(ctx, EventReceiveMessage, ReceivedEnvelope{Envelope: user, AnalysisType: msg.AnalysisType}); err != nil {
		return
	}

	opts := []agency.RouteOption{
		agency.WithMetadata("transport", "ws"),
		agency.WithObserver(func(env agent.Envelope) {
			if err := c.send(ctx, EventReceiveMessage, ReceivedEnvelope{Envelope: env, AnalysisType: msg.AnalysisType}); err != nil {
				s.logger.Debug("websocket write failed", "client", c.client, "error", err)
			}
		}),
	}
	if msg.AnalysisType != "" {
		opts = append(opts, agency.WithMetadata("analysisType", msg.AnalysisType))
	}
	if msg.Agent != "" {
		opts = append(opts, agency.To(msg.Agent))
	}
	s.agency.Route(ctx, msg.Message, opts...)
}

func errorEnvelope(msg string) agent.Envelope {
	env := agent.ErrorEnvelope(agent.SenderSystem, "Error: "+msg)
	env.Timestamp = time.Now().UTC()
	return env
}
