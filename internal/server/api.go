package server

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aixgo-dev/agency"
	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/security"
)

// SenderUser labels the echoed user message in chat responses.
const SenderUser = "User"

const maxBodyBytes = 1 << 20

// AgentInfo describes an agent to clients.
type AgentInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tools       []string `json:"tools"`
	Entry       bool     `json:"entry"`
	Recipients  []string `json:"recipients"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
	Agent   string `json:"agent"`
}

// ChatResponse answers POST /api/chat.
type ChatResponse struct {
	UserMessage    agent.Envelope   `json:"user_message"`
	AgentResponses []agent.Envelope `json:"agent_responses"`
}

// StatusResponse answers GET /api/status.
type StatusResponse struct {
	Status      string `json:"status"`
	Initialized bool   `json:"initialized"`
	Agents      int    `json:"agents"`
	Entry       string `json:"entry"`
	History     int    `json:"history"`
	Uptime      string `json:"uptime"`
}

func (s *Server) agentInfos() []AgentInfo {
	entry := s.agency.EntryAgent().Name()
	agents := s.agency.Agents()
	out := make([]AgentInfo, 0, len(agents))
	for _, ag := range agents {
		info := AgentInfo{
			Name:        ag.Name(),
			Description: ag.Description(),
			Tools:       []string{},
			Entry:       ag.Name() == entry,
			Recipients:  s.agency.Recipients(ag.Name()),
		}
		for _, t := range ag.Tools() {
			info.Tools = append(info.Tools, t.Name())
		}
		if info.Recipients == nil {
			info.Recipients = []string{}
		}
		out = append(out, info)
	}
	return out
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.agentInfos())
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt != "application/json" {
		writeError(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Message = security.SanitizeString(req.Message)
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	opts := []agency.RouteOption{agency.WithMetadata("transport", "http")}
	if req.Agent != "" {
		opts = append(opts, agency.To(req.Agent))
	}
	envs := s.agency.Route(r.Context(), req.Message, opts...)

	writeJSON(w, http.StatusOK, ChatResponse{
		UserMessage: agent.Envelope{
			Type:      agent.EnvelopeMessage,
			Agent:     SenderUser,
			Content:   req.Message,
			Timestamp: time.Now().UTC(),
		},
		AgentResponses: envs,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	n, err := s.agency.History().Len(r.Context())
	status := "online"
	if err != nil {
		s.logger.Warn("history unavailable", "error", err)
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:      status,
		Initialized: true,
		Agents:      len(s.agency.Agents()),
		Entry:       s.agency.EntryAgent().Name(),
		History:     n,
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.agency.Entries(r.Context())
	if err != nil {
		s.logger.Error("read history failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if entries == nil {
		entries = []agent.Envelope{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	keep, err := intParam(r, "keep")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.agency.History().Truncate(r.Context(), keep); err != nil {
		s.logger.Error("truncate history failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &paramError{name: name}
	}
	return n, nil
}

type paramError struct{ name string }

func (e *paramError) Error() string { return e.name + " must be a non-negative integer" }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
