// Package server exposes an agency over HTTP and WebSocket.
//
//	GET    /api/agents    registered agents
//	POST   /api/chat      {"message": "...", "agent": "..."}
//	GET    /api/status    agency status
//	GET    /api/history   conversation log (?limit=N)
//	DELETE /api/history   clear the log (?keep=N)
//	GET    /ws            WebSocket chat
//
// Health and Prometheus endpoints are served alongside.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aixgo-dev/agency"
	"github.com/aixgo-dev/agency/pkg/config"
	metrics "github.com/aixgo-dev/agency/pkg/observability"
	"github.com/aixgo-dev/agency/pkg/security"
)

// Server serves one agency.
type Server struct {
	agency  *agency.Agency
	cfg     config.ServerConfig
	logger  *slog.Logger
	limiter *security.RateLimiter
	started time.Time

	httpSrv *http.Server
}

// New creates a server for a.
func New(a *agency.Agency, cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	metrics.InitMetrics()
	return &Server{
		agency:  a,
		cfg:     cfg,
		logger:  logger,
		limiter: security.NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		started: time.Now(),
	}
}

// Handler returns the complete HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/agents", s.handleAgents)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("DELETE /api/history", s.handleClearHistory)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /health", metrics.HealthHandler())
	mux.HandleFunc("GET /health/live", metrics.LivenessHandler())
	mux.HandleFunc("GET /health/ready", metrics.ReadinessHandler())
	mux.Handle("GET /metrics", metrics.MetricsHandler())

	return s.recoverer(s.instrument(s.rateLimit(mux)))
}

// Run listens on the configured port until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go s.sweep(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(ln) }()
	s.logger.Info("server started", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	s.logger.Info("server shutting down")
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) sweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Sweep(); n > 0 {
				s.logger.Debug("rate limiter swept idle clients", "removed", n)
			}
		}
	}
}
