// Package app assembles a running agency from its configuration: the
// completion backend, the conversation history, the agents with their tools,
// and the scheduled jobs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/aixgo-dev/agency"
	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/internal/scheduler"
	"github.com/aixgo-dev/agency/pkg/config"
	"github.com/aixgo-dev/agency/pkg/history"
	"github.com/aixgo-dev/agency/pkg/llm"
	metrics "github.com/aixgo-dev/agency/pkg/observability"
	"github.com/aixgo-dev/agency/pkg/security"
	"github.com/aixgo-dev/agency/tools"
)

// Construction is retried this many times, pausing in between, so a backend
// or Redis that is still starting does not abort the process.
const (
	DefaultAttempts = 3
	DefaultPause    = time.Second
)

// App is an assembled agency with the resources it owns.
type App struct {
	Config    *config.Config
	Agency    *agency.Agency
	Backend   agent.Backend
	History   agency.History
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger

	closers []func() error
}

type options struct {
	logger   *slog.Logger
	backend  agent.Backend
	history  agency.History
	http     *resty.Client
	attempts int
	pause    time.Duration
	now      func() time.Time
}

// Option configures Build.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBackend uses b instead of the backend described by the llm section.
func WithBackend(b agent.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithHistory uses h instead of the store described by the history section.
func WithHistory(h agency.History) Option {
	return func(o *options) { o.history = h }
}

// WithHTTPClient sets the client used by the API-backed tools.
func WithHTTPClient(c *resty.Client) Option {
	return func(o *options) { o.http = c }
}

// WithRetry overrides the construction attempts and the pause between them.
func WithRetry(attempts int, pause time.Duration) Option {
	return func(o *options) {
		o.attempts = attempts
		o.pause = pause
	}
}

// WithClock sets the time source of the agency and the tools.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Build assembles the agency described by cfg.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{attempts: DefaultAttempts, pause: DefaultPause}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.attempts < 1 {
		o.attempts = 1
	}

	var (
		app *App
		err error
	)
	for attempt := 1; attempt <= o.attempts; attempt++ {
		app, err = build(ctx, cfg, o)
		if err == nil {
			break
		}
		o.logger.Warn("agency initialization failed", "attempt", attempt, "max_attempts", o.attempts, "error", err)
		if attempt == o.attempts {
			return nil, fmt.Errorf("initialize agency after %d attempts: %w", o.attempts, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.pause):
		}
	}

	app.Scheduler = scheduler.New(app.Agency, o.logger)
	for i, s := range cfg.Schedules {
		if err := app.Scheduler.Add(scheduler.JobFromConfig(i, s)); err != nil {
			_ = app.Close()
			return nil, err
		}
	}

	o.logger.Info("agency initialized", "config", cfg.String(), "entry", app.Agency.EntryAgent().Name())
	return app, nil
}

func build(ctx context.Context, cfg *config.Config, o options) (_ *App, err error) {
	app := &App{Config: cfg, Logger: o.logger}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	app.Backend = o.backend
	if app.Backend == nil {
		if app.Backend, err = llm.New(ctx, cfg.LLM.Backend(), o.logger); err != nil {
			return nil, fmt.Errorf("create backend: %w", err)
		}
	}

	app.History = o.history
	if app.History == nil {
		if app.History, err = app.openHistory(ctx, cfg.History); err != nil {
			return nil, err
		}
	}

	deps := toolDeps(cfg.Tools, app.Backend, o)

	// Tools that relay to other agents need the agency, so they are bound
	// after it exists.
	byName := make(map[string]*agent.Agent, len(cfg.Agents))
	var nodes, flows []agency.Entry
	for _, ac := range cfg.Agents {
		ag, err := buildAgent(ac, deps)
		if err != nil {
			return nil, err
		}
		byName[ac.Name] = ag
		if ac.Name == cfg.Entry {
			nodes = append(nodes, agency.EntryPoint(ag))
		} else {
			nodes = append(nodes, agency.Node(ag))
		}
	}
	for _, f := range cfg.Flows {
		flows = append(flows, agency.Flow(byName[f.From], byName[f.To]))
	}

	app.Agency, err = agency.New(append(nodes, flows...), agencyOptions(cfg, app, o)...)
	if err != nil {
		return nil, fmt.Errorf("create agency: %w", err)
	}

	for _, ac := range cfg.Agents {
		relayDeps := deps
		relayDeps.Relayer = app.Agency.RelayerFor(ac.Name)
		for _, name := range ac.Tools {
			if !tools.NeedsRelayer(name) {
				continue
			}
			t, err := tools.Build(name, relayDeps)
			if err != nil {
				return nil, fmt.Errorf("agent %s: %w", ac.Name, err)
			}
			if err := byName[ac.Name].AddTool(t); err != nil {
				return nil, err
			}
		}
	}
	return app, nil
}

func buildAgent(ac config.AgentConfig, deps tools.Deps) (*agent.Agent, error) {
	var bound []agent.Tool
	for _, name := range ac.Tools {
		if tools.NeedsRelayer(name) {
			continue
		}
		t, err := tools.Build(name, deps)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", ac.Name, err)
		}
		bound = append(bound, t)
	}
	return agent.New(agent.Config{
		Name:         ac.Name,
		Description:  ac.Description,
		Instructions: ac.Instructions,
		Model:        ac.Model,
		Temperature:  ac.Temperature,
		MaxTokens:    ac.MaxTokens,
		Tools:        bound,
	})
}

func agencyOptions(cfg *config.Config, app *App, o options) []agency.Option {
	opts := []agency.Option{
		agency.WithBackend(app.Backend),
		agency.WithHistory(app.History),
		agency.WithLogger(o.logger),
		agency.WithSharedInstructions(cfg.SharedInstructions),
		agency.WithDefaults(cfg.LLM.Temperature, cfg.LLM.MaxTokens),
		agency.WithGenerateTimeout(cfg.Routing.GenerateTimeout),
	}
	if depth, ok := cfg.MaxRelayDepth(); ok {
		opts = append(opts, agency.WithMaxRelayDepth(depth))
	}
	if cfg.Routing.ToolSteps > 0 {
		opts = append(opts, agency.WithToolExecution(cfg.Routing.ToolSteps))
	}
	if o.now != nil {
		opts = append(opts, agency.WithClock(o.now))
	}
	return opts
}

func toolDeps(tc config.ToolsConfig, backend agent.Backend, o options) tools.Deps {
	guardCfg := security.DefaultURLGuardConfig()
	if tc.AllowPrivateHosts {
		guardCfg.AllowLoopback = true
		guardCfg.BlockPrivateIPs = false
	}
	client := o.http
	if client == nil {
		client = tools.NewHTTPClient(tc.HTTPTimeout)
	}
	return tools.Deps{
		Backend:       backend,
		HTTP:          client,
		Guard:         security.NewURLGuard(guardCfg),
		OutputDir:     tc.OutputDir,
		SerpAPIKey:    tc.SerpAPIKey,
		NewsAPIKey:    tc.NewsAPIKey,
		Location:      tc.Location,
		Language:      tc.Language,
		BrowsingAgent: tc.BrowsingAgent,
		Now:           o.now,
	}
}

func (a *App) openHistory(ctx context.Context, hc config.HistoryConfig) (agency.History, error) {
	if hc.Backend != config.HistoryRedis {
		return agency.NewMemoryHistory(), nil
	}
	store, err := history.NewRedis(ctx, history.RedisConfig{
		Addr:         hc.Redis.Addr,
		Password:     hc.Redis.Password,
		DB:           hc.Redis.DB,
		Prefix:       hc.Redis.Prefix,
		Conversation: hc.Redis.Conversation,
		TTL:          hc.Redis.TTL,
		MaxEntries:   hc.Redis.MaxEntries,
		PoolSize:     hc.Redis.PoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// RegisterHealthChecks adds the agency, history and backend checks to the
// global health checker.
func (a *App) RegisterHealthChecks() {
	hc := metrics.GetHealthChecker()
	hc.RegisterCheck(metrics.PingCheck())
	hc.RegisterCheck(metrics.AgencyCheck(func() int { return len(a.Agency.Agents()) }))
	if p, ok := a.History.(interface{ Ping(context.Context) error }); ok {
		hc.RegisterCheck(metrics.HistoryStoreCheck(p.Ping))
	}
	if c, ok := a.Backend.(interface{ Check(context.Context) error }); ok {
		hc.RegisterCheck(metrics.BackendCheck(a.Config.LLM.Provider, c.Check))
	}
}

// Close stops the scheduler and releases the history store.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
