// Package scheduler routes configured messages into the agency on cron
// schedules, e.g. a morning market briefing for the CEO agent.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aixgo-dev/agency"
	"github.com/aixgo-dev/agency/agent"
	"github.com/aixgo-dev/agency/pkg/config"
	metrics "github.com/aixgo-dev/agency/pkg/observability"
)

// SenderScheduler labels messages routed by scheduled jobs.
const SenderScheduler = "scheduler"

// DefaultJobTimeout bounds a single scheduled route.
const DefaultJobTimeout = 5 * time.Minute

var (
	ErrDuplicateJob = errors.New("duplicate job")
	ErrUnknownJob   = errors.New("unknown job")
)

// Router is the part of an Agency the scheduler drives.
type Router interface {
	Route(ctx context.Context, message string, opts ...agency.RouteOption) []agent.Envelope
}

// Job is a message routed on a schedule.
type Job struct {
	Name    string
	Spec    string
	Agent   string
	Message string
}

// JobFromConfig converts a schedule entry. Unnamed entries are named after
// their position.
func JobFromConfig(i int, c config.ScheduleConfig) Job {
	name := c.Name
	if name == "" {
		name = fmt.Sprintf("schedule-%d", i)
	}
	return Job{Name: name, Spec: c.Spec, Agent: c.Agent, Message: c.Message}
}

// Scheduler runs jobs against a Router.
type Scheduler struct {
	cron    *cron.Cron
	router  Router
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	jobs    map[string]Job
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a scheduler routing through r.
func New(r Router, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		router:  r,
		logger:  logger,
		timeout: DefaultJobTimeout,
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
	}
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec parses a standard five-field cron expression or a descriptor
// such as "@hourly" or "@every 30m".
func ParseSpec(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, errors.New("empty schedule")
	}
	return parser.Parse(spec)
}

// Add registers job. Jobs may be added before or after Start.
func (s *Scheduler) Add(job Job) error {
	sched, err := ParseSpec(job.Spec)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for job %q: %w", job.Spec, job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	s.jobs[job.Name] = job
	s.entries[job.Name] = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(job.Name) }))

	s.logger.Info("job scheduled", "job", job.Name, "spec", job.Spec, "agent", job.Agent)
	return nil
}

// Remove unschedules the named job.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	s.cron.Remove(id)
	delete(s.entries, name)
	delete(s.jobs, name)
	return nil
}

// Jobs returns the registered jobs with their next activation time.
func (s *Scheduler) Jobs() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// Start begins firing jobs. Routes run under a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
}

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// Run routes the named job immediately under ctx and returns its envelopes.
func (s *Scheduler) Run(ctx context.Context, name string) ([]agent.Envelope, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, job), nil
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	ctx := s.ctx
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if ctx == nil || !ok {
		return
	}
	s.run(ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) []agent.Envelope {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := []agency.RouteOption{agency.From(SenderScheduler), agency.WithMetadata("job", job.Name)}
	if job.Agent != "" {
		opts = append(opts, agency.To(job.Agent))
	}

	start := time.Now()
	envs := s.router.Route(ctx, job.Message, opts...)

	status := "ok"
	for _, env := range envs {
		if env.IsError() {
			status = "error"
			break
		}
	}
	metrics.RecordScheduledRun(job.Name, status)
	s.logger.Info("scheduled job completed",
		"job", job.Name, "status", status, "envelopes", len(envs), "duration", time.Since(start))
	return envs
}
