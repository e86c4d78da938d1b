// Package schedule runs named jobs on cron schedules. Job names are unique:
// registering a name twice is logged and ignored.
//
// Plain jobs run on the cron goroutine. Cooperative jobs are handed to the
// scheduler's executor loop through syncbridge, so they run one at a time.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/phrazzld/docsync-api/internal/redact"
	"github.com/phrazzld/docsync-api/internal/syncbridge"
)

// Job is a scheduled unit of work.
type Job func(ctx context.Context) error

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler owns a cron runner and an executor loop.
type Scheduler struct {
	cron          *cron.Cron
	loop          *syncbridge.Loop
	bridgeTimeout time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	jobs    map[string]Job
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	served  chan struct{}
}

// New creates a Scheduler. bridgeTimeout bounds cooperative jobs that have to
// leave a busy loop.
func New(logger *slog.Logger, bridgeTimeout time.Duration) *Scheduler {
	logger = logger.With("component", "scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger: logger}

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		loop:          syncbridge.NewLoop(),
		bridgeTimeout: bridgeTimeout,
		logger:        logger,
		jobs:          make(map[string]Job),
		ctx:           ctx,
		cancel:        cancel,
		served:        make(chan struct{}),
	}
}

// Add registers a job that runs on the cron goroutine. It reports whether
// the job was registered; a duplicate name is logged and ignored.
func (s *Scheduler) Add(name, spec string, job Job) (bool, error) {
	return s.register(name, spec, func(ctx context.Context) error {
		return job(ctx)
	})
}

// AddCooperative registers a job that runs on the scheduler's executor loop.
func (s *Scheduler) AddCooperative(name, spec string, job Job) (bool, error) {
	return s.register(name, spec, func(ctx context.Context) error {
		ctx = syncbridge.WithHandle(ctx, s.loop.Foreign())
		_, err := syncbridge.Run(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, job(ctx)
		}, s.bridgeTimeout)
		return err
	})
}

func (s *Scheduler) register(name, spec string, run Job) (bool, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return false, fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		s.logger.Error("job already registered", "job", name)
		return false, nil
	}

	s.jobs[name] = run
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		_ = s.execute(name, run)
	}))
	s.logger.Info("job registered", "job", name, "spec", spec)
	return true, nil
}

// Names returns the registered job names in order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow runs a registered job immediately on the calling goroutine.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	run, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s is not registered", name)
	}
	return s.execute(name, run)
}

func (s *Scheduler) execute(name string, run Job) error {
	log := s.logger.With("job", name)
	start := time.Now()
	log.Debug("scheduled job started")
	if err := run(s.ctx); err != nil {
		log.Error("scheduled job failed", "error", redact.Error(err), "duration", time.Since(start))
		return err
	}
	log.Debug("scheduled job finished", "duration", time.Since(start))
	return nil
}

// Start begins serving the executor loop and firing schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	go func() {
		defer close(s.served)
		_ = s.loop.Serve(s.ctx)
	}()
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop stops firing schedules, waits for running jobs and closes the loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.cron.Stop().Done()
	}
	s.cancel()
	s.loop.Close()
	if started {
		<-s.served
	}
	s.logger.Info("scheduler stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
