// Package scheduler runs the engine's recurring jobs (TTL sweeps, the
// hourly engram batch) on cron schedules. Runs of the same job never
// overlap; a slow sweep skips ticks instead of stacking them.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"membria/internal/logging"
)

// DefaultJobTimeout bounds one run of a job unless the caller overrides it.
const DefaultJobTimeout = 5 * time.Minute

// Job is one recurring task. Schedule is a five-field cron expression or a
// descriptor such as "@every 5m".
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// JobStatus is a point-in-time view of one registered job.
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	LastRun  time.Time `json:"last_run,omitzero"`
	LastErr  string    `json:"last_error,omitempty"`
}

// Scheduler wraps robfig/cron with named jobs and per-run timeouts.
type Scheduler struct {
	cron    *cron.Cron
	logger  logging.Logger
	timeout time.Duration

	mu       sync.Mutex
	baseCtx  context.Context
	entries  map[string]cron.EntryID
	runs     map[string]func(ctx context.Context) error
	statuses map[string]*JobStatus
	stopped  chan struct{}
	stopOnce sync.Once
}

func New(logger logging.Logger) *Scheduler {
	logger = logging.OrNop(logger)
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return &Scheduler{
		cron:     c,
		logger:   logger,
		timeout:  DefaultJobTimeout,
		baseCtx:  context.Background(),
		entries:  make(map[string]cron.EntryID),
		runs:     make(map[string]func(ctx context.Context) error),
		statuses: make(map[string]*JobStatus),
		stopped:  make(chan struct{}),
	}
}

// SetJobTimeout overrides the per-run timeout. Zero disables the bound.
func (s *Scheduler) SetJobTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// Register adds a job. Registering the same name twice is a no-op.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[job.Name]; exists {
		return nil
	}
	name := job.Name
	entryID, err := s.cron.AddFunc(job.Schedule, func() { s.tick(name) })
	if err != nil {
		return fmt.Errorf("invalid schedule for %q: %w", job.Name, err)
	}
	s.entries[job.Name] = entryID
	s.runs[job.Name] = job.Run
	s.statuses[job.Name] = &JobStatus{Name: job.Name, Schedule: job.Schedule}
	s.logger.Info("scheduler: registered %q (schedule=%s)", job.Name, job.Schedule)
	return nil
}

// Start begins firing schedules and stops when ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	n := len(s.entries)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started with %d jobs", n)
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop waits for in-flight runs to finish. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		close(s.stopped)
		s.logger.Info("scheduler stopped")
	})
}

// Done is closed once the scheduler has fully stopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.stopped
}

// Snapshot reports every registered job with its last run and error.
func (s *Scheduler) Snapshot() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, *st)
	}
	return out
}

// RunNow executes one registered job outside its schedule, with the same
// timeout bound. One-shot maintenance commands use this.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	return s.execute(ctx, name)
}

func (s *Scheduler) tick(name string) {
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()
	if base.Err() != nil {
		return
	}
	if err := s.execute(base, name); err != nil {
		s.logger.Warn("scheduler: job %q: %v", name, err)
	}
}

func (s *Scheduler) execute(ctx context.Context, name string) error {
	s.mu.Lock()
	run := s.runs[name]
	timeout := s.timeout
	s.mu.Unlock()
	if run == nil {
		return fmt.Errorf("unknown job %q", name)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := run(ctx)

	s.mu.Lock()
	if st := s.statuses[name]; st != nil {
		st.LastRun = time.Now().UTC()
		if err != nil {
			st.LastErr = err.Error()
		} else {
			st.LastErr = ""
		}
	}
	s.mu.Unlock()
	return err
}
