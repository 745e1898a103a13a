package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cedadev/nla-control-go/internal/logging"

	"github.com/robfig/cron/v3"
)

// JobFunc is a unit of periodic work: one of update_requests,
// adjust_and_load_slots, tidy_requests, fix_problems, verify or the
// ingestion intake scan (move_files_to_nla).
type JobFunc func(ctx context.Context) error

// job tracks one named periodic job and its reentrancy guard. At most
// one invocation of a given job may be in flight at a time; a tick
// that finds the previous run still going is skipped and logged
// rather than queued.
type job struct {
	name    string
	spec    string
	fn      JobFunc
	running sync.Mutex
	busy    bool
	mu      sync.Mutex
	entryID cron.EntryID
	lastRun time.Time
	lastErr error
}

// Service drives the control plane's periodic loops on a single
// seconds-resolution cron instance, with an in-process mutex per job
// standing in for a one-process-per-job-name guard.
type Service struct {
	logger *logging.Logger
	cron   *cron.Cron
	mu     sync.RWMutex
	jobs   map[string]*job
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a new scheduler service.
func NewService(logger *logging.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		logger: logger,
		cron:   cron.New(cron.WithSeconds()),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register schedules fn under name using the given seconds-resolution
// cron spec. Registering the same name twice replaces the prior entry.
func (s *Service) Register(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[name]; ok {
		s.cron.Remove(existing.entryID)
		delete(s.jobs, name)
	}

	j := &job{name: name, spec: spec, fn: fn}

	entryID, err := s.cron.AddFunc(spec, func() {
		s.runJob(j)
	})
	if err != nil {
		return err
	}
	j.entryID = entryID
	s.jobs[name] = j

	s.logger.Info("scheduled job", map[string]interface{}{
		"job":      name,
		"schedule": spec,
	})

	return nil
}

// Start starts the scheduler's cron loop.
func (s *Service) Start() {
	s.logger.Info("starting scheduler", nil)
	s.cron.Start()
}

// Stop waits for in-flight jobs to finish and stops the scheduler.
func (s *Service) Stop() {
	s.logger.Info("stopping scheduler", nil)
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// runJob is the entry point invoked by cron for each tick. It skips the
// tick entirely (rather than queueing it) if the previous run of the
// same job is still in progress.
func (s *Service) runJob(j *job) {
	if !j.running.TryLock() {
		s.logger.Warn("skipping job tick, previous run still in progress", map[string]interface{}{
			"job": j.name,
		})
		return
	}
	defer j.running.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(s.ctx, 1*time.Hour)
	defer cancel()

	err := j.fn(ctx)

	j.mu.Lock()
	j.lastRun = start
	j.lastErr = err
	j.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", map[string]interface{}{
			"job":      j.name,
			"error":    err.Error(),
			"duration": time.Since(start).String(),
		})
		return
	}

	s.logger.Info("job completed", map[string]interface{}{
		"job":      j.name,
		"duration": time.Since(start).String(),
	})
}

// RunNow runs a registered job immediately, outside its cron schedule,
// subject to the same reentrancy guard.
func (s *Service) RunNow(name string) bool {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	go s.runJob(j)
	return true
}

// Status reports the last run time and outcome of every registered job.
func (s *Service) Status() map[string]JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]JobStatus, len(s.jobs))
	for name, j := range s.jobs {
		j.mu.Lock()
		st := JobStatus{LastRun: j.lastRun}
		if j.lastErr != nil {
			st.LastError = j.lastErr.Error()
		}
		j.mu.Unlock()

		entry := s.cron.Entry(j.entryID)
		if !entry.Next.IsZero() {
			st.NextRun = entry.Next
		}
		out[name] = st
	}
	return out
}

// JobStatus summarizes a registered job's execution history.
type JobStatus struct {
	LastRun   time.Time `json:"last_run"`
	NextRun   time.Time `json:"next_run"`
	LastError string    `json:"last_error,omitempty"`
}

// ParseCron validates a seconds-resolution cron expression or a
// descriptor such as "@every 5m", the same forms Register accepts.
func ParseCron(expr string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse(expr)
	return err
}
