package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a scheduled task.
type Job func(ctx context.Context) error

// JobInfo describes a scheduled job.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
	LastRun  time.Time `json:"last_run,omitempty"`
}

type entry struct {
	id       cron.EntryID
	schedule string
}

// Scheduler runs jobs on cron schedules in a fixed timezone. A job that is
// still running when its next tick arrives is skipped.
type Scheduler struct {
	cron     *cron.Cron
	timezone *time.Location
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	jobs map[string]entry
}

// New creates a scheduler. timeout bounds every run of a job.
func New(timezone string, timeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	return &Scheduler{
		cron:     c,
		timezone: loc,
		timeout:  timeout,
		logger:   logger.With("component", "scheduler"),
		jobs:     make(map[string]entry),
	}, nil
}

// AddJob adds a job with a five field cron schedule, e.g. "0 */6 * * *".
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() {
		if err := s.run(name, job); err != nil {
			s.logger.Error("job failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.id)
	}
	s.jobs[name] = entry{id: entryID, schedule: schedule}
	s.mu.Unlock()

	s.logger.Info("job added", "job", name, "schedule", schedule)
	return nil
}

func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.jobs[name]; ok {
		s.cron.Remove(e.id)
		delete(s.jobs, name)
		s.logger.Info("job removed", "job", name)
	}
}

func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler", "timezone", s.timezone.String())
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("stopping scheduler")
	return s.cron.Stop()
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string, job Job) error {
	return s.run(name, job)
}

func (s *Scheduler) run(name string, job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	s.logger.Info("starting job", "job", name)
	if err := job(ctx); err != nil {
		return err
	}
	s.logger.Info("job completed", "job", name, "duration", time.Since(start))
	return nil
}

// ListJobs returns the scheduled jobs with their next and previous runs.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		ce := s.cron.Entry(e.id)
		infos = append(infos, JobInfo{
			Name:     name,
			Schedule: e.schedule,
			NextRun:  ce.Next,
			LastRun:  ce.Prev,
		})
	}
	return infos
}
