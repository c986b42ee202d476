// Package scheduler runs the service's recurring jobs: reminder fan-outs,
// the retry sweep, and retention cleanup. Jobs are ticker-driven and guarded
// against overlapping runs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	apperrors "github.com/seefeesaw/afroverse-sub006/pkg/errors"
)

// scanInterval is how often the scheduler checks for due jobs.
const scanInterval = 30 * time.Second

// JobFunc is one runnable job body. The returned count is whatever the job
// considers its unit of work (notifications sent, rows deleted).
type JobFunc func(ctx context.Context) (int, error)

// JobStatus is a point-in-time view of one job's run history.
type JobStatus struct {
	Name         string        `json:"name"`
	Running      bool          `json:"running"`
	NextRun      time.Time     `json:"next_run"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastCount    int           `json:"last_count"`
	LastError    string        `json:"last_error,omitempty"`
	LastDuration time.Duration `json:"last_duration_ms"`
	RunCount     int64         `json:"run_count"`
}

type job struct {
	name string
	fn   JobFunc

	// Exactly one of interval or clock scheduling is set.
	interval time.Duration
	hour     int
	minute   int
	weekday  *time.Weekday

	running bool
	status  JobStatus
}

// Scheduler owns a set of named jobs and runs each when due. A job never
// overlaps itself; a run that outlasts its interval simply delays the next.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*job
	order  []string
	logger *slog.Logger
	now    func() time.Time
	scan   time.Duration
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:   make(map[string]*job),
		logger: logger,
		now:    time.Now,
		scan:   scanInterval,
	}
}

// Every registers a job that runs on a fixed interval, first run one
// interval after Run starts.
func (s *Scheduler) Every(name string, interval time.Duration, fn JobFunc) {
	s.add(&job{name: name, fn: fn, interval: interval})
}

// DailyAt registers a job that runs once a day at the given UTC clock time.
func (s *Scheduler) DailyAt(name string, hour, minute int, fn JobFunc) {
	s.add(&job{name: name, fn: fn, hour: hour, minute: minute})
}

// WeeklyAt registers a job that runs once a week at the given UTC weekday
// and clock time.
func (s *Scheduler) WeeklyAt(name string, weekday time.Weekday, hour, minute int, fn JobFunc) {
	s.add(&job{name: name, fn: fn, hour: hour, minute: minute, weekday: &weekday})
}

func (s *Scheduler) add(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.name]; exists {
		panic(fmt.Sprintf("scheduler: duplicate job %q", j.name))
	}
	j.status.Name = j.name
	j.status.NextRun = s.nextRun(j, s.now().UTC())
	s.jobs[j.name] = j
	s.order = append(s.order, j.name)
}

// Run blocks, dispatching due jobs until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.InfoContext(ctx, "scheduler started",
		slog.Int("jobs", len(s.Status())),
	)

	ticker := time.NewTicker(s.scan)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// Trigger runs a job immediately, regardless of its schedule. It returns
// ErrConflict while the job is already running.
func (s *Scheduler) Trigger(ctx context.Context, name string) (JobStatus, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return JobStatus{}, apperrors.NotFound("job", name)
	}
	if j.running {
		status := j.status
		status.Running = true
		s.mu.Unlock()
		return status, apperrors.Conflict(fmt.Sprintf("job %q is already running", name))
	}
	j.running = true
	s.mu.Unlock()

	s.run(ctx, j)

	s.mu.Lock()
	defer s.mu.Unlock()
	return j.status, nil
}

// Status returns every job's status in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.order))
	names := make([]string, len(s.order))
	copy(names, s.order)
	sort.Strings(names)
	for _, name := range names {
		j := s.jobs[name]
		status := j.status
		status.Running = j.running
		out = append(out, status)
	}
	return out
}

func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	var due []*job
	for _, name := range s.order {
		j := s.jobs[name]
		if j.running || now.Before(j.status.NextRun) {
			continue
		}
		j.running = true
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		go s.run(ctx, j)
	}
}

// run executes one job and records its outcome. The caller must have set
// j.running under the scheduler lock.
func (s *Scheduler) run(ctx context.Context, j *job) {
	started := s.now().UTC()
	count, err := j.fn(ctx)
	finished := s.now().UTC()

	s.mu.Lock()
	j.running = false
	j.status.LastRun = started
	j.status.LastCount = count
	j.status.LastDuration = finished.Sub(started)
	j.status.RunCount++
	j.status.NextRun = s.nextRun(j, finished)
	if err != nil {
		j.status.LastError = err.Error()
	} else {
		j.status.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled job failed",
			slog.String("job", j.name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.InfoContext(ctx, "scheduled job completed",
		slog.String("job", j.name),
		slog.Int("count", count),
		slog.Duration("duration", finished.Sub(started)),
	)
}

// nextRun computes when the job should run after the given instant.
func (s *Scheduler) nextRun(j *job, after time.Time) time.Time {
	if j.interval > 0 {
		return after.Add(j.interval)
	}

	next := time.Date(after.Year(), after.Month(), after.Day(), j.hour, j.minute, 0, 0, time.UTC)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	if j.weekday != nil {
		for next.Weekday() != *j.weekday {
			next = next.AddDate(0, 0, 1)
		}
	}
	return next
}
