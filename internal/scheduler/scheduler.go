// Package scheduler runs the periodic reconciliation jobs.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"clubsync/internal/metrics"
)

// JobFunc is a single reconciliation pass. Errors are logged, never fatal.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
}

// Scheduler runs registered jobs on fixed intervals. Each job gets its own
// goroutine, which serializes its ticks: at most one execution of a given
// job is in flight at any time. Different jobs run concurrently.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	jobs    []*job
	started bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an empty scheduler
func New() *Scheduler {
	return &Scheduler{logger: slog.Default()}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		panic("scheduler: Register after Start")
	}
	s.jobs = append(s.jobs, &job{name: name, interval: interval, fn: fn})
}

// Start launches all registered jobs. Returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	metrics.SchedulerActive.Set(1)

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.run(ctx, j)
	}

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
}

// Stop signals all jobs to stop and waits for in-flight ticks to finish.
// No tick is force-killed mid-transaction.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	metrics.SchedulerActive.Set(0)
	s.logger.Info("Scheduler stopped")
}

// run drives one job's ticker loop
func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, j)
		}
	}
}

// tick executes one pass, isolating errors and panics from later ticks
func (s *Scheduler) tick(ctx context.Context, j *job) {
	defer func() {
		if r := recover(); r != nil {
			metrics.JobTicksTotal.WithLabelValues(j.name, metrics.ResultFailure).Inc()
			s.logger.Error("Job tick panicked", "job", j.name, "panic", r)
		}
	}()

	timer := prometheus.NewTimer(metrics.JobTickDuration.WithLabelValues(j.name))
	defer timer.ObserveDuration()

	if err := j.fn(ctx); err != nil {
		metrics.JobTicksTotal.WithLabelValues(j.name, metrics.ResultFailure).Inc()
		s.logger.Error("Job tick failed", "job", j.name, "error", err)
		return
	}
	metrics.JobTicksTotal.WithLabelValues(j.name, metrics.ResultSuccess).Inc()
}
