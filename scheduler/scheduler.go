// Package scheduler runs the bot's named periodic tasks (auto-save, catalog
// refresh, idle sweep, rate-limit sweep) on their own tickers, all tied to one
// context for shutdown.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/onnwee/emote-tally/telemetry"
)

// Task is one named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	// Immediate runs the task once at start instead of waiting a full
	// interval after boot.
	Immediate bool
	// Jitter delays the first tick by up to half an interval so tasks with
	// the same interval don't all wake together.
	Jitter bool
	Run    func(ctx context.Context) error
}

// Scheduler owns a set of tasks. Add every task before Start; Start launches
// one goroutine per task and Wait blocks until all of them have observed
// cancellation.
type Scheduler struct {
	log *slog.Logger

	mu      sync.Mutex
	tasks   []Task
	started bool

	wg sync.WaitGroup
}

func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default().With(slog.String("component", "scheduler"))
	}
	return &Scheduler{log: log}
}

// Add registers a task. Tasks added after Start are ignored with a warning.
func (s *Scheduler) Add(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.log.Warn("task added after start, ignoring", slog.String("task", t.Name))
		return
	}
	if t.Interval <= 0 || t.Run == nil {
		s.log.Warn("task missing interval or run func, ignoring", slog.String("task", t.Name))
		return
	}
	s.tasks = append(s.tasks, t)
}

// Start launches every registered task. The tasks stop when ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	tasks := s.tasks
	s.mu.Unlock()

	for _, t := range tasks {
		s.wg.Add(1)
		go s.run(ctx, t)
	}
	s.log.Info("scheduler started", slog.Int("tasks", len(tasks)))
}

// Wait blocks until every task goroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, t Task) {
	defer s.wg.Done()
	log := s.log.With(slog.String("task", t.Name))
	log.Info("task starting", slog.Duration("interval", t.Interval))

	if t.Jitter {
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter
		delay := time.Duration(rand.Int63n(int64(t.Interval / 2)))
		select {
		case <-ctx.Done():
			log.Info("task stopped")
			return
		case <-time.After(delay):
		}
	}
	if t.Immediate {
		s.runOnce(ctx, t, log)
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("task stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx, t, log)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t Task, log *slog.Logger) {
	telemetry.SchedulerRuns.WithLabelValues(t.Name).Inc()
	start := time.Now()
	if err := t.Run(ctx); err != nil {
		telemetry.SchedulerFailures.WithLabelValues(t.Name).Inc()
		log.Warn("task run failed", slog.Any("err", err), slog.Duration("took", time.Since(start)))
		return
	}
	log.Debug("task run complete", slog.Duration("took", time.Since(start)))
}
