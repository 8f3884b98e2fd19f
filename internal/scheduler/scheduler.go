package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dandantas/vcollab/internal/config"
	"github.com/dandantas/vcollab/internal/lock"
	"github.com/dandantas/vcollab/internal/topology"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Task is a job run on a fixed interval
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	// SkipIfRunning drops a tick while the previous run is still going
	SkipIfRunning bool
	// RunOnStart runs the task once as soon as the scheduler starts
	RunOnStart bool
}

// Scheduler runs background tasks on a cron instance
type Scheduler struct {
	tasks      []Task
	instanceID string
	logger     cron.Logger
	cron       *cron.Cron

	mu      sync.Mutex // guards started and cancel
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds the scheduler owning the lock reaper and the topology fetch. Either may be
// nil, and each can be disabled through configuration.
func New(cfg *config.Config, reaper *lock.Reaper, fetcher *topology.Fetcher) *Scheduler {
	var tasks []Task
	if reaper != nil && cfg.ReaperEnabled {
		tasks = append(tasks, ReaperTask(reaper, cfg.ReaperInterval))
	}
	if fetcher != nil && cfg.FetchEnabled {
		tasks = append(tasks, FetchTask(fetcher, cfg.FetchInterval))
	}
	return NewWithTasks(tasks...)
}

// ReaperTask sweeps expired locks. Sweeps only perform conditional clears, so overlapping
// runs are harmless and are not skipped.
func ReaperTask(reaper *lock.Reaper, interval time.Duration) Task {
	return Task{
		Name:     "lock-reaper",
		Interval: interval,
		Run: func(ctx context.Context) error {
			reaper.Run(ctx)
			return nil
		},
	}
}

// FetchTask refreshes the topology cache
func FetchTask(fetcher *topology.Fetcher, interval time.Duration) Task {
	return Task{
		Name:          "topology-fetch",
		Interval:      interval,
		SkipIfRunning: true,
		RunOnStart:    true,
		Run: func(ctx context.Context) error {
			err := fetcher.Run(ctx)
			if errors.Is(err, topology.ErrFetchInProgress) {
				return nil
			}
			return err
		},
	}
}

func NewWithTasks(tasks ...Task) *Scheduler {
	// Get instance identifier (hostname in Kubernetes)
	instanceID, err := os.Hostname()
	if err != nil {
		instanceID = uuid.New().String()
		slog.Warn("Failed to get hostname, using UUID as instance ID", "instance_id", instanceID)
	}

	logger := NewLogger(slog.Default())
	return &Scheduler{
		tasks:      tasks,
		instanceID: instanceID,
		logger:     logger,
		cron:       cron.New(cron.WithLogger(logger)),
	}
}

// Start registers every task and starts ticking. Tasks receive a context that is
// cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("scheduler already started")
	}
	if len(s.tasks) == 0 {
		slog.Info("Scheduler has no enabled tasks")
		return nil
	}

	for _, t := range s.tasks {
		if t.Interval <= 0 {
			return fmt.Errorf("task %s: interval must be positive", t.Name)
		}
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	var onStart []cron.Job
	for _, t := range s.tasks {
		job := s.wrap(s.ctx, t)
		s.cron.Schedule(cron.Every(t.Interval), job)
		if t.RunOnStart {
			onStart = append(onStart, job)
		}

		slog.Info("Scheduled task",
			"task", t.Name,
			"interval", t.Interval.String(),
			"skip_if_running", t.SkipIfRunning,
		)
	}

	s.cron.Start()
	s.started = true

	for _, job := range onStart {
		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			job.Run()
		}()
	}

	slog.Info("Scheduler started", "instance_id", s.instanceID, "tasks", len(s.tasks))
	return nil
}

// Stop cancels running tasks and waits for them until ctx expires
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	slog.Info("Stopping scheduler", "instance_id", s.instanceID)
	s.cancel()
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("All scheduled tasks completed")
	case <-ctx.Done():
		slog.Warn("Timeout waiting for scheduled tasks to complete")
	}
	s.started = false
}

func (s *Scheduler) wrap(ctx context.Context, t Task) cron.Job {
	var job cron.Job = cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := t.Run(ctx); err != nil {
			slog.Warn("Scheduled task failed",
				"task", t.Name,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err,
			)
			return
		}
		slog.Debug("Scheduled task completed",
			"task", t.Name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})

	wrappers := []cron.JobWrapper{cron.Recover(s.logger)}
	if t.SkipIfRunning {
		wrappers = append(wrappers, cron.SkipIfStillRunning(s.logger))
	}
	return cron.NewChain(wrappers...).Then(job)
}
