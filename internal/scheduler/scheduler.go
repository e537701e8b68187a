// Package scheduler runs periodic background work on top of gocron.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// TaskFunc is the function signature for scheduled tasks.
type TaskFunc func(ctx context.Context) error

// TaskConfig contains configuration for a scheduled task.
type TaskConfig struct {
	ID       string
	Name     string
	Interval time.Duration
	Func     TaskFunc
	// Quiet logs runs at trace level. Use it for high-frequency tasks.
	Quiet bool
}

// TaskInfo describes a registered task.
type TaskInfo struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	LastRun  *time.Time    `json:"lastRun,omitempty"`
	NextRun  *time.Time    `json:"nextRun,omitempty"`
	Runs     int           `json:"runs"`
	Running  bool          `json:"running"`
}

type taskEntry struct {
	config  TaskConfig
	job     gocron.Job
	lastRun *time.Time
	runs    int
	running bool
}

// Scheduler manages background interval tasks. Tasks never overlap with
// themselves; a run that is still busy when the next one is due is skipped.
type Scheduler struct {
	gocron gocron.Scheduler
	clock  clockwork.Clock
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	tasks  map[string]*taskEntry
	mu     sync.RWMutex
}

// New creates a new scheduler driven by clock.
func New(clock clockwork.Clock, logger zerolog.Logger) (*Scheduler, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	gs, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		gocron: gs,
		clock:  clock,
		logger: logger.With().Str("component", "scheduler").Logger(),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*taskEntry),
	}, nil
}

// RegisterTask registers a new interval task.
func (s *Scheduler) RegisterTask(config TaskConfig) error {
	if config.Interval <= 0 {
		return fmt.Errorf("task %q: interval must be positive", config.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[config.ID]; exists {
		return fmt.Errorf("task with ID %q already registered", config.ID)
	}

	job, err := s.gocron.NewJob(
		gocron.DurationJob(config.Interval),
		gocron.NewTask(func() {
			s.executeTask(config.ID)
		}),
		gocron.WithName(config.Name),
		gocron.WithTags(config.ID),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create job for task %q: %w", config.ID, err)
	}

	s.tasks[config.ID] = &taskEntry{
		config: config,
		job:    job,
	}

	s.logger.Debug().
		Str("id", config.ID).
		Str("name", config.Name).
		Dur("interval", config.Interval).
		Msg("Registered task")

	return nil
}

// executeTask runs a task and updates its state.
func (s *Scheduler) executeTask(taskID string) {
	s.mu.Lock()
	entry, exists := s.tasks[taskID]
	if !exists || entry.running {
		s.mu.Unlock()
		return
	}
	entry.running = true
	s.mu.Unlock()

	startTime := s.clock.Now()
	err := entry.config.Func(s.ctx)

	s.mu.Lock()
	entry.running = false
	entry.lastRun = &startTime
	entry.runs++
	s.mu.Unlock()

	duration := s.clock.Since(startTime)
	switch {
	case err != nil:
		s.logger.Error().
			Err(err).
			Str("id", taskID).
			Dur("duration", duration).
			Msg("Task failed")
	case entry.config.Quiet:
		s.logger.Trace().Str("id", taskID).Dur("duration", duration).Msg("Task completed")
	default:
		s.logger.Info().Str("id", taskID).Dur("duration", duration).Msg("Task completed")
	}
}

// Start starts running registered tasks.
func (s *Scheduler) Start() {
	s.logger.Debug().Msg("Starting scheduler")
	s.gocron.Start()
}

// Stop stops the scheduler and waits for running tasks to return.
func (s *Scheduler) Stop() error {
	s.logger.Debug().Msg("Stopping scheduler")
	s.cancel()
	return s.gocron.Shutdown()
}

// ListTasks returns information about all registered tasks, ordered by ID.
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]TaskInfo, 0, len(s.tasks))
	for _, entry := range s.tasks {
		tasks = append(tasks, entry.info())
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

func (e *taskEntry) info() TaskInfo {
	info := TaskInfo{
		ID:       e.config.ID,
		Name:     e.config.Name,
		Interval: e.config.Interval,
		LastRun:  e.lastRun,
		Runs:     e.runs,
		Running:  e.running,
	}
	if nextRun, err := e.job.NextRun(); err == nil {
		info.NextRun = &nextRun
	}
	return info
}
