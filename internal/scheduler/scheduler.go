package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is a unit of periodic housekeeping
type Task interface {
	Run(ctx context.Context) error
	Interval() time.Duration
	Name() string
}

// Scheduler runs each task on its own ticker until the context ends
type Scheduler struct {
	mu    sync.Mutex
	tasks []Task
}

func New() *Scheduler {
	return &Scheduler{}
}

// AddTask registers a task. Tasks added after Run has started are not picked up.
func (s *Scheduler) AddTask(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

// Run starts every task and blocks until ctx is cancelled and all of them have returned.
// Task errors are logged and never stop the schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	slog.Info("Task scheduler started", "task_count", len(tasks))

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			runTask(ctx, task)
		}(task)
	}
	wg.Wait()

	slog.Info("Task scheduler stopped")
	return nil
}

// runTask runs a single task immediately and then on every tick
func runTask(ctx context.Context, task Task) {
	ticker := time.NewTicker(task.Interval())
	defer ticker.Stop()

	runOnce(ctx, task)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, task)
		}
	}
}

func runOnce(ctx context.Context, task Task) {
	if err := task.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("Error running task", "task", task.Name(), "error", err)
	}
}
