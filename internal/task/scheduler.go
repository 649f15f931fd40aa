package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Scheduler dispatches tasks to the Executor registered for their Type,
// enforcing a ceiling on the number of tasks running at once and a
// per-task deadline.
type Scheduler struct {
	maxConcurrent int
	logger        *slog.Logger

	mu        sync.Mutex
	executors map[Type]Executor
	running   map[string]context.CancelFunc
}

// NewScheduler builds a Scheduler with the given concurrency ceiling.
func NewScheduler(maxConcurrent int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Scheduler{
		maxConcurrent: maxConcurrent,
		logger:        logger.With("component", "scheduler"),
		executors:     make(map[Type]Executor),
		running:       make(map[string]context.CancelFunc),
	}
}

// RegisterExecutor binds an Executor to a Type.
func (s *Scheduler) RegisterExecutor(t Type, e Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[t] = e
	s.logger.Info("registered executor", "task_type", string(t))
}

// Executor returns the Executor registered for t, or nil.
func (s *Scheduler) Executor(t Type) Executor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executors[t]
}

// CanSchedule reports whether the concurrency ceiling allows another task
// to start running right now.
func (s *Scheduler) CanSchedule() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running) < s.maxConcurrent
}

// Schedule attempts to run t asynchronously. It returns false (without
// mutating t further) if the concurrency ceiling is reached; it transitions
// t to Failed and returns false if no executor is registered for its Type.
func (s *Scheduler) Schedule(ctx context.Context, t *Task) bool {
	s.mu.Lock()
	if len(s.running) >= s.maxConcurrent {
		s.mu.Unlock()
		s.logger.Debug("cannot schedule: concurrency limit reached",
			"task_id", t.ID, "running", len(s.running), "max", s.maxConcurrent)
		return false
	}

	executor, ok := s.executors[t.Type]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("no executor registered", "task_type", string(t.Type))
		t.TransitionTo(StatusFailed, fmt.Sprintf("no executor for %s", t.Type))
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running[t.ID] = cancel
	s.mu.Unlock()

	t.TransitionTo(StatusRunning, "scheduled")
	s.logger.Debug("scheduling task", "task_id", t.ID, "type", string(t.Type))

	go s.runWithMonitoring(runCtx, cancel, t, executor)
	return true
}

func (s *Scheduler) runWithMonitoring(ctx context.Context, cancel context.CancelFunc, t *Task, executor Executor) {
	defer func() {
		s.mu.Lock()
		delete(s.running, t.ID)
		s.mu.Unlock()
		cancel()

		if r := recover(); r != nil {
			s.logger.Error("task panicked", "task_id", t.ID, "panic", r)
			t.Result = map[string]any{"error": fmt.Sprintf("panic: %v", r)}
			t.TransitionTo(StatusFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	deadline, deadlineCancel := context.WithTimeout(ctx, t.Timeout)
	defer deadlineCancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- executor.Execute(deadline, t)
	}()

	select {
	case err := <-errCh:
		elapsed := time.Since(start)
		if err != nil {
			s.logger.Warn("task failed", "task_id", t.ID, "error", err, "elapsed", elapsed)
			if !t.IsTerminal() {
				t.Result = map[string]any{"error": err.Error()}
				t.TransitionTo(StatusFailed, fmt.Sprintf("execution error: %v", err))
			}
		} else {
			s.logger.Debug("task completed", "task_id", t.ID, "elapsed", elapsed)
		}
	case <-deadline.Done():
		if deadline.Err() == context.DeadlineExceeded {
			s.logger.Warn("task timed out", "task_id", t.ID, "timeout", t.Timeout)
			t.TransitionTo(StatusFailed, fmt.Sprintf("timeout after %s", t.Timeout))
		} else {
			s.logger.Debug("task cancelled", "task_id", t.ID)
			t.TransitionTo(StatusCancelled, "task cancelled")
		}
	}
}

// CancelTask cancels a currently-running task's context, if any.
func (s *Scheduler) CancelTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.running[id]
	if !ok {
		return false
	}
	cancel()
	s.logger.Debug("cancelled running task", "task_id", id)
	return true
}

// RunningCount returns the number of tasks currently executing.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// MaxConcurrent returns the configured concurrency ceiling.
func (s *Scheduler) MaxConcurrent() int {
	return s.maxConcurrent
}
