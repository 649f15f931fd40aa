package task

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Loop coordinates a Queue and a Scheduler: a main loop pulls pending tasks
// and hands them to the scheduler, and a cleanup loop periodically purges
// terminal tasks and logs statistics.
type Loop struct {
	queue     *Queue
	scheduler *Scheduler
	interval  time.Duration
	cleanup   time.Duration
	logger    *slog.Logger

	// AuditSink, if set, receives terminal tasks just before they are
	// purged from the queue. Best-effort: failures are logged, never
	// propagated.
	AuditSink func(ctx context.Context, t *Task)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewLoop builds a Loop with the given polling interval. cleanup defaults
// to 10s if zero.
func NewLoop(q *Queue, s *Scheduler, interval, cleanup time.Duration, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	if cleanup <= 0 {
		cleanup = 10 * time.Second
	}
	return &Loop{
		queue:     q,
		scheduler: s,
		interval:  interval,
		cleanup:   cleanup,
		logger:    logger.With("component", "task_loop"),
	}
}

// Start begins the main and cleanup loops. Calling Start twice is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		l.logger.Debug("already running")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true

	l.wg.Add(2)
	go l.mainLoop(runCtx)
	go l.cleanupLoop(runCtx)

	l.logger.Info("task loop started", "interval", l.interval, "cleanup_interval", l.cleanup)
}

// Stop halts both loops and waits for them to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	l.mu.Unlock()

	cancel()
	l.wg.Wait()
	l.logger.Info("task loop stopped")
}

// IsRunning reports whether the loop is active.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) mainLoop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Debug("entering main loop")
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("main loop cancelled")
			return
		case <-ticker.C:
			if l.queue.Size() > 0 && l.scheduler.CanSchedule() {
				if t := l.queue.Dequeue(); t != nil {
					if !l.scheduler.Schedule(ctx, t) {
						l.queue.Enqueue(t)
					}
				}
			}
		}
	}
}

func (l *Loop) cleanupLoop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	l.logger.Debug("entering cleanup loop")
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("cleanup loop cancelled")
			return
		case <-ticker.C:
			removed := l.queue.RemoveCompleted()
			if l.AuditSink != nil {
				for _, t := range removed {
					l.AuditSink(ctx, t)
				}
			}

			stats := l.queue.Statistics()
			running := l.scheduler.RunningCount()
			if len(removed) > 0 {
				l.logger.Debug("cleanup removed tasks", "count", len(removed))
			}
			l.logger.Debug("loop stats",
				"pending", stats[StatusPending],
				"running", running,
				"completed", stats[StatusCompleted],
				"failed", stats[StatusFailed])
		}
	}
}

// Statistics returns a point-in-time snapshot of loop and queue state.
func (l *Loop) Statistics() map[string]any {
	stats := l.queue.Statistics()
	out := map[string]any{
		"loop_running":        l.IsRunning(),
		"queue_size":          l.queue.Size(),
		"running_tasks":       l.scheduler.RunningCount(),
		"max_concurrent_tasks": l.scheduler.MaxConcurrent(),
	}
	for status, n := range stats {
		out[string(status)] = n
	}
	return out
}
