package task

import (
	"context"
	"testing"
	"time"
)

func TestLoopStartStop(t *testing.T) {
	q := NewQueue(nil)
	s := NewScheduler(2, nil)
	loop := NewLoop(q, s, 10*time.Millisecond, 20*time.Millisecond, nil)

	ctx := context.Background()
	loop.Start(ctx)
	if !loop.IsRunning() {
		t.Fatal("expected loop running after Start")
	}

	loop.Start(ctx) // idempotent

	loop.Stop()
	if loop.IsRunning() {
		t.Error("expected loop stopped")
	}

	loop.Stop() // idempotent
}

func TestLoopDispatchesToScheduler(t *testing.T) {
	q := NewQueue(nil)
	s := NewScheduler(2, nil)
	done := make(chan struct{})
	s.RegisterExecutor(TypePatrol, &fakeExecutor{started: done})

	loop := NewLoop(q, s, 5*time.Millisecond, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop.Start(ctx)
	defer loop.Stop()

	task := NewTask(TypePatrol, 5)
	task.Timeout = time.Second
	q.Enqueue(task)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected loop to dispatch the enqueued task to the scheduler")
	}
}

func TestLoopCleanupInvokesAuditSink(t *testing.T) {
	q := NewQueue(nil)
	s := NewScheduler(2, nil)
	loop := NewLoop(q, s, time.Second, 10*time.Millisecond, nil)

	audited := make(chan *Task, 1)
	loop.AuditSink = func(ctx context.Context, t *Task) {
		audited <- t
	}

	done := NewTask(TypePatrol, 1)
	done.Status = StatusCompleted
	q.Enqueue(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)
	defer loop.Stop()

	select {
	case got := <-audited:
		if got.ID != done.ID {
			t.Errorf("expected audited task to match enqueued one, got %s", got.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected cleanup loop to invoke audit sink for the completed task")
	}

	if q.GetByID(done.ID) != nil {
		t.Error("expected completed task removed from queue after cleanup")
	}
}

func TestLoopStatistics(t *testing.T) {
	q := NewQueue(nil)
	s := NewScheduler(3, nil)
	loop := NewLoop(q, s, time.Second, time.Second, nil)

	q.Enqueue(NewTask(TypePatrol, 1))

	stats := loop.Statistics()
	if stats["loop_running"] != false {
		t.Errorf("expected loop_running false before Start, got %v", stats["loop_running"])
	}
	if stats["queue_size"] != 1 {
		t.Errorf("expected queue_size 1, got %v", stats["queue_size"])
	}
	if stats["max_concurrent_tasks"] != 3 {
		t.Errorf("expected max_concurrent_tasks 3, got %v", stats["max_concurrent_tasks"])
	}
}

func TestNewLoopDefaults(t *testing.T) {
	q := NewQueue(nil)
	s := NewScheduler(1, nil)
	loop := NewLoop(q, s, 0, 0, nil)

	if loop.interval != time.Second {
		t.Errorf("expected default interval 1s, got %s", loop.interval)
	}
	if loop.cleanup != 10*time.Second {
		t.Errorf("expected default cleanup 10s, got %s", loop.cleanup)
	}
}
