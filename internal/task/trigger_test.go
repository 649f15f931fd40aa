package task

import (
	"testing"
	"time"
)

func TestPeriodicTriggerDisabledDoesNotRun(t *testing.T) {
	q := NewQueue(nil)
	trig := NewPeriodicTrigger(q, 20*time.Millisecond, Template{Type: TypePatrol, Priority: 5}, false, nil)

	trig.Start()
	defer trig.Stop()

	if trig.IsRunning() {
		t.Fatal("expected disabled trigger not to run")
	}
	time.Sleep(50 * time.Millisecond)
	if q.Size() != 0 {
		t.Errorf("expected no tasks enqueued while disabled, got %d", q.Size())
	}
}

func TestPeriodicTriggerEnqueuesOnTick(t *testing.T) {
	q := NewQueue(nil)
	tmpl := Template{
		Type:          TypePatrol,
		Priority:      7,
		Timeout:       5 * time.Second,
		MaxRetries:    2,
		Context:       map[string]any{"room": "hall"},
		ExecutionData: map[string]any{"action": "watch"},
	}
	trig := NewPeriodicTrigger(q, 30*time.Millisecond, tmpl, true, nil)

	trig.Start()
	defer trig.Stop()

	if !trig.IsRunning() {
		t.Fatal("expected trigger to report running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for q.Size() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	all := q.ListAll()
	if len(all) == 0 {
		t.Fatal("expected at least one task to be enqueued")
	}
	task := all[0]
	if task.Type != TypePatrol {
		t.Errorf("expected TypePatrol, got %s", task.Type)
	}
	if task.Priority != 7 {
		t.Errorf("expected priority 7, got %d", task.Priority)
	}
	if task.Timeout != 5*time.Second {
		t.Errorf("expected timeout from template, got %s", task.Timeout)
	}
	if task.Context["room"] != "hall" {
		t.Errorf("expected context carried from template, got %v", task.Context)
	}
	if task.ExecutionData["action"] != "watch" {
		t.Errorf("expected execution data carried from template, got %v", task.ExecutionData)
	}
}

func TestPeriodicTriggerStop(t *testing.T) {
	q := NewQueue(nil)
	trig := NewPeriodicTrigger(q, 20*time.Millisecond, Template{Type: TypePatrol}, true, nil)
	trig.Start()

	if !trig.IsRunning() {
		t.Fatal("expected trigger running after Start")
	}

	trig.Stop()
	if trig.IsRunning() {
		t.Error("expected trigger stopped")
	}

	trig.Stop() // idempotent
}

func TestPeriodicTriggerSetEnabled(t *testing.T) {
	q := NewQueue(nil)
	trig := NewPeriodicTrigger(q, 20*time.Millisecond, Template{Type: TypePatrol}, false, nil)

	trig.SetEnabled(true)
	if !trig.IsRunning() {
		t.Fatal("expected enabling to start the trigger")
	}

	trig.SetEnabled(false)
	if trig.IsRunning() {
		t.Error("expected disabling to stop the trigger")
	}
}
