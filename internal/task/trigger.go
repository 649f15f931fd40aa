package task

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Template describes the task a PeriodicTrigger materializes on each tick.
type Template struct {
	Type          Type
	Priority      int
	Timeout       time.Duration
	MaxRetries    int
	Context       map[string]any
	ExecutionData map[string]any
}

// PeriodicTrigger enqueues a task built from Template every Interval while
// enabled, backed by a cron.Cron running a single "@every" entry.
type PeriodicTrigger struct {
	queue    *Queue
	interval time.Duration
	template Template
	logger   *slog.Logger

	mu      sync.Mutex
	enabled bool
	running bool
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewPeriodicTrigger builds a trigger over the given queue. It does not
// start ticking until Start is called.
func NewPeriodicTrigger(q *Queue, interval time.Duration, tmpl Template, enabled bool, logger *slog.Logger) *PeriodicTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeriodicTrigger{
		queue:    q,
		interval: interval,
		template: tmpl,
		enabled:  enabled,
		logger:   logger.With("component", "periodic_trigger"),
	}
}

// Start begins the cron-driven tick loop, a no-op if disabled or already
// running.
func (p *PeriodicTrigger) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		p.logger.Debug("trigger disabled, not starting")
		return
	}
	if p.running {
		p.logger.Debug("already running")
		return
	}

	p.cron = cron.New()
	id, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.interval), p.createTask)
	if err != nil {
		p.logger.Error("failed to schedule trigger", "error", err)
		return
	}
	p.entryID = id
	p.cron.Start()
	p.running = true
	p.logger.Info("trigger started", "interval", p.interval)
}

// Stop halts the cron loop.
func (p *PeriodicTrigger) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	ctx := p.cron.Stop()
	<-ctx.Done()
	p.cron = nil
	p.running = false
	p.logger.Info("trigger stopped")
}

func (p *PeriodicTrigger) createTask() {
	t := NewTask(p.template.Type, p.template.Priority)
	if p.template.Timeout > 0 {
		t.Timeout = p.template.Timeout
	}
	if p.template.MaxRetries > 0 {
		t.MaxRetries = p.template.MaxRetries
	}
	if p.template.Context != nil {
		t.Context = cloneMap(p.template.Context)
	}
	if p.template.ExecutionData != nil {
		t.ExecutionData = cloneMap(p.template.ExecutionData)
	}
	p.queue.Enqueue(t)
	p.logger.Debug("created periodic task", "task_id", t.ID)
}

// IsRunning reports whether the trigger is currently ticking.
func (p *PeriodicTrigger) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// SetEnabled toggles the trigger, starting or stopping the cron loop to
// match.
func (p *PeriodicTrigger) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	running := p.running
	p.mu.Unlock()

	if enabled && !running {
		p.Start()
	} else if !enabled && running {
		p.Stop()
	}
}
