// Package agent implements the facade every executor and external surface
// goes through: the registered-capability directory, the task runtime it
// owns, and the patrol trigger driving the default watch cycle.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/srprobotics/homeagent/internal/action"
	"github.com/srprobotics/homeagent/internal/executors"
	"github.com/srprobotics/homeagent/internal/task"
)

// State is the agent's coarse operating mode, tracked for status reporting
// only; it does not gate any behavior in this runtime.
type State string

const (
	StateIdle       State = "idle"
	StatePatrolling State = "patrolling"
	StateResponding State = "responding"
	StateAlert      State = "alert"
)

// Config configures Agent construction.
type Config struct {
	MaxConcurrentTasks int
	LoopInterval       time.Duration
	CleanupInterval    time.Duration
	PatrolEnabled      bool
	PatrolInterval     time.Duration
	PatrolActionName   string
}

// Agent is the runtime facade: it owns the capability registry, the task
// queue/scheduler/loop, and the patrol trigger, and is the dependency every
// executor that needs to call back into "the agent" (run a capability,
// submit a follow-up task) is handed through the executors.ActionRunner and
// executors.TaskSubmitter interfaces.
type Agent struct {
	mu            sync.RWMutex
	actions       map[string]action.Action
	sharedContext map[string]any
	state         State

	Queue         *task.Queue
	Scheduler     *task.Scheduler
	Loop          *task.Loop
	PatrolTrigger *task.PeriodicTrigger

	logger *slog.Logger
}

// New constructs an Agent with its task runtime wired but no executors
// registered yet; call RegisterDefaultExecutors once the externally
// constructed executors (Mcp, Conversation, Dispatcher) are ready.
func New(cfg Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "agent")

	queue := task.NewQueue(log)
	scheduler := task.NewScheduler(cfg.MaxConcurrentTasks, log)
	loop := task.NewLoop(queue, scheduler, cfg.LoopInterval, cfg.CleanupInterval, log)

	actionName := cfg.PatrolActionName
	if actionName == "" {
		actionName = "watch"
	}
	patrolTrigger := task.NewPeriodicTrigger(queue, cfg.PatrolInterval, task.Template{
		Type:     task.TypePatrol,
		Priority: 5,
		ExecutionData: map[string]any{
			"action_name": actionName,
		},
	}, cfg.PatrolEnabled, log)

	return &Agent{
		actions:       make(map[string]action.Action),
		sharedContext: make(map[string]any),
		state:         StateIdle,
		Queue:         queue,
		Scheduler:     scheduler,
		Loop:          loop,
		PatrolTrigger: patrolTrigger,
		logger:        log,
	}
}

// Start begins the task loop and the patrol trigger.
func (a *Agent) Start(ctx context.Context) {
	a.Loop.Start(ctx)
	a.PatrolTrigger.Start()
}

// Stop tears down the patrol trigger and task loop, then cleans up every
// registered action.
func (a *Agent) Stop() {
	a.PatrolTrigger.Stop()
	a.Loop.Stop()

	a.mu.Lock()
	defer a.mu.Unlock()
	for name, act := range a.actions {
		if err := act.Cleanup(); err != nil {
			a.logger.Warn("action cleanup failed", "action", name, "error", err)
		}
	}
}

// RegisterAction initializes and registers a capability under name.
func (a *Agent) RegisterAction(name string, act action.Action, config map[string]any) error {
	if err := act.Initialize(config); err != nil {
		return fmt.Errorf("initialize action %q: %w", name, err)
	}
	a.mu.Lock()
	a.actions[name] = act
	a.mu.Unlock()
	return nil
}

// UnregisterAction cleans up and removes a capability.
func (a *Agent) UnregisterAction(name string) error {
	a.mu.Lock()
	act, ok := a.actions[name]
	if ok {
		delete(a.actions, name)
	}
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("action %q not registered", name)
	}
	return act.Cleanup()
}

// HasAction implements executors.ActionRunner.
func (a *Agent) HasAction(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.actions[name]
	return ok
}

// ListActionNames implements dispatcher.ActionLister.
func (a *Agent) ListActionNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.actions))
	for name := range a.actions {
		names = append(names, name)
	}
	return names
}

// ExecuteAction runs a registered capability by name, implementing
// executors.ActionRunner.
func (a *Agent) ExecuteAction(name string, input any) (action.Result, error) {
	a.mu.RLock()
	act, ok := a.actions[name]
	shared := a.sharedContext
	state := a.state
	a.mu.RUnlock()

	if !ok {
		return action.Result{}, fmt.Errorf("action %q not registered", name)
	}

	return act.Execute(action.Context{
		AgentState: state,
		InputData:  input,
		SharedData: shared,
	})
}

// ExecuteActionChain runs a sequence of registered capabilities in order,
// threading each result's output as the next input, stopping at the first
// failure.
func (a *Agent) ExecuteActionChain(names []string, input any) ([]action.Result, error) {
	results := make([]action.Result, 0, len(names))
	current := input
	for _, name := range names {
		result, err := a.ExecuteAction(name, current)
		if err != nil {
			return results, err
		}
		results = append(results, result)
		if !result.Success {
			return results, fmt.Errorf("action %q reported failure", name)
		}
		current = result.Output
	}
	return results, nil
}

// SetState updates the agent's reported operating mode.
func (a *Agent) SetState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// SubmitTask enqueues t and returns its id, implementing
// executors.TaskSubmitter.
func (a *Agent) SubmitTask(t *task.Task) string {
	a.Queue.Enqueue(t)
	return t.ID
}

// GetTaskStatus implements executors.TaskSubmitter.
func (a *Agent) GetTaskStatus(id string) (task.Status, bool) {
	t := a.Queue.GetByID(id)
	if t == nil {
		return "", false
	}
	return t.Status, true
}

// GetTaskDetail implements executors.TaskSubmitter.
func (a *Agent) GetTaskDetail(id string) *task.Task {
	return a.Queue.GetByID(id)
}

// CancelTask tries the queue first (a task still waiting to run), falling
// back to the scheduler (a task already executing).
func (a *Agent) CancelTask(id string) bool {
	if a.Queue.Cancel(id) {
		return true
	}
	return a.Scheduler.CancelTask(id)
}

// RegisterDefaultExecutors wires all six task types onto the scheduler: the
// three self-contained executors built here (patrol, user command, action
// chain) plus the three externally constructed ones (mcp, conversation,
// dispatcher) that depend on infrastructure — an LLM client, MCP
// connections, a dispatcher — the agent itself doesn't own.
func (a *Agent) RegisterDefaultExecutors(mcp, conversation, dispatcherExec task.Executor) {
	a.Scheduler.RegisterExecutor(task.TypePatrol, executors.NewPatrolExecutor(a, a.Queue, a.logger))
	a.Scheduler.RegisterExecutor(task.TypeUserCommand, executors.NewUserCommandExecutor(a, a.logger))
	a.Scheduler.RegisterExecutor(task.TypeActionChain, executors.NewActionChainExecutor(a, a.logger))
	a.Scheduler.RegisterExecutor(task.TypeMcpCall, mcp)
	a.Scheduler.RegisterExecutor(task.TypeConversation, conversation)
	a.Scheduler.RegisterExecutor(task.TypeDispatcher, dispatcherExec)
}
