// Package task implements the unified task runtime: the priority queue,
// concurrency-limited scheduler, task loop, and periodic trigger shared by
// every executor in this module.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies what kind of work a Task represents.
type Type string

const (
	TypePatrol      Type = "patrol"
	TypeMcpCall     Type = "mcp_call"
	TypeUserCommand Type = "user_command"
	TypeActionChain Type = "action_chain"
	TypeConversation Type = "conversation"
	TypeDispatcher  Type = "dispatcher"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRetrying  Status = "retrying"
)

// PlanStepStatus is the lifecycle state of a single PlanStep.
type PlanStepStatus string

const (
	PlanStepPending    PlanStepStatus = "pending"
	PlanStepInProgress PlanStepStatus = "in_progress"
	PlanStepCompleted  PlanStepStatus = "completed"
	PlanStepSkipped    PlanStepStatus = "skipped"
	PlanStepFailed     PlanStepStatus = "failed"
)

// PlanStep is a single step of a plan-driven Task's execution plan.
type PlanStep struct {
	StepID          string         `json:"step_id"`
	Description     string         `json:"description"`
	ExpectedTool    string         `json:"expected_tool,omitempty"`
	Status          PlanStepStatus `json:"status"`
	ExecutionResult map[string]any `json:"execution_result,omitempty"`
	SkipReason      string         `json:"skip_reason,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// NewPlanStep builds a PlanStep with a fresh id, pending status.
func NewPlanStep(description, expectedTool string) *PlanStep {
	return &PlanStep{
		StepID:       uuid.NewString(),
		Description:  description,
		ExpectedTool: expectedTool,
		Status:       PlanStepPending,
	}
}

// Plan is a task's execution plan: an ordered list of steps plus cursor and
// revision bookkeeping.
type Plan struct {
	Steps            []*PlanStep `json:"steps"`
	CurrentStepIndex int         `json:"current_step_index"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	RevisionCount    int         `json:"revision_count"`
}

// NewPlan builds an empty plan with the given steps.
func NewPlan(steps []*PlanStep) *Plan {
	now := time.Now()
	return &Plan{Steps: steps, CreatedAt: now, UpdatedAt: now}
}

// CurrentStep returns the step the plan is presently on, or nil if the plan
// has advanced past its last step.
func (p *Plan) CurrentStep() *PlanStep {
	if p.CurrentStepIndex < len(p.Steps) {
		return p.Steps[p.CurrentStepIndex]
	}
	return nil
}

// IsCompleted reports whether every step is completed or skipped and the
// cursor has moved past the end of the step list.
func (p *Plan) IsCompleted() bool {
	if len(p.Steps) == 0 {
		return false
	}
	if p.CurrentStepIndex < len(p.Steps) {
		return false
	}
	for _, s := range p.Steps {
		if s.Status != PlanStepCompleted && s.Status != PlanStepSkipped {
			return false
		}
	}
	return true
}

// AdvanceStep moves the cursor to the next step.
func (p *Plan) AdvanceStep() {
	p.CurrentStepIndex++
	p.UpdatedAt = time.Now()
}

// IncrementRevision records that the plan was revised in place. Revisions
// append to Steps rather than replacing it; callers relying on step counts
// must account for previously-completed steps staying in the slice.
func (p *Plan) IncrementRevision() {
	p.RevisionCount++
	p.UpdatedAt = time.Now()
}

// HistoryEntry is one append-only record of something that happened to a
// Task: a status transition, a retry, or an executor-specific log line.
type HistoryEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Task is the single data structure every executor operates on; TaskType
// distinguishes what kind of work it represents.
type Task struct {
	ID            string         `json:"task_id"`
	Type          Type           `json:"task_type"`
	Priority      int            `json:"priority"` // 1-10, higher runs first
	Status        Status         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Timeout       time.Duration  `json:"timeout"`
	RetryCount    int            `json:"retry_count"`
	MaxRetries    int            `json:"max_retries"`
	Context       map[string]any `json:"context"`
	ExecutionData map[string]any `json:"execution_data"`
	History       []HistoryEntry `json:"history"`
	Result        map[string]any `json:"result,omitempty"`
	Plan          *Plan          `json:"plan,omitempty"`
}

// NewTask builds a pending task with generated id and sane defaults.
func NewTask(typ Type, priority int) *Task {
	now := time.Now()
	return &Task{
		ID:            uuid.NewString(),
		Type:          typ,
		Priority:      priority,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		Timeout:       60 * time.Second,
		MaxRetries:    3,
		Context:       map[string]any{},
		ExecutionData: map[string]any{},
	}
}

// TransitionTo moves the task to a new status and records the transition in
// its history.
func (t *Task) TransitionTo(status Status, reason string) {
	old := t.Status
	t.Status = status
	t.UpdatedAt = time.Now()
	t.History = append(t.History, HistoryEntry{
		Timestamp: t.UpdatedAt,
		Event:     "status_transition",
		Fields: map[string]any{
			"old_status": string(old),
			"new_status": string(status),
			"reason":     reason,
		},
	})
}

// IsTerminal reports whether the task has reached a terminal status.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTimedOut reports whether the task has been alive longer than its
// configured timeout, measured from creation.
func (t *Task) IsTimedOut() bool {
	return time.Since(t.CreatedAt) > t.Timeout
}

// CanRetry reports whether the task has retries remaining.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// IncrementRetry records a retry attempt in history.
func (t *Task) IncrementRetry() {
	t.RetryCount++
	t.UpdatedAt = time.Now()
	t.History = append(t.History, HistoryEntry{
		Timestamp: t.UpdatedAt,
		Event:     "retry",
		Fields: map[string]any{
			"retry_count": t.RetryCount,
			"max_retries": t.MaxRetries,
		},
	})
}

// LogEvent appends an arbitrary executor-level history entry.
func (t *Task) LogEvent(event string, fields map[string]any) {
	t.History = append(t.History, HistoryEntry{
		Timestamp: time.Now(),
		Event:     event,
		Fields:    fields,
	})
}

// PlanSummary is a compact view of a task's plan, suitable for status APIs.
type PlanSummary struct {
	TotalSteps    int                `json:"total_steps"`
	CurrentStep   int                `json:"current_step"`
	RevisionCount int                `json:"revision_count"`
	IsCompleted   bool               `json:"is_completed"`
	Steps         []PlanStepSummary  `json:"steps_summary"`
}

// PlanStepSummary is one row of a PlanSummary.
type PlanStepSummary struct {
	Index        int            `json:"index"`
	Description  string         `json:"description"`
	Status       PlanStepStatus `json:"status"`
	ExpectedTool string         `json:"expected_tool,omitempty"`
}

// GetPlanSummary returns nil if the task has no plan.
func (t *Task) GetPlanSummary() *PlanSummary {
	if t.Plan == nil {
		return nil
	}
	summary := &PlanSummary{
		TotalSteps:    len(t.Plan.Steps),
		CurrentStep:   t.Plan.CurrentStepIndex + 1,
		RevisionCount: t.Plan.RevisionCount,
		IsCompleted:   t.Plan.IsCompleted(),
	}
	for i, step := range t.Plan.Steps {
		desc := step.Description
		if len(desc) > 50 {
			desc = desc[:50] + "..."
		}
		summary.Steps = append(summary.Steps, PlanStepSummary{
			Index:        i + 1,
			Description:  desc,
			Status:       step.Status,
			ExpectedTool: step.ExpectedTool,
		})
	}
	return summary
}

// Clone returns a deep-ish copy of the task suitable for returning from a
// locked accessor without leaking mutable state back to the caller.
func (t *Task) Clone() *Task {
	clone := *t
	clone.Context = cloneMap(t.Context)
	clone.ExecutionData = cloneMap(t.ExecutionData)
	clone.Result = cloneMap(t.Result)
	clone.History = append([]HistoryEntry(nil), t.History...)
	if t.Plan != nil {
		planCopy := *t.Plan
		planCopy.Steps = append([]*PlanStep(nil), t.Plan.Steps...)
		clone.Plan = &planCopy
	}
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
