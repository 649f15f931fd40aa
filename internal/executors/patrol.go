package executors

import (
	"context"
	"log/slog"
	"time"

	"github.com/srprobotics/homeagent/internal/task"
)

// PatrolExecutor runs a single watch-style capability and escalates to an
// alert task when the capability's output reports an emergency above
// threshold.
type PatrolExecutor struct {
	task.BaseExecutor
	agent             ActionRunner
	queue             *task.Queue
	EmergencyThreshold float64
}

// NewPatrolExecutor builds a PatrolExecutor.
func NewPatrolExecutor(agent ActionRunner, queue *task.Queue, logger *slog.Logger) *PatrolExecutor {
	return &PatrolExecutor{
		BaseExecutor:       task.NewBaseExecutor("patrol", logger),
		agent:              agent,
		queue:              queue,
		EmergencyThreshold: 0.8,
	}
}

// Validate checks the requested action is registered.
func (e *PatrolExecutor) Validate(t *task.Task) bool {
	actionName := task.StringField(t.ExecutionData, "action_name", "watch")
	if !e.agent.HasAction(actionName) {
		e.Logger.Warn("patrol action not registered", "action", actionName, "task_id", t.ID)
		return false
	}
	return true
}

// Execute runs the patrol action and escalates on emergency output.
func (e *PatrolExecutor) Execute(ctx context.Context, t *task.Task) error {
	actionName := task.StringField(t.ExecutionData, "action_name", "watch")

	result, err := e.agent.ExecuteAction(actionName, nil)
	if err != nil {
		e.HandleError(t, err)
		return nil
	}

	emergencyDetected := false
	if output, ok := result.Output.(map[string]any); ok {
		if task.BoolField(output, "emergency", false) {
			confidence := task.FloatField(output, "confidence", 0)
			if confidence >= e.EmergencyThreshold {
				emergencyDetected = true
				e.createAlertTask(output)
			}
		}
	}

	t.Result = map[string]any{
		"success":            result.Success,
		"analysis":           result.Output,
		"emergency_detected": emergencyDetected,
	}
	t.TransitionTo(task.StatusCompleted, "patrol cycle finished")
	return nil
}

func (e *PatrolExecutor) createAlertTask(emergencyData map[string]any) {
	alert := task.NewTask(task.TypeUserCommand, 8)
	alert.Timeout = 30 * time.Second
	alert.ExecutionData = map[string]any{
		"command_type":   "alert",
		"command_params": emergencyData,
	}
	if e.queue != nil {
		e.queue.Enqueue(alert)
	}
	e.Logger.Warn("emergency detected during patrol, alert task enqueued", "alert_task_id", alert.ID)
}
