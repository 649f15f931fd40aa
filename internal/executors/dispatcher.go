package executors

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/srprobotics/homeagent/internal/dispatcher"
	"github.com/srprobotics/homeagent/internal/task"
)

// DispatcherExecutor runs a request handed in by dispatcher.Dispatcher on
// the task scheduler, so dispatcher-originated work shares the same
// concurrency gate as every other task type.
type DispatcherExecutor struct {
	task.BaseExecutor
	dispatcher *dispatcher.Dispatcher
	runner     dispatcher.ActionRunnerForDispatch
}

// NewDispatcherExecutor builds a DispatcherExecutor.
func NewDispatcherExecutor(d *dispatcher.Dispatcher, runner dispatcher.ActionRunnerForDispatch, logger *slog.Logger) *DispatcherExecutor {
	return &DispatcherExecutor{
		BaseExecutor: task.NewBaseExecutor("dispatcher", logger),
		dispatcher:   d,
		runner:       runner,
	}
}

// Validate requires a non-empty task_request in execution data.
func (e *DispatcherExecutor) Validate(t *task.Task) bool {
	return task.MapField(t.ExecutionData, "task_request") != nil
}

// Execute unpacks the embedded request, runs it through the dispatcher,
// and relays completion/failure back through the dispatcher's callback
// channels using the original request's dispatcher id, if any.
func (e *DispatcherExecutor) Execute(ctx context.Context, t *task.Task) error {
	request := task.MapField(t.ExecutionData, "task_request")
	callbackID := task.StringField(t.ExecutionData, "task_id_for_callback", "")
	taskType := task.StringField(request, "task_type", "")

	result, err := e.dispatcher.ExecuteTaskByType(ctx, callbackID, taskType, request, e.runner)
	if err != nil {
		t.Result = map[string]any{"success": false, "error": err.Error()}
		t.TransitionTo(task.StatusFailed, fmt.Sprintf("dispatch failed: %v", err))
		if callbackID != "" {
			e.dispatcher.NotifyFailed(ctx, callbackID, err.Error())
		}
		return nil
	}

	t.Result = result
	t.TransitionTo(task.StatusCompleted, "dispatch finished")
	if callbackID != "" {
		e.dispatcher.NotifyComplete(ctx, callbackID, result)
	}
	return nil
}
