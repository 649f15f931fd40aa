package task

import (
	"context"
	"log/slog"
)

// Executor runs one Task to completion. It owns the task's status
// transitions and its Result; if it needs to retry, it should enqueue a new
// task rather than re-running itself.
type Executor interface {
	Execute(ctx context.Context, t *Task) error
	Validate(t *Task) bool
}

// BaseExecutor provides the validate/error-handling/history-log helpers
// every concrete executor embeds, mirroring the shared base behavior every
// executor in this runtime relies on.
type BaseExecutor struct {
	Name   string
	Logger *slog.Logger
}

// NewBaseExecutor builds a BaseExecutor with a component-scoped logger.
func NewBaseExecutor(name string, logger *slog.Logger) BaseExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return BaseExecutor{Name: name, Logger: logger.With("executor", name)}
}

// Validate performs the default check every executor falls back to: the
// task must carry execution data to act on. Concrete executors override
// this when they need stronger validation.
func (b BaseExecutor) Validate(t *Task) bool {
	if len(t.ExecutionData) == 0 {
		b.Logger.Warn("task has no execution_data", "task_id", t.ID)
		return false
	}
	return true
}

// HandleError records the failure on the task and transitions it to Failed.
func (b BaseExecutor) HandleError(t *Task, err error) {
	b.Logger.Error("executor error", "task_id", t.ID, "error", err)
	t.Result = map[string]any{
		"error":      err.Error(),
		"error_type": "ExecutionError",
	}
	t.TransitionTo(StatusFailed, "error: "+err.Error())
}

// Log appends a message to the task's history and to the component logger.
func (b BaseExecutor) Log(t *Task, level slog.Level, message string) {
	t.LogEvent("log", map[string]any{
		"level":    level.String(),
		"message":  message,
		"executor": b.Name,
	})
	b.Logger.Log(context.Background(), level, message, "task_id", t.ID)
}
