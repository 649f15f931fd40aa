package executors

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/srprobotics/homeagent/internal/task"
)

// ActionChainExecutor runs a sequence of registered capabilities, feeding
// each step's output as the next step's input, stopping at the first
// failure.
type ActionChainExecutor struct {
	task.BaseExecutor
	agent ActionRunner
}

// NewActionChainExecutor builds an ActionChainExecutor.
func NewActionChainExecutor(agent ActionRunner, logger *slog.Logger) *ActionChainExecutor {
	return &ActionChainExecutor{
		BaseExecutor: task.NewBaseExecutor("action_chain", logger),
		agent:        agent,
	}
}

// Validate requires a non-empty list of registered action names.
func (e *ActionChainExecutor) Validate(t *task.Task) bool {
	names := task.StringSliceField(t.ExecutionData, "action_names")
	if len(names) == 0 {
		return false
	}
	for _, name := range names {
		if !e.agent.HasAction(name) {
			e.Logger.Warn("action chain references unregistered action", "action", name, "task_id", t.ID)
			return false
		}
	}
	return true
}

// Execute runs each action in order, threading output to input.
func (e *ActionChainExecutor) Execute(ctx context.Context, t *task.Task) error {
	names := task.StringSliceField(t.ExecutionData, "action_names")
	var currentInput any = t.ExecutionData["input_data"]

	var stepResults []map[string]any

	for _, name := range names {
		result, err := e.agent.ExecuteAction(name, currentInput)

		step := map[string]any{"action": name}
		if err != nil {
			step["success"] = false
			step["error"] = err.Error()
			stepResults = append(stepResults, step)
			t.Result = map[string]any{
				"success":    false,
				"stopped_at": name,
				"results":    stepResults,
			}
			t.TransitionTo(task.StatusFailed, fmt.Sprintf("action %q failed: %v", name, err))
			return nil
		}

		step["success"] = result.Success
		step["output"] = result.Output
		if !result.Success {
			if result.Err != nil {
				step["error"] = result.Err.Error()
			}
			stepResults = append(stepResults, step)
			t.Result = map[string]any{
				"success":    false,
				"stopped_at": name,
				"results":    stepResults,
			}
			t.TransitionTo(task.StatusFailed, fmt.Sprintf("action %q reported failure", name))
			return nil
		}

		stepResults = append(stepResults, step)
		currentInput = result.Output
	}

	t.Result = map[string]any{
		"success":     true,
		"results":     stepResults,
		"final_output": currentInput,
	}
	t.TransitionTo(task.StatusCompleted, "action chain finished")
	return nil
}
