package executors

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/srprobotics/homeagent/internal/task"
)

// UserCommandExecutor dispatches a single external command onto the
// agent's registered capabilities.
type UserCommandExecutor struct {
	task.BaseExecutor
	agent ActionRunner
}

// NewUserCommandExecutor builds a UserCommandExecutor.
func NewUserCommandExecutor(agent ActionRunner, logger *slog.Logger) *UserCommandExecutor {
	return &UserCommandExecutor{
		BaseExecutor: task.NewBaseExecutor("user_command", logger),
		agent:        agent,
	}
}

// Validate requires a non-empty command_type.
func (e *UserCommandExecutor) Validate(t *task.Task) bool {
	return task.StringField(t.ExecutionData, "command_type", "") != ""
}

// Execute dispatches on command_type: speak, alert, action, or custom.
func (e *UserCommandExecutor) Execute(ctx context.Context, t *task.Task) error {
	commandType := task.StringField(t.ExecutionData, "command_type", "")

	var err error

	switch commandType {
	case "speak":
		err = e.handleSpeak(t)
	case "alert":
		err = e.handleAlert(t)
	case "action":
		err = e.handleAction(t)
	case "custom":
		err = e.handleCustom(t)
	default:
		err = fmt.Errorf("unknown command type: %s", commandType)
	}

	if err != nil {
		e.HandleError(t, err)
	}
	return nil
}

func (e *UserCommandExecutor) handleSpeak(t *task.Task) error {
	text := task.StringField(t.ExecutionData, "text", "")
	if text == "" {
		return fmt.Errorf("speak command requires 'text' parameter")
	}
	result, err := e.agent.ExecuteAction("speak", text)
	if err != nil {
		return err
	}
	t.Result = map[string]any{"success": result.Success, "output": result.Output}
	t.TransitionTo(task.StatusCompleted, "speak command finished")
	return nil
}

func (e *UserCommandExecutor) handleAlert(t *task.Task) error {
	params := task.MapField(t.ExecutionData, "command_params")
	result, err := e.agent.ExecuteAction("alert", params)
	if err != nil {
		return err
	}
	t.Result = map[string]any{"success": result.Success, "output": result.Output}
	t.TransitionTo(task.StatusCompleted, "alert command finished")
	return nil
}

func (e *UserCommandExecutor) handleAction(t *task.Task) error {
	actionName := task.StringField(t.ExecutionData, "action_name", "")
	if actionName == "" {
		return fmt.Errorf("action command requires 'action_name' parameter")
	}
	if !e.agent.HasAction(actionName) {
		return fmt.Errorf("action %q is not registered", actionName)
	}
	input := t.ExecutionData["input_data"]
	result, err := e.agent.ExecuteAction(actionName, input)
	if err != nil {
		return err
	}
	t.Result = map[string]any{"success": result.Success, "output": result.Output}
	t.TransitionTo(task.StatusCompleted, "action command finished")
	return nil
}

func (e *UserCommandExecutor) handleCustom(t *task.Task) error {
	e.Log(t, slog.LevelWarn, "custom command type not implemented")
	return fmt.Errorf("custom command handling not implemented")
}
