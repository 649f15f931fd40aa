package executors

import (
	"context"
	"testing"

	"github.com/srprobotics/homeagent/internal/action"
	"github.com/srprobotics/homeagent/internal/task"
)

func TestUserCommandValidateRequiresCommandType(t *testing.T) {
	exec := NewUserCommandExecutor(newFakeAgent(), discardLogger())
	tk := task.NewTask(task.TypeUserCommand, 1)
	if exec.Validate(tk) {
		t.Fatal("expected validation to fail without command_type")
	}
	tk.ExecutionData = map[string]any{"command_type": "speak"}
	if !exec.Validate(tk) {
		t.Fatal("expected validation to pass with command_type set")
	}
}

func TestUserCommandSpeak(t *testing.T) {
	agent := newFakeAgent()
	agent.results["speak"] = action.Result{Success: true, Output: "ok"}
	exec := NewUserCommandExecutor(agent, discardLogger())

	tk := task.NewTask(task.TypeUserCommand, 1)
	tk.ExecutionData = map[string]any{"command_type": "speak", "text": "hello"}

	exec.Execute(context.Background(), tk)

	if tk.Status != task.StatusCompleted {
		t.Errorf("expected completed, got %s", tk.Status)
	}
	if len(agent.calls) != 1 || agent.calls[0].input != "hello" {
		t.Errorf("expected speak called with hello, got %v", agent.calls)
	}
}

func TestUserCommandSpeakMissingText(t *testing.T) {
	agent := newFakeAgent()
	exec := NewUserCommandExecutor(agent, discardLogger())

	tk := task.NewTask(task.TypeUserCommand, 1)
	tk.ExecutionData = map[string]any{"command_type": "speak"}

	exec.Execute(context.Background(), tk)

	if tk.Status != task.StatusFailed {
		t.Errorf("expected failed status for missing text, got %s", tk.Status)
	}
}

func TestUserCommandAlert(t *testing.T) {
	agent := newFakeAgent()
	agent.results["alert"] = action.Result{Success: true}
	exec := NewUserCommandExecutor(agent, discardLogger())

	tk := task.NewTask(task.TypeUserCommand, 1)
	tk.ExecutionData = map[string]any{
		"command_type":   "alert",
		"command_params": map[string]any{"level": "high"},
	}

	exec.Execute(context.Background(), tk)

	if tk.Status != task.StatusCompleted {
		t.Errorf("expected completed, got %s", tk.Status)
	}
}

func TestUserCommandAction(t *testing.T) {
	agent := newFakeAgent()
	agent.registered["custom_action"] = true
	agent.results["custom_action"] = action.Result{Success: true, Output: "done"}
	exec := NewUserCommandExecutor(agent, discardLogger())

	tk := task.NewTask(task.TypeUserCommand, 1)
	tk.ExecutionData = map[string]any{
		"command_type": "action",
		"action_name":  "custom_action",
		"input_data":   "payload",
	}

	exec.Execute(context.Background(), tk)

	if tk.Status != task.StatusCompleted {
		t.Errorf("expected completed, got %s", tk.Status)
	}
}

func TestUserCommandActionUnregistered(t *testing.T) {
	agent := newFakeAgent()
	exec := NewUserCommandExecutor(agent, discardLogger())

	tk := task.NewTask(task.TypeUserCommand, 1)
	tk.ExecutionData = map[string]any{
		"command_type": "action",
		"action_name":  "missing",
	}

	exec.Execute(context.Background(), tk)

	if tk.Status != task.StatusFailed {
		t.Errorf("expected failed status for unregistered action, got %s", tk.Status)
	}
}

func TestUserCommandCustomNotImplemented(t *testing.T) {
	exec := NewUserCommandExecutor(newFakeAgent(), discardLogger())
	tk := task.NewTask(task.TypeUserCommand, 1)
	tk.ExecutionData = map[string]any{"command_type": "custom"}

	exec.Execute(context.Background(), tk)

	if tk.Status != task.StatusFailed {
		t.Errorf("expected failed status for unimplemented custom command, got %s", tk.Status)
	}
}

func TestUserCommandUnknownType(t *testing.T) {
	exec := NewUserCommandExecutor(newFakeAgent(), discardLogger())
	tk := task.NewTask(task.TypeUserCommand, 1)
	tk.ExecutionData = map[string]any{"command_type": "bogus"}

	exec.Execute(context.Background(), tk)

	if tk.Status != task.StatusFailed {
		t.Errorf("expected failed status for unknown command type, got %s", tk.Status)
	}
}
