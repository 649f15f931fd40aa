// Package executors implements the six task.Executor implementations this
// runtime registers: patrol, user command, action chain, plan-driven MCP
// tool use, wake-word-gated conversation, and dispatcher-originated work.
package executors

import (
	"github.com/srprobotics/homeagent/internal/action"
	"github.com/srprobotics/homeagent/internal/task"
)

// ActionRunner is the slice of the Agent facade executors need: running a
// registered capability by name. Depending on this narrow interface instead
// of the agent package avoids a package import cycle (agent wires executors,
// executors call back into agent).
type ActionRunner interface {
	ExecuteAction(name string, input any) (action.Result, error)
	HasAction(name string) bool
}

// TaskSubmitter is the slice of the Agent facade the MCP and conversation
// executors need to enqueue and poll follow-up work.
type TaskSubmitter interface {
	SubmitTask(t *task.Task) string
	GetTaskStatus(id string) (task.Status, bool)
	GetTaskDetail(id string) *task.Task
}
