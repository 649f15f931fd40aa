// Package dispatcher implements the task-dispatch and status-tracking
// surface fronting the task runtime: translating an external task request
// into a task.Task, tracking its status under a dispatcher-assigned id, and
// reporting completion through a pluggable callback rather than a live
// HTTP/WebSocket transport.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/srprobotics/homeagent/internal/action"
	"github.com/srprobotics/homeagent/internal/llmclient"
	"github.com/srprobotics/homeagent/internal/mcpcontrol"
	"github.com/srprobotics/homeagent/internal/task"
)

// TaskInfo is the dispatcher's own bookkeeping record for an in-flight
// external request, keyed separately from the underlying task.Task id since
// a single dispatch can spawn more than one internal task (e.g. mcp_tool).
type TaskInfo struct {
	TaskID      string
	Status      string // pending, running, completed, failed
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Message     string
	CallbackURL string
	Result      map[string]any
	Parameters  map[string]any
}

// StateCallback is invoked on every status change the dispatcher wants to
// surface to whatever is presenting status to a caller (a chat UI, a
// companion app). Carrying this as a function value rather than a live
// WebSocket broadcaster keeps the transport surface out of this package.
type StateCallback func(event string, data map[string]any)

// CallbackSender delivers a completion/failure notification to an
// external callback URL. Left unset, callback delivery is skipped; a caller
// that wants the original HTTP callback behavior supplies an
// implementation backed by net/http.
type CallbackSender interface {
	SendCallback(ctx context.Context, url string, payload map[string]any) error
}

// ActionLister is the slice of the Agent facade the intent analyzer needs:
// enough to describe available capabilities to the LLM.
type ActionLister interface {
	ListActionNames() []string
}

// Dispatcher fronts the task runtime with an external-request-shaped API:
// dispatch a request, poll its status, and get notified on completion.
type Dispatcher struct {
	queue   *task.Queue
	index   *mcpcontrol.ToolIndex
	actions ActionLister
	llm     llmclient.Client
	onState StateCallback
	sender  CallbackSender
	logger  *slog.Logger

	mu     sync.Mutex
	status map[string]*TaskInfo

	mcpPollInterval time.Duration
	mcpPollTimeout  time.Duration
}

// New builds a Dispatcher. llm and onState/sender may be nil: a nil llm
// degrades intent analysis to the keyword-based fallback, a nil onState or
// sender simply skips that notification channel.
func New(queue *task.Queue, index *mcpcontrol.ToolIndex, actions ActionLister, llm llmclient.Client, onState StateCallback, sender CallbackSender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:           queue,
		index:           index,
		actions:         actions,
		llm:             llm,
		onState:         onState,
		sender:          sender,
		logger:          logger.With("component", "dispatcher"),
		status:          make(map[string]*TaskInfo),
		mcpPollInterval: time.Second,
		mcpPollTimeout:  300 * time.Second,
	}
}

// DispatchTask registers a new external request and returns its dispatcher
// id. The caller is expected to follow up with ExecuteTaskByType (typically
// from within a DispatcherExecutor running on the task scheduler) to do the
// actual work; DispatchTask only establishes the bookkeeping record.
func (d *Dispatcher) DispatchTask(taskType string, parameters map[string]any, callbackURL string) string {
	id := uuid.NewString()
	now := time.Now()
	d.mu.Lock()
	d.status[id] = &TaskInfo{
		TaskID:      id,
		Status:      "pending",
		CreatedAt:   now,
		UpdatedAt:   now,
		Message:     fmt.Sprintf("dispatched %s", taskType),
		CallbackURL: callbackURL,
		Parameters:  parameters,
	}
	d.mu.Unlock()
	return id
}

// DispatchUserInput is a convenience wrapper over DispatchTask for raw text
// input that should go through intent analysis.
func (d *Dispatcher) DispatchUserInput(text, callbackURL string) string {
	return d.DispatchTask("user_input", map[string]any{"text": text}, callbackURL)
}

// Status returns a snapshot of a dispatched request's bookkeeping, if known.
func (d *Dispatcher) Status(id string) (TaskInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.status[id]
	if !ok {
		return TaskInfo{}, false
	}
	return *info, true
}

func (d *Dispatcher) setStatus(id, status string, result map[string]any) {
	d.mu.Lock()
	info, ok := d.status[id]
	if ok {
		info.Status = status
		info.UpdatedAt = time.Now()
		if result != nil {
			info.Result = result
		}
	}
	d.mu.Unlock()
	if d.onState != nil {
		d.onState("task_status", map[string]any{"task_id": id, "status": status})
	}
}

// ExecuteTaskByType carries out a dispatched request synchronously,
// dispatching on taskType: execute_action runs a registered capability
// directly, mcp_tool submits a plan-driven MCP_CALL task and polls the
// queue for a terminal status, user_input runs intent analysis first.
// Any other taskType is reported as unsupported.
func (d *Dispatcher) ExecuteTaskByType(ctx context.Context, id, taskType string, parameters map[string]any, runner ActionRunnerForDispatch) (map[string]any, error) {
	d.setStatus(id, "running", nil)

	var result map[string]any
	var err error

	switch taskType {
	case "execute_action":
		result, err = d.executeAction(runner, parameters)
	case "mcp_tool":
		result, err = d.executeMcpTool(ctx, parameters)
	case "user_input":
		result, err = d.processUserInput(ctx, parameters)
	default:
		err = fmt.Errorf("unsupported task type: %s", taskType)
	}

	if err != nil {
		d.setStatus(id, "failed", map[string]any{"error": err.Error()})
		return nil, err
	}
	d.setStatus(id, "completed", result)
	return result, nil
}

// ActionRunnerForDispatch is the capability-execution surface the
// dispatcher needs; satisfied by the Agent facade.
type ActionRunnerForDispatch interface {
	ExecuteAction(name string, input any) (action.Result, error)
}

func (d *Dispatcher) executeAction(runner ActionRunnerForDispatch, parameters map[string]any) (map[string]any, error) {
	name := task.StringField(parameters, "action_name", "")
	if name == "" {
		return nil, fmt.Errorf("execute_action requires action_name")
	}
	result, err := runner.ExecuteAction(name, parameters["input_data"])
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": result.Success, "output": result.Output}, nil
}

func (d *Dispatcher) executeMcpTool(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	if d.queue == nil {
		return nil, fmt.Errorf("mcp_tool dispatch requires a task queue")
	}

	goal := task.StringField(parameters, "user_intent", task.StringField(parameters, "goal", ""))
	mcpTask := task.NewTask(task.TypeMcpCall, 7)
	mcpTask.Timeout = 3000 * time.Second
	mcpTask.ExecutionData = map[string]any{
		"goal":        goal,
		"user_intent": goal,
		"max_steps":   5,
	}
	mcpTask.Context = task.MapField(parameters, "context")
	d.queue.Enqueue(mcpTask)

	deadline := time.Now().Add(d.mcpPollTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		current := d.queue.GetByID(mcpTask.ID)
		if current == nil {
			time.Sleep(d.mcpPollInterval)
			continue
		}

		switch current.Status {
		case task.StatusCompleted:
			if current.Result == nil {
				return nil, fmt.Errorf("mcp task completed with no result")
			}
			return current.Result, nil
		case task.StatusFailed, task.StatusCancelled:
			errMsg := task.StringField(current.Result, "error", "mcp task did not complete")
			return nil, fmt.Errorf("%s", errMsg)
		}

		time.Sleep(d.mcpPollInterval)
	}
	return nil, fmt.Errorf("timeout waiting for mcp task")
}

type intentAnalysis struct {
	IntentType string         `json:"intent_type"`
	Response   string         `json:"response"`
	TaskInfo   map[string]any `json:"task_info"`
}

func (d *Dispatcher) processUserInput(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	text := task.StringField(parameters, "text", "")
	if text == "" {
		return nil, fmt.Errorf("user_input requires text")
	}

	analysis := d.analyzeUserIntent(ctx, text)

	switch analysis.IntentType {
	case "simple_chat":
		return map[string]any{"success": true, "response": analysis.Response, "intent": "simple_chat"}, nil
	case "task_request":
		return map[string]any{"success": true, "response": analysis.Response, "intent": "task_request", "task_info": analysis.TaskInfo}, nil
	default:
		return map[string]any{"success": true, "response": "I'm not sure how to help with that.", "intent": "unknown"}, nil
	}
}

// analyzeUserIntent classifies free text into simple_chat/task_request/
// unknown. Without an llm client it falls back to a crude keyword check
// rather than failing outright, mirroring the degraded-but-available
// behavior this system favors over hard failures on a missing dependency.
func (d *Dispatcher) analyzeUserIntent(ctx context.Context, text string) intentAnalysis {
	if d.llm == nil {
		return d.fallbackIntent(text)
	}

	var actionNames []string
	if d.actions != nil {
		actionNames = d.actions.ListActionNames()
	}
	var toolNames []string
	if d.index != nil {
		for _, t := range d.index.AllTools() {
			toolNames = append(toolNames, t.ToolName)
		}
	}

	prompt := fmt.Sprintf(
		"Classify the user message as simple_chat, task_request, or unknown. "+
			"Available actions: %s. Available tools: %s. "+
			"Respond with JSON: {\"intent_type\":..., \"response\":..., \"task_info\":{...}}",
		strings.Join(actionNames, ", "), strings.Join(toolNames, ", "))

	messages := []llmclient.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: text},
	}

	raw, err := d.llm.ChatCompletion(ctx, messages, 0.3, 300)
	if err != nil {
		d.logger.Warn("intent analysis failed, falling back", "error", err)
		return d.fallbackIntent(text)
	}

	var out intentAnalysis
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil {
		d.logger.Warn("intent analysis returned unparseable JSON", "error", err)
		return d.fallbackIntent(text)
	}
	return out
}

func (d *Dispatcher) fallbackIntent(text string) intentAnalysis {
	lower := strings.ToLower(text)
	for _, kw := range []string{"turn on", "turn off", "open", "close", "set", "play", "search", "tell me"} {
		if strings.Contains(lower, kw) {
			return intentAnalysis{
				IntentType: "task_request",
				TaskInfo: map[string]any{
					"executor_type": "mcp",
					"parameters":    map[string]any{"user_intent": text},
				},
			}
		}
	}
	return intentAnalysis{IntentType: "simple_chat", Response: "Got it."}
}

// extractJSON strips a ```json fenced block if present, otherwise returns
// raw unchanged.
func extractJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}

// NotifyComplete reports a successful dispatch to the configured state
// callback and, if a CallbackSender is wired, the external callback URL.
func (d *Dispatcher) NotifyComplete(ctx context.Context, id string, result map[string]any) {
	info, ok := d.Status(id)
	if d.onState != nil {
		d.onState("task_complete", map[string]any{"task_id": id, "result": result})
	}
	if ok && d.sender != nil && info.CallbackURL != "" {
		if err := d.sender.SendCallback(ctx, info.CallbackURL, map[string]any{
			"task_id": id,
			"status":  "completed",
			"result":  result,
		}); err != nil {
			d.logger.Warn("callback delivery failed", "task_id", id, "error", err)
		}
	}
}

// NotifyFailed reports a failed dispatch symmetrically to NotifyComplete.
func (d *Dispatcher) NotifyFailed(ctx context.Context, id string, errMsg string) {
	info, ok := d.Status(id)
	if d.onState != nil {
		d.onState("task_failed", map[string]any{"task_id": id, "error": errMsg})
	}
	if ok && d.sender != nil && info.CallbackURL != "" {
		if err := d.sender.SendCallback(ctx, info.CallbackURL, map[string]any{
			"task_id": id,
			"status":  "failed",
			"error":   errMsg,
		}); err != nil {
			d.logger.Warn("callback delivery failed", "task_id", id, "error", err)
		}
	}
}
