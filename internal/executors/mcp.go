package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/srprobotics/homeagent/internal/llmclient"
	"github.com/srprobotics/homeagent/internal/mcpcontrol"
	"github.com/srprobotics/homeagent/internal/task"
)

// LocalToolFunc is a locally-executed tool's implementation, resolved by
// name when a RouterDecision's ServerID carries the "local-" prefix instead
// of naming a real MCP connection.
type LocalToolFunc func(ctx context.Context, arguments map[string]any) (map[string]any, error)

const localServerPrefix = "local-"

// McpExecutor runs a task to completion by iteratively generating a plan,
// routing each step to a tool, executing it, and verifying whether the
// overall goal has been met — the plan-driven mode — or, when plan mode is
// disabled, falls back to a single-shot goal-driven loop kept only for
// compatibility with callers that never adopted plans.
type McpExecutor struct {
	task.BaseExecutor

	Router      *mcpcontrol.Router
	Connections map[string]*mcpcontrol.Connection
	LocalTools  map[string]LocalToolFunc
	Queue       *task.Queue
	LLM         llmclient.Client

	HomeContextTTL                time.Duration
	CompletionConfidenceThreshold float64
	EnableLLMCompletionJudge      bool
	EnablePlanBasedMode           bool
	MaxPlanSteps                  int
	MaxPlanRevisions              int
	PlanVerificationMode          string

	homeCtx *homeContextCache
}

// NewMcpExecutor builds an McpExecutor with the original's default tuning.
func NewMcpExecutor(router *mcpcontrol.Router, connections map[string]*mcpcontrol.Connection, localTools map[string]LocalToolFunc, queue *task.Queue, llm llmclient.Client, logger *slog.Logger) *McpExecutor {
	if localTools == nil {
		localTools = map[string]LocalToolFunc{}
	}
	return &McpExecutor{
		BaseExecutor:                  task.NewBaseExecutor("mcp", logger),
		Router:                        router,
		Connections:                   connections,
		LocalTools:                    localTools,
		Queue:                         queue,
		LLM:                           llm,
		HomeContextTTL:                60 * time.Second,
		CompletionConfidenceThreshold: 0.7,
		EnablePlanBasedMode:           true,
		MaxPlanSteps:                  20,
		MaxPlanRevisions:              3,
		PlanVerificationMode:          "rule",
		homeCtx:                       &homeContextCache{},
	}
}

// Validate requires a non-empty goal.
func (e *McpExecutor) Validate(t *task.Task) bool {
	return task.StringField(t.ExecutionData, "goal", "") != ""
}

// Execute runs exactly one unit of plan-driven work per invocation: it
// generates a plan on first entry, then executes and verifies the current
// step. When steps remain it re-enqueues a follow-up task carrying the same
// plan forward rather than looping internally, so a single step never holds
// the scheduler's concurrency slot for the whole plan's duration.
func (e *McpExecutor) Execute(ctx context.Context, t *task.Task) error {
	if !e.EnablePlanBasedMode {
		return e.executeLegacy(ctx, t)
	}

	if t.Plan == nil {
		if e.isHomeAutomationTask(t) {
			devices := e.ensureHomeContext(ctx, false)
			goal := task.StringField(t.ExecutionData, "goal", "")
			t.ExecutionData["goal"] = enhanceGoalWithDevices(goal, devices)
		}
		plan, err := e.generatePlan(ctx, t)
		if err != nil {
			e.HandleError(t, fmt.Errorf("plan generation: %w", err))
			return nil
		}
		t.Plan = plan
	}

	if t.Plan.IsCompleted() || t.Plan.CurrentStep() == nil {
		e.finalizePlan(t)
		return nil
	}

	step := t.Plan.CurrentStep()
	now := time.Now()
	step.Status = task.PlanStepInProgress
	step.StartedAt = &now

	decision := e.analyzeStep(ctx, t, step)
	var normalized map[string]any
	if decision.Confidence < 0.6 {
		normalized = map[string]any{"is_error": true, "error": decision.Reasoning}
		step.Status = task.PlanStepFailed
		step.ExecutionResult = normalized
		e.Log(t, slog.LevelWarn, "step routing failed: "+decision.Reasoning)
	} else {
		result := e.executeTool(ctx, decision)
		normalized = e.normalizeToolResult(decision, result)
		step.ExecutionResult = normalized
		if task.BoolField(normalized, "is_error", false) {
			step.Status = task.PlanStepFailed
		} else {
			step.Status = task.PlanStepCompleted
		}
		e.recordHistory(t, decision, normalized)
		e.updateGoalAfterStep(ctx, t, step, normalized)
	}

	completedAt := time.Now()
	step.CompletedAt = &completedAt

	if step.Status == task.PlanStepFailed {
		e.handleStepFailure(ctx, t, step, normalized)
		return nil
	}

	t.Plan.AdvanceStep()

	outcome := e.verifyPlan(ctx, t)
	if outcome.shouldRevise {
		if err := e.revisePlan(ctx, t); err != nil {
			e.Log(t, slog.LevelWarn, "plan revision failed: "+err.Error())
		}
	}

	if t.Plan.IsCompleted() {
		e.finalizePlan(t)
		return nil
	}

	e.createNextPlanTask(t)
	toolOutput := extractStepToolOutput(normalized)
	t.Result = map[string]any{
		"success":          true,
		"plan_completed":   false,
		"current_step":     t.Plan.CurrentStepIndex,
		"total_steps":      len(t.Plan.Steps),
		"latest_result":    normalized,
		"result":           toolOutput,
		"formatted_output": toolOutput,
	}
	t.TransitionTo(task.StatusCompleted, "step finished, continuing via follow-up task")
	return nil
}

// handleStepFailure decides, for a step that just failed, whether the plan
// should be revised, the step retried, or the task failed outright — in
// that priority order, matching the original's revise-then-retry-then-fail
// ladder.
func (e *McpExecutor) handleStepFailure(ctx context.Context, t *task.Task, step *task.PlanStep, normalized map[string]any) {
	e.Log(t, slog.LevelWarn, "step failed: "+task.StringField(normalized, "error", ""))

	outcome := e.verifyPlan(ctx, t)
	switch {
	case outcome.shouldRevise:
		t.Plan.AdvanceStep()
		if err := e.revisePlan(ctx, t); err != nil {
			e.Log(t, slog.LevelWarn, "plan revision failed: "+err.Error())
		}
		e.createNextPlanTask(t)
		t.TransitionTo(task.StatusCompleted, "step failed, plan revised")

	case t.CanRetry():
		t.IncrementRetry()
		step.Status = task.PlanStepPending
		step.CompletedAt = nil
		t.TransitionTo(task.StatusRetrying, fmt.Sprintf("retry %d/%d", t.RetryCount, t.MaxRetries))
		e.createNextPlanTask(t)
		t.TransitionTo(task.StatusCompleted, "retry task created")

	default:
		t.Result = map[string]any{"success": false, "error": task.StringField(normalized, "error", "")}
		t.TransitionTo(task.StatusFailed, "step failed and cannot retry")
	}
}

// analyzeStep builds a RouterContext from the task's current goal, plan
// position, and recent history, and asks the Router to pick a tool.
func (e *McpExecutor) analyzeStep(ctx context.Context, t *task.Task, step *task.PlanStep) mcpcontrol.RouterDecision {
	var history []map[string]any
	for _, h := range t.History {
		if h.Event == "tool_call" {
			history = append(history, h.Fields)
		}
	}

	rc := mcpcontrol.RouterContext{
		Goal:        task.StringField(t.ExecutionData, "goal", step.Description),
		CurrentStep: t.Plan.CurrentStepIndex,
		HasStep:     true,
		History:     history,
		Environment: t.Context,
	}
	return e.Router.Route(ctx, rc)
}

// executeTool dispatches to a local tool implementation or a real MCP
// connection depending on the decision's server id prefix.
func (e *McpExecutor) executeTool(ctx context.Context, decision mcpcontrol.RouterDecision) *mcpcontrol.CallResult {
	if strings.HasPrefix(decision.ServerID, localServerPrefix) {
		fn, ok := e.LocalTools[decision.Tool]
		if !ok {
			return &mcpcontrol.CallResult{Success: false, Error: fmt.Sprintf("local tool %q not registered", decision.Tool)}
		}
		output, err := fn(ctx, decision.Arguments)
		if err != nil {
			return &mcpcontrol.CallResult{Success: false, Error: err.Error()}
		}
		return &mcpcontrol.CallResult{Success: true, Result: &mcpcontrol.ToolOutput{Content: output}}
	}

	conn, ok := e.Connections[decision.ServerID]
	if !ok {
		return &mcpcontrol.CallResult{Success: false, Error: fmt.Sprintf("no connection for server %q", decision.ServerID)}
	}
	return conn.CallTool(ctx, decision.Tool, decision.Arguments)
}

// normalizeToolResult folds a CallResult into the flat map shape every
// downstream consumer (history, goal evolution, completion evaluation)
// expects, detecting errors across the connection-level Error field and the
// tool output's own IsError flag.
func (e *McpExecutor) normalizeToolResult(decision mcpcontrol.RouterDecision, result *mcpcontrol.CallResult) map[string]any {
	out := map[string]any{
		"tool":      decision.Tool,
		"server_id": decision.ServerID,
	}
	if !result.Success {
		out["is_error"] = true
		out["error"] = result.Error
		return out
	}
	if result.Result == nil {
		out["is_error"] = false
		out["result"] = nil
		return out
	}
	out["is_error"] = result.Result.IsError
	out["result"] = result.Result.Content
	if result.Result.IsError {
		out["error"] = extractErrorMessage(result.Result.Content)
	}
	return out
}

// extractErrorMessage tries, in order, a string content, a {"message":...}
// object, an {"error":...} object, and a JSON dump fallback.
func extractErrorMessage(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
		if msg, ok := v["error"].(string); ok {
			return msg
		}
	}
	raw, _ := json.Marshal(content)
	return string(raw)
}

// recordHistory appends a tool_call history entry onto the task.
func (e *McpExecutor) recordHistory(t *task.Task, decision mcpcontrol.RouterDecision, normalized map[string]any) {
	t.LogEvent("tool_call", map[string]any{
		"tool":      decision.Tool,
		"server_id": decision.ServerID,
		"arguments": decision.Arguments,
		"result":    normalized,
	})
}

// updateGoalAfterStep stores a successful query step's result summary in
// the task's Context under "step_<index>_result", and after a
// resource-not-found failure force-refreshes home context and re-enhances
// the goal text with the refreshed device list.
func (e *McpExecutor) updateGoalAfterStep(ctx context.Context, t *task.Task, step *task.PlanStep, normalized map[string]any) {
	if task.BoolField(normalized, "is_error", false) {
		errMsg := task.StringField(normalized, "error", "")
		if classifyErrorPattern(errMsg) == ErrorResourceNotFound && e.isHomeAutomationTask(t) {
			devices := e.ensureHomeContext(ctx, true)
			goal := task.StringField(t.ExecutionData, "goal", "")
			t.ExecutionData["goal"] = enhanceGoalWithDevices(goal, devices)
		}
		return
	}

	toolType := classifyToolType(step.ExpectedTool)
	if toolType != ToolTypeQuery && toolType != ToolTypeHybrid {
		return
	}
	summary := extractResultSummary(normalized)
	if summary == "" {
		return
	}
	if t.Context == nil {
		t.Context = map[string]any{}
	}
	t.Context[fmt.Sprintf("step_%d_result", t.Plan.CurrentStepIndex)] = summary
}

// extractResultSummary renders a tool result into a short string suitable
// for folding back into context for later steps.
func extractResultSummary(normalized map[string]any) string {
	result, ok := normalized["result"]
	if !ok || result == nil {
		return ""
	}
	switch v := result.(type) {
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

// generatePlan asks the model for an ordered list of steps to reach the
// task's goal, capped at MaxPlanSteps.
func (e *McpExecutor) generatePlan(ctx context.Context, t *task.Task) (*task.Plan, error) {
	goal := task.StringField(t.ExecutionData, "goal", "")

	prompt := fmt.Sprintf(
		"Break the following goal into an ordered list of at most %d concrete steps. "+
			"Respond as JSON: {\"steps\":[{\"description\":...,\"expected_tool\":...}]}.\n\nGoal: %s",
		e.MaxPlanSteps, goal)

	messages := []llmclient.Message{
		{Role: "system", Content: "You are a task planner for a home-automation and general-purpose tool-using assistant."},
		{Role: "user", Content: prompt},
	}

	raw, err := e.LLM.ChatCompletion(ctx, messages, 0.2, 1000)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Steps []struct {
			Description  string `json:"description"`
			ExpectedTool string `json:"expected_tool"`
		} `json:"steps"`
	}
	if err := json.Unmarshal([]byte(extractJSONBlock(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(parsed.Steps) == 0 {
		return nil, fmt.Errorf("model returned an empty plan")
	}

	steps := make([]*task.PlanStep, 0, len(parsed.Steps))
	for i, s := range parsed.Steps {
		if i >= e.MaxPlanSteps {
			break
		}
		steps = append(steps, task.NewPlanStep(s.Description, s.ExpectedTool))
	}
	return task.NewPlan(steps), nil
}

// finalizePlan computes the final task result once every step has
// completed or been skipped: a per-step summary plus the last completed
// step's raw and bare-unwrapped output, so a conversation reply has
// something concrete to ground on.
func (e *McpExecutor) finalizePlan(t *task.Task) {
	var stepResults []map[string]any
	var finalStepResult map[string]any
	for _, step := range t.Plan.Steps {
		if step.ExecutionResult == nil {
			continue
		}
		stepResults = append(stepResults, map[string]any{
			"description": step.Description,
			"status":      string(step.Status),
			"result":      step.ExecutionResult,
		})
		if step.Status == task.PlanStepCompleted {
			finalStepResult = step.ExecutionResult
		}
	}

	toolOutput := extractStepToolOutput(finalStepResult)

	t.Result = map[string]any{
		"success":          true,
		"plan_completed":   true,
		"total_steps":      len(t.Plan.Steps),
		"revision_count":   t.Plan.RevisionCount,
		"step_results":     stepResults,
		"final_result":     finalStepResult,
		"result":           toolOutput,
		"formatted_output": toolOutput,
	}
	t.TransitionTo(task.StatusCompleted, "plan finished")
}

// extractStepToolOutput unwraps a step's raw execution result to the bare
// tool payload a conversation reply or later plan step can ground on:
// formatted_output if present, otherwise result (itself unwrapped one more
// level if it nests a formatted_output), otherwise nil.
func extractStepToolOutput(result map[string]any) any {
	if result == nil {
		return nil
	}
	if v, ok := result["formatted_output"]; ok {
		return v
	}
	v, ok := result["result"]
	if !ok {
		return nil
	}
	if nested, ok := v.(map[string]any); ok {
		if formatted, ok := nested["formatted_output"]; ok {
			return formatted
		}
	}
	return v
}

// createNextPlanTask re-enqueues a follow-up task carrying the same plan
// and goal forward, so the scheduler's one-step-per-execution budget
// doesn't hold a concurrency slot for a whole multi-step plan.
func (e *McpExecutor) createNextPlanTask(t *task.Task) {
	next := task.NewTask(t.Type, t.Priority)
	next.Timeout = t.Timeout
	next.MaxRetries = t.MaxRetries
	next.RetryCount = t.RetryCount
	next.ExecutionData = t.ExecutionData
	next.Context = t.Context
	next.Plan = t.Plan
	if e.Queue != nil {
		e.Queue.Enqueue(next)
	}
}

// executeLegacy runs a single-shot goal-driven loop without a formal Plan,
// kept only so callers that built tasks before plan mode still work.
func (e *McpExecutor) executeLegacy(ctx context.Context, t *task.Task) error {
	goal := task.StringField(t.ExecutionData, "goal", "")
	maxSteps := task.IntField(t.ExecutionData, "max_steps", 5)

	var lastNormalized map[string]any
	for i := 0; i < maxSteps; i++ {
		rc := mcpcontrol.RouterContext{Goal: goal, Environment: t.Context}
		decision := e.Router.Route(ctx, rc)
		if decision.Confidence < 0.6 {
			break
		}
		result := e.executeTool(ctx, decision)
		lastNormalized = e.normalizeToolResult(decision, result)
		e.recordHistory(t, decision, lastNormalized)
		if task.BoolField(lastNormalized, "is_error", false) {
			continue
		}
		toolType := classifyToolType(decision.Tool)
		judgment := e.evaluateCompletion(t, task.NewPlanStep(goal, decision.Tool), toolType, lastNormalized)
		if judgment.Completed && judgment.Confidence >= e.CompletionConfidenceThreshold {
			break
		}
	}

	if lastNormalized == nil {
		lastNormalized = map[string]any{"is_error": true, "error": "no tool could be routed"}
	}

	t.Result = map[string]any{
		"success": !task.BoolField(lastNormalized, "is_error", false),
		"result":  lastNormalized,
	}
	t.TransitionTo(task.StatusCompleted, "legacy execution finished")
	return nil
}
