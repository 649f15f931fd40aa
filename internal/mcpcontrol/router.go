package mcpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/srprobotics/homeagent/internal/llmclient"
)

// routerSystemPrompt is sent verbatim as the system message for every
// routing decision.
const routerSystemPrompt = `You are a routing engine that selects the most appropriate tool for a given task.

Your task is to analyze the task goal and environment, then call exactly ONE tool from the available tool list.

Rules:
- ALWAYS use the function calling mechanism to invoke a tool.
- Only select tools from the provided tool list.
- Do NOT invent tools or arguments.
- If no suitable tool is available or the task is already complete, explain why in a text response instead of calling a tool.

**Parameter Mapping**:
- When calling a tool, you MUST map parameters from the Environment section to the tool's input schema.
- The Environment contains all available data for this task (e.g., "to", "content", "subject", etc.).
- Use these values directly as tool arguments. Do NOT ignore or omit them.
- Example: If Environment has {"to": "user@example.com", "content": "Hello"},
  and tool send_email requires {"to": array, "subject": string, "body": string},
  then map: {"to": ["user@example.com"], "subject": "Notification", "body": "Hello"}.

**Home Automation Device Mapping** (for Home Assistant tools):
- When the task goal includes device information (entity_id, friendly_name, area), use this information to select the correct device.
- The Environment may contain a list of available devices with their entity_ids, friendly names, areas, and current states.
- You MUST map user-friendly device names to actual entity_ids.
- If you don't know the floor then don't pass the floor parameter.
- When multiple devices match, select the most relevant one based on:
  1. Area/location match
  2. Friendly name similarity
  3. Current state (if relevant to the operation)
- Always use entity_id as the parameter value, not friendly names.
- For cover devices (curtains, blinds, shades): position value ranges from 0-100, where 0 means fully closed and 100 means fully open.

**Important**:
- Use the function calling feature to invoke the selected tool.
- Do not output JSON text manually - let the tool calling mechanism handle it.
- For home automation tasks, ensure you use the actual entity_id from the device list, not user-provided names.`

// RouterContext carries the goal, position in the plan, recent history, and
// environment a routing decision is made against.
type RouterContext struct {
	Goal        string
	CurrentStep int
	HasStep     bool
	History     []map[string]any
	Environment map[string]any
}

// RouterDecision is the outcome of a single routing call.
type RouterDecision struct {
	ServerID   string
	Tool       string
	Arguments  map[string]any
	Confidence float64
	Reasoning  string
}

// Router picks a tool for a goal via LLM function calling, resolving the
// chosen tool's owning server from the ToolIndex.
type Router struct {
	llm    llmclient.Client
	index  *ToolIndex
	logger *slog.Logger
}

// NewRouter builds a Router.
func NewRouter(llm llmclient.Client, index *ToolIndex, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{llm: llm, index: index, logger: logger.With("component", "mcp_router")}
}

func buildToolsForLLM(tools []ToolIndexEntry) []llmclient.ToolDefinition {
	out := make([]llmclient.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, llmclient.ToolDefinition{
			Type: "function",
			Function: llmclient.ToolFunctionSchema{
				Name:        t.ToolName,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

func buildContextPrompt(ctx RouterContext) string {
	var parts []string

	goal := ctx.Goal
	if goal == "" {
		goal = "unknown"
	}
	parts = append(parts, fmt.Sprintf("Task goal: %s", goal))

	if ctx.HasStep {
		parts = append(parts, fmt.Sprintf("Current step: %d", ctx.CurrentStep))
	}

	if len(ctx.History) > 0 {
		var sb strings.Builder
		sb.WriteString("Previous actions:\n")
		start := 0
		if len(ctx.History) > 3 {
			start = len(ctx.History) - 3
		}
		for _, entry := range ctx.History[start:] {
			tool, _ := entry["tool"].(string)
			if tool == "" {
				tool = "unknown"
			}
			success := "unknown"
			if result, ok := entry["result"].(map[string]any); ok {
				if s, ok := result["success"]; ok {
					success = fmt.Sprintf("%v", s)
				}
			}
			sb.WriteString(fmt.Sprintf("- %s: %s\n", tool, success))
		}
		parts = append(parts, sb.String())
	}

	if len(ctx.Environment) > 0 {
		var sb strings.Builder
		sb.WriteString("Environment (available data for tool parameters):\n")
		for key, value := range ctx.Environment {
			switch v := value.(type) {
			case string:
				sb.WriteString(fmt.Sprintf("  - %s: %q\n", key, v))
			default:
				raw, _ := json.Marshal(v)
				sb.WriteString(fmt.Sprintf("  - %s: %s\n", key, raw))
			}
		}
		parts = append(parts, sb.String())
	}

	return strings.Join(parts, "\n")
}

// Route runs a single routing decision. It never returns a Go error for an
// unsuccessful routing attempt; those come back as a low-confidence
// RouterDecision (0.0, or 0.3 when the model declines to pick a tool) with
// Reasoning explaining why.
func (r *Router) Route(ctx context.Context, rc RouterContext) RouterDecision {
	r.logger.Debug("routing", "goal", rc.Goal)

	allTools := r.index.AllTools()
	if len(allTools) == 0 {
		r.logger.Debug("no tools available in index")
		return RouterDecision{Confidence: 0.0, Reasoning: "No tools available"}
	}

	llmTools := buildToolsForLLM(allTools)
	contextPrompt := buildContextPrompt(rc)

	messages := []llmclient.Message{
		{Role: "system", Content: routerSystemPrompt},
		{Role: "user", Content: contextPrompt},
	}

	r.logger.Debug("calling LLM", "tool_count", len(llmTools))
	resp, err := r.llm.FunctionCallCompletion(ctx, messages, llmTools)
	if err != nil {
		r.logger.Warn("routing error", "error", err)
		return RouterDecision{Confidence: 0.0, Reasoning: fmt.Sprintf("Routing error: %v", err)}
	}

	if len(resp.ToolCalls) == 0 {
		reasoning := resp.Content
		if reasoning == "" {
			reasoning = "LLM did not select any tool"
		}
		r.logger.Debug("no tool_calls in LLM response", "reasoning", reasoning)
		return RouterDecision{Confidence: 0.3, Reasoning: reasoning}
	}

	call := resp.ToolCalls[0]
	toolName := call.Function.Name

	var arguments map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &arguments); err != nil {
		arguments = map[string]any{}
	}

	serverID := r.index.ServerByTool(toolName)
	if serverID == "" {
		r.logger.Warn("tool not found in index", "tool_name", toolName)
		return RouterDecision{Confidence: 0.0, Reasoning: fmt.Sprintf("Tool %s not in index", toolName)}
	}

	r.logger.Debug("routing decision", "tool", toolName, "server_id", serverID)
	return RouterDecision{
		ServerID:   serverID,
		Tool:       toolName,
		Arguments:  arguments,
		Confidence: 0.8,
		Reasoning:  fmt.Sprintf("Selected %s from %s", toolName, serverID),
	}
}
