// Package llmclient provides the LLM chat and function-calling interface
// shared by the MCP Router and the Plan-Driven MCP Executor.
package llmclient

import "context"

// Message is one turn of a chat conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolDefinition is an OpenAI-function-calling-shaped tool description,
// built from a mcpcontrol.ToolIndexEntry by callers.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the "function" body of a ToolDefinition.
type ToolFunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is one function call the model chose to make.
type ToolCall struct {
	ID       string           `json:"id"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction is the name/arguments pair inside a ToolCall.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON, same as the wire format
}

// FunctionCallResponse is what FunctionCallCompletion returns: either a
// chosen ToolCalls entry, or plain Content when the model declined to call
// anything.
type FunctionCallResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// Client is the interface the Router and MCP Executor depend on; any
// OpenAI-compatible or other provider can implement it.
type Client interface {
	// ChatCompletion runs a plain text completion over messages.
	ChatCompletion(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error)

	// FunctionCallCompletion asks the model to pick at most one tool from
	// tools, or return text if none fits.
	FunctionCallCompletion(ctx context.Context, messages []Message, tools []ToolDefinition) (*FunctionCallResponse, error)
}
