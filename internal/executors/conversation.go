package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srprobotics/homeagent/internal/llmclient"
	"github.com/srprobotics/homeagent/internal/task"
)

// Conversation states, mirrored as plain strings so StateCallback consumers
// don't need a Go-specific enum.
const (
	ConvStateWaitingWake = "waiting_wake"
	ConvStateConversing  = "conversing"
	ConvStateIdle        = "idle"
)

// ConversationMessage is one turn kept for a subtitle-style transcript view.
type ConversationMessage struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// ConversationStateCallback is invoked on every state change and every new
// message, the hook a caller wires up to push live status somewhere.
type ConversationStateCallback func(event string, data map[string]any)

// ConversationExecutor runs a wake-word-gated conversation loop: it stays
// in permanent standby listening only for its wake words, then on wake
// enters a bounded conversation that ends on a goodbye phrase or too many
// silent rounds, and returns to standby. Listening and speaking are
// delegated to the "listen" and "speak" actions rather than implemented
// here, keeping audio I/O out of this runtime's scope.
type ConversationExecutor struct {
	task.BaseExecutor

	agent         ActionRunner
	submitter     TaskSubmitter
	llm           llmclient.Client
	stateCallback ConversationStateCallback

	WakeWords        []string
	IdleTimeout      time.Duration
	MaxIdleRounds    int
	MaxHistoryLength int
	MaxMessages      int

	mu                  sync.Mutex
	conversationHistory []llmclient.Message
	messages            []ConversationMessage
	currentState        string
	totalConversations  int

	running atomic.Bool
}

// NewConversationExecutor builds a ConversationExecutor with the original's
// default wake words and timing.
func NewConversationExecutor(agent ActionRunner, submitter TaskSubmitter, llm llmclient.Client, stateCallback ConversationStateCallback, logger *slog.Logger) *ConversationExecutor {
	return &ConversationExecutor{
		BaseExecutor:     task.NewBaseExecutor("conversation", logger),
		agent:            agent,
		submitter:        submitter,
		llm:              llm,
		stateCallback:    stateCallback,
		WakeWords:        []string{"hey fox", "hello fox"},
		IdleTimeout:      30 * time.Second,
		MaxIdleRounds:    2,
		MaxHistoryLength: 10,
		MaxMessages:      50,
		currentState:     ConvStateWaitingWake,
	}
}

// StartListening flips the executor into its listening loop. Without a
// front-end toggle driving this in a headless runtime, Execute calls it
// automatically unless execution_data explicitly disables auto_start.
func (e *ConversationExecutor) StartListening() {
	if e.running.CompareAndSwap(false, true) {
		e.emit("listening_started", map[string]any{})
	}
}

// StopListening ends the standby loop at its next wake-word or
// conversation-round check.
func (e *ConversationExecutor) StopListening() {
	if e.running.CompareAndSwap(true, false) {
		e.emit("listening_stopped", map[string]any{})
	}
}

// Messages returns up to the most recent limit transcript entries, or all
// of them when limit is 0.
func (e *ConversationExecutor) Messages(limit int) []ConversationMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit >= len(e.messages) {
		out := make([]ConversationMessage, len(e.messages))
		copy(out, e.messages)
		return out
	}
	out := make([]ConversationMessage, limit)
	copy(out, e.messages[len(e.messages)-limit:])
	return out
}

// Validate always passes: a conversation task carries optional tuning, not
// required fields.
func (e *ConversationExecutor) Validate(t *task.Task) bool { return true }

// Execute runs the wake-word standby loop until stopped (mode "loop", the
// default); any other mode runs one conversation right away, without
// waiting for a wake word.
func (e *ConversationExecutor) Execute(ctx context.Context, t *task.Task) error {
	mode := task.StringField(t.ExecutionData, "mode", "loop")
	if task.BoolField(t.ExecutionData, "auto_start", true) {
		e.StartListening()
	}

	var err error
	if mode == "loop" {
		err = e.permanentStandbyLoop(ctx)
	} else {
		err = e.singleConversation(ctx)
	}
	if err != nil {
		e.HandleError(t, err)
		return nil
	}

	e.mu.Lock()
	total := e.totalConversations
	e.mu.Unlock()

	t.Result = map[string]any{"success": true, "total_conversations": total}
	t.TransitionTo(task.StatusCompleted, "conversation ended")
	return nil
}

// permanentStandbyLoop waits for StartListening, then alternates between
// waiting for a wake word and running a bounded conversation, forever,
// until StopListening or ctx cancellation. This is the one part of the
// runtime that blocks on a long-lived loop rather than stepping and
// re-enqueuing: a conversation task is expected to own a scheduler slot for
// its whole session.
func (e *ConversationExecutor) permanentStandbyLoop(ctx context.Context) error {
	for !e.running.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	for e.running.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		e.setState(ConvStateWaitingWake, map[string]any{"wake_words": e.WakeWords})

		awakened, err := e.waitForWakeWord(ctx)
		if err != nil {
			return err
		}
		if !e.running.Load() {
			break
		}
		if !awakened {
			continue
		}

		e.mu.Lock()
		e.totalConversations++
		count := e.totalConversations
		e.mu.Unlock()

		e.setState("awakened", map[string]any{"conversation_id": count})

		welcome := "I'm here, let's talk."
		e.addMessage("assistant", welcome)
		e.speak(welcome)

		e.conversationLoop(ctx)

		e.mu.Lock()
		e.conversationHistory = nil
		e.mu.Unlock()

		e.setState("goodbye", map[string]any{"conversation_id": count})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil
}

func (e *ConversationExecutor) singleConversation(ctx context.Context) error {
	e.mu.Lock()
	e.totalConversations++
	count := e.totalConversations
	e.mu.Unlock()

	e.setState(ConvStateConversing, map[string]any{"conversation_id": count})
	e.conversationLoop(ctx)
	e.setState("completed", map[string]any{"conversation_id": count})
	return nil
}

// waitForWakeWord listens in 60-second windows, retrying indefinitely
// until a wake word is heard or the loop is stopped. The 60-second window
// is a deliberately generous permanent-standby timeout rather than a true
// non-blocking wait; a stop request only takes effect between windows.
func (e *ConversationExecutor) waitForWakeWord(ctx context.Context) (bool, error) {
	for e.running.Load() {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		result, err := e.agent.ExecuteAction("listen", 60.0)
		if !e.running.Load() {
			return false, nil
		}
		if err == nil && result.Success {
			text := strings.ToLower(strings.TrimSpace(outputText(result.Output)))
			for _, word := range e.WakeWords {
				if strings.Contains(text, strings.ToLower(word)) {
					return true, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return false, nil
}

func (e *ConversationExecutor) conversationLoop(ctx context.Context) {
	idleCount := 0
	round := 0
	const maxRounds = 20

	e.mu.Lock()
	count := e.totalConversations
	e.mu.Unlock()

	e.setState(ConvStateConversing, map[string]any{"conversation_id": count})

	for e.running.Load() && round < maxRounds {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := e.agent.ExecuteAction("listen", e.IdleTimeout.Seconds())
		if !e.running.Load() {
			return
		}
		userText := ""
		if err == nil && result.Success {
			userText = strings.TrimSpace(outputText(result.Output))
		}
		if userText == "" {
			idleCount++
			e.setState(ConvStateIdle, map[string]any{"idle_count": idleCount, "max_idle_rounds": e.MaxIdleRounds})
			if idleCount >= e.MaxIdleRounds {
				goodbye := "Okay, I'll rest now. Call me if you need anything."
				e.addMessage("assistant", goodbye)
				e.speak(goodbye)
				return
			}
			continue
		}
		idleCount = 0
		e.addMessage("user", userText)

		if isGoodbye(userText) {
			goodbye := "Goodbye, talk soon!"
			e.addMessage("assistant", goodbye)
			e.speak(goodbye)
			return
		}

		response := e.handleUserInput(ctx, userText)
		e.addMessage("assistant", response)
		e.setState(ConvStateConversing, map[string]any{"user_input": userText, "bot_response": response, "round": round + 1})
		e.speak(response)

		round++
	}
}

func outputText(output any) string {
	switch v := output.(type) {
	case string:
		return v
	case map[string]any:
		return task.StringField(v, "text", "")
	default:
		return ""
	}
}

var goodbyeKeywords = []string{"goodbye", "bye", "bye bye", "see you", "that's all", "stop listening", "go away"}

func isGoodbye(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, kw := range goodbyeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type conversationIntent struct {
	IntentType string         `json:"intent_type"`
	Response   string         `json:"response"`
	TaskInfo   map[string]any `json:"task_info"`
}

// handleUserInput analyzes intent, runs an MCP tool call through the task
// runtime when the intent calls for one, and returns the text to speak.
func (e *ConversationExecutor) handleUserInput(ctx context.Context, userText string) string {
	intent := e.analyzeIntent(ctx, userText)
	response := intent.Response

	if intent.IntentType == "task_request" && intent.TaskInfo != nil {
		if task.StringField(intent.TaskInfo, "executor_type", "") == "mcp" {
			mcpResult := e.callMcpTool(ctx, intent.TaskInfo)
			if task.BoolField(mcpResult, "success", false) {
				response = e.generateFinalResponse(ctx, userText, mcpResult)
			} else {
				response = fmt.Sprintf("Sorry, something went wrong: %s", task.StringField(mcpResult, "error", "unknown error"))
			}
		}
	}

	e.mu.Lock()
	e.conversationHistory = append(e.conversationHistory,
		llmclient.Message{Role: "user", Content: userText},
		llmclient.Message{Role: "assistant", Content: response},
	)
	if len(e.conversationHistory) > e.MaxHistoryLength*2 {
		e.conversationHistory = e.conversationHistory[len(e.conversationHistory)-e.MaxHistoryLength*2:]
	}
	e.mu.Unlock()

	return response
}

func (e *ConversationExecutor) analyzeIntent(ctx context.Context, userText string) conversationIntent {
	if e.llm == nil {
		return conversationIntent{IntentType: "simple_chat", Response: "Got it."}
	}

	prompt := "Classify the user's message as simple_chat or task_request. " +
		"For task_request, include task_info: {executor_type:\"mcp\", parameters:{user_intent, context}}. " +
		"Respond as JSON: {\"intent_type\":..., \"response\":..., \"task_info\":{...}}"

	e.mu.Lock()
	history := append([]llmclient.Message(nil), e.conversationHistory...)
	e.mu.Unlock()

	messages := append([]llmclient.Message{{Role: "system", Content: prompt}}, history...)
	messages = append(messages, llmclient.Message{Role: "user", Content: userText})

	raw, err := e.llm.ChatCompletion(ctx, messages, 0.3, 300)
	if err != nil {
		e.Logger.Warn("intent analysis failed", "error", err)
		return conversationIntent{IntentType: "simple_chat", Response: "Sorry, I didn't catch that."}
	}

	var out conversationIntent
	if err := json.Unmarshal([]byte(extractJSONBlock(raw)), &out); err != nil {
		return conversationIntent{IntentType: "simple_chat", Response: raw}
	}
	return out
}

func (e *ConversationExecutor) callMcpTool(ctx context.Context, taskInfo map[string]any) map[string]any {
	if e.submitter == nil {
		return map[string]any{"success": false, "error": "no task submitter configured"}
	}

	params := task.MapField(taskInfo, "parameters")
	userIntent := task.StringField(params, "user_intent", "")

	mcpTask := task.NewTask(task.TypeMcpCall, 7)
	mcpTask.Timeout = 3000 * time.Second
	mcpTask.ExecutionData = map[string]any{
		"goal":        userIntent,
		"user_intent": userIntent,
		"max_steps":   5,
	}
	mcpTask.Context = task.MapField(params, "context")

	id := e.submitter.SubmitTask(mcpTask)

	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		status, ok := e.submitter.GetTaskStatus(id)
		if !ok {
			time.Sleep(time.Second)
			continue
		}
		switch status {
		case task.StatusCompleted:
			detail := e.submitter.GetTaskDetail(id)
			if detail == nil || detail.Result == nil {
				return map[string]any{"success": false, "error": "no result"}
			}
			return detail.Result
		case task.StatusFailed, task.StatusCancelled:
			detail := e.submitter.GetTaskDetail(id)
			errMsg := "unknown error"
			if detail != nil {
				errMsg = task.StringField(detail.Result, "error", errMsg)
			}
			return map[string]any{"success": false, "error": errMsg}
		}
		time.Sleep(time.Second)
	}
	return map[string]any{"success": false, "error": "timeout"}
}

// generateFinalResponse asks the model to summarize a tool result into a
// short spoken reply.
func (e *ConversationExecutor) generateFinalResponse(ctx context.Context, userText string, mcpResult map[string]any) string {
	toolOutput := extractToolOutput(mcpResult)

	prompt := fmt.Sprintf(
		"You are a friendly assistant.\n\nUser asked: %q\n\nTool returned:\n%v\n\n"+
			"Reply in 2-3 short, natural sentences summarizing the key information.",
		userText, toolOutput)

	messages := []llmclient.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: userText},
	}

	response, err := e.llm.ChatCompletion(ctx, messages, 0.7, 200)
	if err != nil {
		return "I found something, but had trouble putting it into words."
	}
	return response
}

func extractToolOutput(mcpResult map[string]any) any {
	if v, ok := mcpResult["final_result"]; ok {
		return v
	}
	if v, ok := mcpResult["result"]; ok {
		return v
	}
	if v, ok := mcpResult["formatted_output"]; ok {
		return v
	}
	return mcpResult
}

func (e *ConversationExecutor) speak(text string) {
	if _, err := e.agent.ExecuteAction("speak", text); err != nil {
		e.Logger.Warn("speak action failed", "error", err)
	}
}

func (e *ConversationExecutor) addMessage(role, content string) {
	msg := ConversationMessage{Role: role, Content: content, Timestamp: time.Now()}
	e.mu.Lock()
	e.messages = append(e.messages, msg)
	if len(e.messages) > e.MaxMessages {
		e.messages = e.messages[len(e.messages)-e.MaxMessages:]
	}
	total := len(e.messages)
	e.mu.Unlock()

	e.emit("message", map[string]any{"role": msg.Role, "content": msg.Content, "total_messages": total})
}

func (e *ConversationExecutor) setState(state string, data map[string]any) {
	e.mu.Lock()
	e.currentState = state
	e.mu.Unlock()
	e.emit(state, data)
}

func (e *ConversationExecutor) emit(event string, data map[string]any) {
	if e.stateCallback != nil {
		e.stateCallback(event, data)
	}
}
