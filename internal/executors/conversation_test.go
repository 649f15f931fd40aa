package executors

import (
	"context"
	"testing"
	"time"

	"github.com/srprobotics/homeagent/internal/action"
	"github.com/srprobotics/homeagent/internal/task"
)

func TestOutputText(t *testing.T) {
	if got := outputText("hello"); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := outputText(map[string]any{"text": "hi"}); got != "hi" {
		t.Errorf("got %q", got)
	}
	if got := outputText(42); got != "" {
		t.Errorf("expected empty string for unsupported type, got %q", got)
	}
}

func TestIsGoodbye(t *testing.T) {
	cases := map[string]bool{
		"goodbye for now":     true,
		"ok bye":              true,
		"see you later":       true,
		"let's keep chatting": false,
	}
	for text, want := range cases {
		if got := isGoodbye(text); got != want {
			t.Errorf("isGoodbye(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestExtractToolOutput(t *testing.T) {
	if got := extractToolOutput(map[string]any{"final_result": "a"}); got != "a" {
		t.Errorf("expected final_result preferred, got %v", got)
	}
	if got := extractToolOutput(map[string]any{"result": "b"}); got != "b" {
		t.Errorf("expected result fallback, got %v", got)
	}
	if got := extractToolOutput(map[string]any{"formatted_output": "c"}); got != "c" {
		t.Errorf("expected formatted_output fallback, got %v", got)
	}
	whole := map[string]any{"other": "d"}
	if got := extractToolOutput(whole); got.(map[string]any)["other"] != "d" {
		t.Errorf("expected whole map fallback, got %v", got)
	}
}

func TestConversationStartStopListening(t *testing.T) {
	exec := NewConversationExecutor(newFakeAgent(), newFakeSubmitter(), nil, nil, discardLogger())
	if exec.running.Load() {
		t.Fatal("expected not running initially")
	}
	exec.StartListening()
	if !exec.running.Load() {
		t.Fatal("expected running after StartListening")
	}
	exec.StopListening()
	if exec.running.Load() {
		t.Fatal("expected not running after StopListening")
	}
}

func TestConversationMessagesLimit(t *testing.T) {
	exec := NewConversationExecutor(newFakeAgent(), newFakeSubmitter(), nil, nil, discardLogger())
	for i := 0; i < 5; i++ {
		exec.addMessage("user", "hi")
	}
	if len(exec.Messages(0)) != 5 {
		t.Errorf("expected all 5 messages, got %d", len(exec.Messages(0)))
	}
	if len(exec.Messages(2)) != 2 {
		t.Errorf("expected 2 messages, got %d", len(exec.Messages(2)))
	}
}

func TestConversationSingleConversationEndsOnIdle(t *testing.T) {
	agent := newFakeAgent()
	agent.errs["listen"] = context.DeadlineExceeded
	exec := NewConversationExecutor(agent, newFakeSubmitter(), nil, nil, discardLogger())
	exec.IdleTimeout = time.Millisecond
	exec.MaxIdleRounds = 1
	exec.running.Store(true)

	if err := exec.singleConversation(context.Background()); err != nil {
		t.Fatalf("singleConversation failed: %v", err)
	}

	messages := exec.Messages(0)
	if len(messages) == 0 || messages[len(messages)-1].Role != "assistant" {
		t.Errorf("expected a farewell message, got %+v", messages)
	}
}

func TestConversationLoopEndsOnGoodbye(t *testing.T) {
	agent := newFakeAgent()
	agent.results["listen"] = action.Result{Success: true, Output: "goodbye"}
	exec := NewConversationExecutor(agent, newFakeSubmitter(), nil, nil, discardLogger())
	exec.running.Store(true)

	exec.conversationLoop(context.Background())

	messages := exec.Messages(0)
	if len(messages) != 2 || messages[0].Role != "user" || messages[1].Role != "assistant" {
		t.Fatalf("expected a user+assistant goodbye exchange, got %+v", messages)
	}
}

func TestConversationExecuteLoopModeStopsOnCanceledContext(t *testing.T) {
	exec := NewConversationExecutor(newFakeAgent(), newFakeSubmitter(), nil, nil, discardLogger())
	tk := task.NewTask(task.TypeConversation, 1)
	tk.ExecutionData = map[string]any{"mode": "loop"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := exec.Execute(ctx, tk); err != nil {
		t.Fatalf("Execute should swallow the loop error via HandleError: %v", err)
	}
	if tk.Status != task.StatusFailed {
		t.Errorf("expected failed status on canceled context, got %s", tk.Status)
	}
}

func TestAnalyzeIntentNoLLMDefaultsToSimpleChat(t *testing.T) {
	exec := NewConversationExecutor(newFakeAgent(), newFakeSubmitter(), nil, nil, discardLogger())
	intent := exec.analyzeIntent(context.Background(), "hello")
	if intent.IntentType != "simple_chat" || intent.Response != "Got it." {
		t.Errorf("got %+v", intent)
	}
}

func TestCallMcpToolNoSubmitter(t *testing.T) {
	exec := &ConversationExecutor{}
	result := exec.callMcpTool(context.Background(), map[string]any{})
	if result["success"] != false {
		t.Errorf("expected failure with no submitter, got %v", result)
	}
}

func TestCallMcpToolReturnsCompletedResult(t *testing.T) {
	submitter := newFakeSubmitter()
	submitter.autoStatus = task.StatusCompleted
	submitter.autoResult = map[string]any{"success": true, "result": "done"}
	exec := NewConversationExecutor(newFakeAgent(), submitter, nil, nil, discardLogger())

	taskInfo := map[string]any{"parameters": map[string]any{"user_intent": "turn on the light"}}

	result := exec.callMcpTool(context.Background(), taskInfo)
	if result["success"] != true {
		t.Errorf("expected success result, got %v", result)
	}
	if len(submitter.submitted) != 1 {
		t.Fatalf("expected exactly 1 task submitted, got %d", len(submitter.submitted))
	}
}

func TestCallMcpToolReturnsFailureResult(t *testing.T) {
	submitter := newFakeSubmitter()
	submitter.autoStatus = task.StatusFailed
	submitter.autoResult = map[string]any{"error": "tool unreachable"}
	exec := NewConversationExecutor(newFakeAgent(), submitter, nil, nil, discardLogger())

	result := exec.callMcpTool(context.Background(), map[string]any{"parameters": map[string]any{"user_intent": "x"}})
	if result["success"] != false {
		t.Errorf("expected failure result, got %v", result)
	}
	if result["error"] != "tool unreachable" {
		t.Errorf("expected error message surfaced, got %v", result["error"])
	}
}
