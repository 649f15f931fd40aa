package builtin

import (
	"testing"

	"github.com/srprobotics/homeagent/internal/action"
)

func TestSpeakExecuteRequiresInitialization(t *testing.T) {
	speak := NewSpeak(nil)
	_, err := speak.Execute(action.Context{InputData: "hello"})
	if err == nil {
		t.Fatal("expected error before Initialize")
	}
}

func TestSpeakExecuteReturnsText(t *testing.T) {
	speak := NewSpeak(nil)
	if err := speak.Initialize(nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	result, err := speak.Execute(action.Context{InputData: "turn on the lights"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	out, ok := result.Output.(map[string]any)
	if !ok {
		t.Fatalf("expected map output, got %T", result.Output)
	}
	if out["text"] != "turn on the lights" {
		t.Errorf("expected input text echoed back, got %v", out["text"])
	}
}

func TestSpeakExecuteDefaultsOnMissingInput(t *testing.T) {
	speak := NewSpeak(nil)
	speak.Initialize(nil)

	result, _ := speak.Execute(action.Context{})
	out := result.Output.(map[string]any)
	if out["text"] != "(no text provided)" {
		t.Errorf("expected default placeholder text, got %v", out["text"])
	}
}

func TestListenExecuteReturnsEmptyTranscript(t *testing.T) {
	listen := NewListen(nil)
	listen.Initialize(nil)

	result, err := listen.Execute(action.Context{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	out := result.Output.(map[string]any)
	if out["text"] != "" {
		t.Errorf("expected empty transcript, got %v", out["text"])
	}
}

func TestWatchExecuteReportsNoEmergency(t *testing.T) {
	watch := NewWatch(nil)
	watch.Initialize(nil)

	result, err := watch.Execute(action.Context{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	out := result.Output.(map[string]any)
	if out["emergency"] != false {
		t.Errorf("expected no emergency reported, got %v", out["emergency"])
	}
}

func TestAlertExecutePassesThroughInput(t *testing.T) {
	alert := NewAlert(nil)
	alert.Initialize(nil)

	payload := map[string]any{"reason": "smoke detected"}
	result, err := alert.Execute(action.Context{InputData: payload})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	if got, ok := result.Output.(map[string]any); !ok || got["reason"] != "smoke detected" {
		t.Errorf("expected input data passed through as output, got %v", result.Output)
	}
}

func TestBuiltinMetadataNames(t *testing.T) {
	cases := []struct {
		name string
		a    action.Action
	}{
		{"speak", NewSpeak(nil)},
		{"listen", NewListen(nil)},
		{"watch", NewWatch(nil)},
		{"alert", NewAlert(nil)},
	}
	for _, c := range cases {
		if got := c.a.GetMetadata().Name; got != c.name {
			t.Errorf("expected metadata name %q, got %q", c.name, got)
		}
	}
}

func TestBuiltinActionsCleanupIsNoop(t *testing.T) {
	actions := []action.Action{NewSpeak(nil), NewListen(nil), NewWatch(nil), NewAlert(nil)}
	for _, a := range actions {
		if err := a.Cleanup(); err != nil {
			t.Errorf("expected no-op Cleanup to succeed, got %v", err)
		}
	}
}
