package executors

import (
	"testing"

	"github.com/srprobotics/homeagent/internal/task"
)

func TestIsHomeAutomationTaskFromContextFlag(t *testing.T) {
	exec := &McpExecutor{}
	tk := task.NewTask(task.TypeMcpCall, 1)
	tk.Context = map[string]any{"is_home_automation": true}
	if !exec.isHomeAutomationTask(tk) {
		t.Error("expected context flag to mark task as home automation")
	}
}

func TestIsHomeAutomationTaskFromGoal(t *testing.T) {
	exec := &McpExecutor{}
	tk := task.NewTask(task.TypeMcpCall, 1)
	tk.ExecutionData = map[string]any{"goal": "turn on the kitchen light"}
	if !exec.isHomeAutomationTask(tk) {
		t.Error("expected action+entity goal to mark task as home automation")
	}
}

func TestIsHomeAutomationTaskRequiresBothActionAndEntity(t *testing.T) {
	exec := &McpExecutor{}
	tk := task.NewTask(task.TypeMcpCall, 1)
	tk.ExecutionData = map[string]any{"goal": "turn on some music"}
	if exec.isHomeAutomationTask(tk) {
		t.Error("expected goal without a home-automation entity to not match")
	}
}

func TestIsHomeAutomationTaskNoSignal(t *testing.T) {
	exec := &McpExecutor{}
	tk := task.NewTask(task.TypeMcpCall, 1)
	tk.ExecutionData = map[string]any{"goal": "tell me a joke"}
	if exec.isHomeAutomationTask(tk) {
		t.Error("expected unrelated goal to not match")
	}
}

func TestParseEntitiesJSON(t *testing.T) {
	text := `{"entities":[{"entity_id":"light.kitchen","friendly_name":"Kitchen Light","area":"kitchen","state":"on"}]}`
	devices := parseEntitiesJSON(text)
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	if devices[0].EntityID != "light.kitchen" {
		t.Errorf("got %q", devices[0].EntityID)
	}
}

func TestParseEntitiesJSONWithPosition(t *testing.T) {
	text := `{"entities":[{"entity_id":"cover.blind","position":50}]}`
	devices := parseEntitiesJSON(text)
	if len(devices) != 1 || devices[0].Position == nil || *devices[0].Position != 50 {
		t.Fatalf("expected position 50, got %+v", devices)
	}
}

func TestParseEntitiesJSONInvalidReturnsNil(t *testing.T) {
	if devices := parseEntitiesJSON("not json"); devices != nil {
		t.Errorf("expected nil for invalid json, got %v", devices)
	}
}

func TestParseEntitiesYAML(t *testing.T) {
	text := "- entity_id: light.kitchen\n  friendly_name: Kitchen Light\n  area: kitchen\n  state: on\n- entity_id: light.hall\n  state: off\n"
	devices := parseEntitiesYAML(text)
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].EntityID != "light.kitchen" || devices[0].FriendlyName != "Kitchen Light" {
		t.Errorf("got %+v", devices[0])
	}
	if devices[1].EntityID != "light.hall" || devices[1].State != "off" {
		t.Errorf("got %+v", devices[1])
	}
}

func TestParseLiveContextPrefersJSON(t *testing.T) {
	content := `{"entities":[{"entity_id":"light.a"}]}`
	devices := parseLiveContext(content)
	if len(devices) != 1 || devices[0].EntityID != "light.a" {
		t.Fatalf("expected JSON parse path, got %+v", devices)
	}
}

func TestParseLiveContextFallsBackToYAML(t *testing.T) {
	content := "- entity_id: light.b\n  state: on\n"
	devices := parseLiveContext(content)
	if len(devices) != 1 || devices[0].EntityID != "light.b" {
		t.Fatalf("expected YAML fallback parse, got %+v", devices)
	}
}

func TestEnhanceGoalWithDevicesEmpty(t *testing.T) {
	goal := "turn on the light"
	if got := enhanceGoalWithDevices(goal, nil); got != goal {
		t.Errorf("expected unchanged goal with no devices, got %q", got)
	}
}

func TestEnhanceGoalWithDevicesListsUpToTen(t *testing.T) {
	devices := make([]deviceInfo, 15)
	for i := range devices {
		devices[i] = deviceInfo{EntityID: "light.x", FriendlyName: "Light X", Area: "room", State: "off"}
	}
	got := enhanceGoalWithDevices("turn on lights", devices)
	count := 0
	for i := 0; i+len("light.x") <= len(got); i++ {
		if got[i:i+len("light.x")] == "light.x" {
			count++
		}
	}
	if count != 10 {
		t.Errorf("expected 10 device mentions, got %d", count)
	}
}
