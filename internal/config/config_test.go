package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.DataDir != "./data" {
		t.Errorf("expected dataDir ./data, got %s", cfg.Server.DataDir)
	}

	if cfg.Server.LogLevel != "info" {
		t.Errorf("expected logLevel info, got %s", cfg.Server.LogLevel)
	}

	if cfg.Runtime.MaxConcurrentTasks != 5 {
		t.Errorf("expected maxConcurrentTasks 5, got %d", cfg.Runtime.MaxConcurrentTasks)
	}

	if cfg.Runtime.LoopInterval != time.Second {
		t.Errorf("expected loopInterval 1s, got %v", cfg.Runtime.LoopInterval)
	}

	if !cfg.Patrol.Enabled {
		t.Error("expected patrol enabled by default")
	}

	if cfg.Patrol.ActionName != "watch" {
		t.Errorf("expected patrol action watch, got %s", cfg.Patrol.ActionName)
	}

	if cfg.Patrol.EmergencyThreshold != 0.8 {
		t.Errorf("expected emergencyThreshold 0.8, got %f", cfg.Patrol.EmergencyThreshold)
	}

	if cfg.MCP.PlanVerificationMode != "rule" {
		t.Errorf("expected planVerificationMode rule, got %s", cfg.MCP.PlanVerificationMode)
	}

	if cfg.MCP.MaxPlanSteps != 20 {
		t.Errorf("expected maxPlanSteps 20, got %d", cfg.MCP.MaxPlanSteps)
	}

	if cfg.Models.Provider != "openai" {
		t.Errorf("expected provider openai, got %s", cfg.Models.Provider)
	}

	if len(cfg.Wake.WakeWords) == 0 {
		t.Error("expected default wake words")
	}

	if cfg.Wake.MaxIdleRounds != 2 {
		t.Errorf("expected maxIdleRounds 2, got %d", cfg.Wake.MaxIdleRounds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadAppliesOverridesOnTopOfDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	partial := map[string]any{
		"server": map[string]any{
			"logLevel": "debug",
		},
		"models": map[string]any{
			"provider": "openai",
			"model":    "gpt-4o",
		},
	}
	data, err := json.Marshal(partial)
	if err != nil {
		t.Fatalf("marshal partial config: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.LogLevel != "debug" {
		t.Errorf("expected overridden logLevel debug, got %s", cfg.Server.LogLevel)
	}
	if cfg.Models.Model != "gpt-4o" {
		t.Errorf("expected overridden model gpt-4o, got %s", cfg.Models.Model)
	}
	// Fields not present in the override keep their defaults.
	if cfg.Runtime.MaxConcurrentTasks != 5 {
		t.Errorf("expected default maxConcurrentTasks to survive partial load, got %d", cfg.Runtime.MaxConcurrentTasks)
	}
	if cfg.Patrol.ActionName != "watch" {
		t.Errorf("expected default patrol action to survive partial load, got %s", cfg.Patrol.ActionName)
	}
}

func TestLoadCreatesDataDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	dataDir := filepath.Join(dir, "data", "nested")

	cfg := DefaultConfig()
	cfg.Server.DataDir = dataDir
	saveJSON(t, path, cfg)

	if _, err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if info, err := os.Stat(dataDir); err != nil || !info.IsDir() {
		t.Errorf("expected data dir %s to be created", dataDir)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	cfg.MCP.Servers = []MCPServerConfig{
		{ServerID: "home", URL: "http://localhost:9000", TimeoutS: 10},
	}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded.MCP.Servers) != 1 || loaded.MCP.Servers[0].ServerID != "home" {
		t.Errorf("expected round-tripped MCP server config, got %+v", loaded.MCP.Servers)
	}
}
