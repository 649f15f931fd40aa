package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all agent runtime configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Task runtime tuning: concurrency and the main/cleanup loop cadence
	Runtime RuntimeConfig `json:"runtime"`

	// Patrol trigger settings
	Patrol PatrolConfig `json:"patrol"`

	// MCP server connections and tool-index tuning
	MCP MCPConfig `json:"mcp"`

	// LLM provider settings
	Models ModelsConfig `json:"models"`

	// Wake-word conversation tuning
	Wake WakeConfig `json:"wake"`
}

// ServerConfig carries process-level settings unrelated to any one
// subsystem.
type ServerConfig struct {
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
}

// RuntimeConfig tunes the task queue's concurrency gate and loop cadence.
type RuntimeConfig struct {
	MaxConcurrentTasks int           `json:"maxConcurrentTasks"`
	LoopInterval       time.Duration `json:"loopInterval"`
	CleanupInterval    time.Duration `json:"cleanupInterval"`
}

// PatrolConfig tunes the default watch-cycle periodic trigger.
type PatrolConfig struct {
	Enabled            bool          `json:"enabled"`
	Interval           time.Duration `json:"interval"`
	ActionName         string        `json:"actionName"`
	EmergencyThreshold float64       `json:"emergencyThreshold"`
}

// MCPServerConfig describes one configured MCP server connection.
type MCPServerConfig struct {
	ServerID string            `json:"serverId"`
	URL      string            `json:"url"`
	TimeoutS int               `json:"timeoutSeconds"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// MCPConfig tunes the MCP control plane: the configured server list plus
// the tool index's cache behavior.
type MCPConfig struct {
	Servers               []MCPServerConfig `json:"servers"`
	LocalToolManifestDir  string            `json:"localToolManifestDir,omitempty"`
	IndexCachePath        string            `json:"indexCachePath,omitempty"`
	CacheTTLSeconds       int               `json:"cacheTtlSeconds"`
	ForceRefreshOnInit    bool              `json:"forceRefreshOnInit"`
	PlanVerificationMode  string            `json:"planVerificationMode"`
	MaxPlanSteps          int               `json:"maxPlanSteps"`
	MaxPlanRevisions      int               `json:"maxPlanRevisions"`
	EnablePlanBasedMode   bool              `json:"enablePlanBasedMode"`
	HomeContextTTLSeconds int               `json:"homeContextTtlSeconds"`
}

// ModelsConfig configures the LLM client used by the Router and the MCP
// and conversation executors.
type ModelsConfig struct {
	Provider string `json:"provider"` // e.g. "openai"
	Model    string `json:"model"`
	BaseURL  string `json:"baseUrl,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
}

// WakeConfig tunes the wake-word conversation executor.
type WakeConfig struct {
	WakeWords        []string      `json:"wakeWords"`
	IdleTimeout      time.Duration `json:"idleTimeout"`
	MaxIdleRounds    int           `json:"maxIdleRounds"`
	MaxHistoryLength int           `json:"maxHistoryLength"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			DataDir:  "./data",
			LogLevel: "info",
		},
		Runtime: RuntimeConfig{
			MaxConcurrentTasks: 5,
			LoopInterval:       time.Second,
			CleanupInterval:    10 * time.Second,
		},
		Patrol: PatrolConfig{
			Enabled:            true,
			Interval:           30 * time.Second,
			ActionName:         "watch",
			EmergencyThreshold: 0.8,
		},
		MCP: MCPConfig{
			CacheTTLSeconds:       3600,
			PlanVerificationMode:  "rule",
			MaxPlanSteps:          20,
			MaxPlanRevisions:      3,
			EnablePlanBasedMode:   true,
			HomeContextTTLSeconds: 60,
		},
		Models: ModelsConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Wake: WakeConfig{
			WakeWords:        []string{"hey fox", "hello fox"},
			IdleTimeout:      30 * time.Second,
			MaxIdleRounds:    2,
			MaxHistoryLength: 10,
		},
	}
}

// Load reads config from a JSON file, falling back to defaults for any
// field the file doesn't set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Save writes config to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}
