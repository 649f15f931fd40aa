package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
)

// ReloadResult describes what changed during a config reload.
type ReloadResult struct {
	Changed []string // list of changed fields
	Applied []string // successfully applied
	Skipped []string // require restart
	Errors  []error
}

// restartRequiredFields lists top-level config fields that cannot be
// hot-reloaded and require a full process restart.
var restartRequiredFields = map[string]bool{
	"Server.DataDir":            true,
	"Runtime.MaxConcurrentTasks": true,
}

// hotReloadableFields lists fields that can be applied at runtime.
var hotReloadableFields = []string{
	"Server.LogLevel",
	"Runtime.LoopInterval",
	"Runtime.CleanupInterval",
	"Patrol",
	"MCP",
	"Models",
	"Wake",
}

// mu protects the Config during concurrent reload operations.
var mu sync.RWMutex

// RLock acquires a read lock on the config.
func RLock() { mu.RLock() }

// RUnlock releases a read lock on the config.
func RUnlock() { mu.RUnlock() }

// Reload re-reads the config from path, diffs against the current config,
// and applies hot-reloadable changes in place. Fields that require a
// restart are logged as skipped.
func (c *Config) Reload(path string) (*ReloadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config for reload: %w", err)
	}

	newCfg := DefaultConfig()
	if err := json.Unmarshal(data, newCfg); err != nil {
		return nil, fmt.Errorf("parse config for reload: %w", err)
	}

	result := &ReloadResult{}

	mu.Lock()
	defer mu.Unlock()

	diffAndApply(c, newCfg, result)

	return result, nil
}

// diffAndApply compares old and new configs, applying hot-reloadable changes.
func diffAndApply(old, new *Config, result *ReloadResult) {
	// Server.DataDir (restart required)
	if old.Server.DataDir != new.Server.DataDir {
		result.Changed = append(result.Changed, "Server.DataDir")
		result.Skipped = append(result.Skipped, "Server.DataDir (requires restart)")
	}
	// Server.LogLevel (hot-reloadable)
	if old.Server.LogLevel != new.Server.LogLevel {
		result.Changed = append(result.Changed, "Server.LogLevel")
		old.Server.LogLevel = new.Server.LogLevel
		result.Applied = append(result.Applied, "Server.LogLevel")
	}

	// Runtime.MaxConcurrentTasks (restart required: the scheduler's
	// concurrency gate is sized once at construction)
	if old.Runtime.MaxConcurrentTasks != new.Runtime.MaxConcurrentTasks {
		result.Changed = append(result.Changed, "Runtime.MaxConcurrentTasks")
		result.Skipped = append(result.Skipped, "Runtime.MaxConcurrentTasks (requires restart)")
	}
	// Runtime.LoopInterval / CleanupInterval (hot-reloadable)
	if old.Runtime.LoopInterval != new.Runtime.LoopInterval {
		result.Changed = append(result.Changed, "Runtime.LoopInterval")
		old.Runtime.LoopInterval = new.Runtime.LoopInterval
		result.Applied = append(result.Applied, "Runtime.LoopInterval")
	}
	if old.Runtime.CleanupInterval != new.Runtime.CleanupInterval {
		result.Changed = append(result.Changed, "Runtime.CleanupInterval")
		old.Runtime.CleanupInterval = new.Runtime.CleanupInterval
		result.Applied = append(result.Applied, "Runtime.CleanupInterval")
	}

	// Patrol (hot-reloadable)
	if !reflect.DeepEqual(old.Patrol, new.Patrol) {
		result.Changed = append(result.Changed, "Patrol")
		old.Patrol = new.Patrol
		result.Applied = append(result.Applied, "Patrol")
	}

	// MCP (hot-reloadable)
	if !reflect.DeepEqual(old.MCP, new.MCP) {
		result.Changed = append(result.Changed, "MCP")
		old.MCP = new.MCP
		result.Applied = append(result.Applied, "MCP")
	}

	// Models (hot-reloadable)
	if !reflect.DeepEqual(old.Models, new.Models) {
		result.Changed = append(result.Changed, "Models")
		old.Models = new.Models
		result.Applied = append(result.Applied, "Models")
	}

	// Wake (hot-reloadable)
	if !reflect.DeepEqual(old.Wake, new.Wake) {
		result.Changed = append(result.Changed, "Wake")
		old.Wake = new.Wake
		result.Applied = append(result.Applied, "Wake")
	}
}

// LogResult logs the reload result at the appropriate levels.
func (r *ReloadResult) LogResult(logger *slog.Logger) {
	if len(r.Changed) == 0 {
		logger.Info("config reload: no changes detected")
		return
	}

	logger.Info("config reload complete",
		"changed", len(r.Changed),
		"applied", len(r.Applied),
		"skipped", len(r.Skipped),
		"errors", len(r.Errors),
	)

	for _, field := range r.Applied {
		logger.Info("config field hot-reloaded", "field", field)
	}

	for _, field := range r.Skipped {
		logger.Warn("config field requires restart", "field", field)
	}

	for _, err := range r.Errors {
		logger.Error("config reload error", "error", err)
	}
}

// IsRestartRequired returns true if the field requires a restart.
func IsRestartRequired(field string) bool {
	return restartRequiredFields[field]
}

// HotReloadableFields returns the list of hot-reloadable field names.
func HotReloadableFields() []string {
	return hotReloadableFields
}
