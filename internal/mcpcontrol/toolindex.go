package mcpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
)

const defaultCacheTTL = 3600 * time.Second

// ToolIndexEntry is one tool's entry in the index: which server owns it,
// how to call it, and metadata used for tagging and cost-aware selection.
type ToolIndexEntry struct {
	ServerID     string         `json:"server_id"`
	ToolName     string         `json:"tool_name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"input_schema"`
	Tags         []string       `json:"tags"`
	Blocking     bool           `json:"blocking"`
	CostEstimate string         `json:"cost_estimate"`
	LastUpdated  time.Time      `json:"last_updated"`
}

// LocalToolManifest is the shape of a TOML-defined local (in-process) tool,
// loaded at ToolIndex construction time so capabilities that aren't behind
// an MCP server (e.g. an RAG search, a web search) still appear in the
// index under a "local-*" server id.
type LocalToolManifest struct {
	ServerID     string         `toml:"server_id"`
	ToolName     string         `toml:"tool_name"`
	Description  string         `toml:"description"`
	InputSchema  map[string]any `toml:"input_schema"`
	Tags         []string       `toml:"tags"`
	Blocking     bool           `toml:"blocking"`
	CostEstimate string         `toml:"cost_estimate"`
}

// ToolIndex maintains a stable view of every tool known to the system,
// whether backed by a remote MCP server or a local in-process manifest.
type ToolIndex struct {
	Version string

	logger *slog.Logger

	mu       sync.RWMutex
	tools    map[string]ToolIndexEntry
	lastSync time.Time
}

// NewToolIndex builds an empty index and registers any local tool
// manifests found under manifestDir (each a *.toml file matching
// LocalToolManifest). A missing directory is not an error.
func NewToolIndex(manifestDir string, logger *slog.Logger) (*ToolIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx := &ToolIndex{
		Version: "1.0.0",
		logger:  logger.With("component", "tool_index"),
		tools:   make(map[string]ToolIndexEntry),
	}
	if manifestDir != "" {
		if err := idx.registerLocalTools(manifestDir); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (idx *ToolIndex) registerLocalTools(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read local tool manifest dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		var manifest LocalToolManifest
		path := filepath.Join(dir, e.Name())
		if _, err := toml.DecodeFile(path, &manifest); err != nil {
			return fmt.Errorf("decode local tool manifest %s: %w", path, err)
		}
		if manifest.CostEstimate == "" {
			manifest.CostEstimate = "low"
		}
		entry := ToolIndexEntry{
			ServerID:     manifest.ServerID,
			ToolName:     manifest.ToolName,
			Description:  manifest.Description,
			InputSchema:  manifest.InputSchema,
			Tags:         manifest.Tags,
			Blocking:     manifest.Blocking,
			CostEstimate: manifest.CostEstimate,
			LastUpdated:  time.Now(),
		}
		idx.tools[entry.ToolName] = entry
		idx.logger.Info("registered local tool", "tool_name", entry.ToolName, "server_id", entry.ServerID)
	}
	return nil
}

// SyncFromServers refreshes the index from every connected server in
// parallel, bounded to avoid overwhelming a large fleet of MCP servers.
// Per-server failures are logged and skipped; they never abort the sync.
func (idx *ToolIndex) SyncFromServers(ctx context.Context, connections map[string]*Connection) {
	idx.logger.Info("starting sync", "server_count", len(connections))

	type syncResult struct {
		serverID string
		entries  []ToolIndexEntry
		err      error
	}

	results := make([]syncResult, 0, len(connections))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(5)

	for serverID, conn := range connections {
		serverID, conn := serverID, conn
		g.Go(func() error {
			if conn.State() != StateReady {
				mu.Lock()
				results = append(results, syncResult{serverID: serverID})
				mu.Unlock()
				return nil
			}

			tools, err := conn.ListTools(gctx)
			if err != nil {
				mu.Lock()
				results = append(results, syncResult{serverID: serverID, err: err})
				mu.Unlock()
				return nil
			}

			entries := make([]ToolIndexEntry, 0, len(tools))
			for _, t := range tools {
				entries = append(entries, ToolIndexEntry{
					ServerID:     serverID,
					ToolName:     t.Name,
					Description:  t.Description,
					InputSchema:  schemaToMap(t.InputSchema),
					Tags:         extractTags(t.Description),
					Blocking:     false,
					CostEstimate: "medium",
					LastUpdated:  time.Now(),
				})
			}
			mu.Lock()
			results = append(results, syncResult{serverID: serverID, entries: entries})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	idx.mu.Lock()
	synced := 0
	successful := 0
	for _, r := range results {
		if r.err != nil {
			idx.logger.Warn("sync from server failed", "server_id", r.serverID, "error", r.err)
			continue
		}
		if r.entries == nil {
			idx.logger.Debug("sync skipped, not connected", "server_id", r.serverID)
			continue
		}
		for _, e := range r.entries {
			idx.tools[e.ToolName] = e
			synced++
		}
		successful++
	}
	idx.lastSync = time.Now()
	idx.mu.Unlock()

	idx.logger.Info("sync complete", "successful_servers", successful, "total_servers", len(connections), "tools_indexed", synced)
	if len(connections) > 0 && synced == 0 {
		idx.logger.Warn("no tools retrieved from any connected server")
	}
}

// schemaToMap normalizes an MCP tool's typed input schema into the plain
// map[string]any shape the index, router, and JSON persistence expect.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func extractTags(description string) []string {
	desc := strings.ToLower(description)
	var tags []string
	if strings.Contains(desc, "email") || strings.Contains(desc, "notify") || strings.Contains(desc, "notification") {
		tags = append(tags, "notification")
	}
	if strings.Contains(desc, "emergency") || strings.Contains(desc, "alert") {
		tags = append(tags, "emergency")
	}
	if strings.Contains(desc, "navigate") || strings.Contains(desc, "route") || strings.Contains(desc, "map") {
		tags = append(tags, "navigation")
	}
	if strings.Contains(desc, "camera") || strings.Contains(desc, "photo") || strings.Contains(desc, "snapshot") || strings.Contains(desc, "vision") {
		tags = append(tags, "perception")
	}
	return tags
}

type persistedIndex struct {
	Version  string           `json:"version"`
	LastSync *time.Time       `json:"last_sync"`
	Servers  []persistedServer `json:"servers"`
}

type persistedServer struct {
	ServerID string           `json:"server_id"`
	Tools    []persistedTool  `json:"tools"`
}

type persistedTool struct {
	ToolName     string         `json:"tool_name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"input_schema"`
	Tags         []string       `json:"tags"`
	Blocking     bool           `json:"blocking"`
	CostEstimate string         `json:"cost_estimate"`
}

// SaveToFile persists the index to path, grouped by server id.
func (idx *ToolIndex) SaveToFile(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	grouped := make(map[string]*persistedServer)
	var order []string
	for _, e := range idx.tools {
		s, ok := grouped[e.ServerID]
		if !ok {
			s = &persistedServer{ServerID: e.ServerID}
			grouped[e.ServerID] = s
			order = append(order, e.ServerID)
		}
		s.Tools = append(s.Tools, persistedTool{
			ToolName:     e.ToolName,
			Description:  e.Description,
			InputSchema:  e.InputSchema,
			Tags:         e.Tags,
			Blocking:     e.Blocking,
			CostEstimate: e.CostEstimate,
		})
	}

	data := persistedIndex{Version: idx.Version}
	if !idx.lastSync.IsZero() {
		ls := idx.lastSync
		data.LastSync = &ls
	}
	for _, id := range order {
		data.Servers = append(data.Servers, *grouped[id])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create tool index dir: %w", err)
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tool index: %w", err)
	}
	return os.WriteFile(path, raw, 0o640)
}

// LoadFromFile replaces the index's contents with what's persisted at
// path. A missing file is not an error; the index is simply left empty.
func (idx *ToolIndex) LoadFromFile(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read tool index: %w", err)
	}

	var data persistedIndex
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse tool index: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.Version = data.Version
	if idx.Version == "" {
		idx.Version = "1.0.0"
	}
	if data.LastSync != nil {
		idx.lastSync = *data.LastSync
	}
	idx.tools = make(map[string]ToolIndexEntry)
	for _, s := range data.Servers {
		for _, t := range s.Tools {
			idx.tools[t.ToolName] = ToolIndexEntry{
				ServerID:     s.ServerID,
				ToolName:     t.ToolName,
				Description:  t.Description,
				InputSchema:  t.InputSchema,
				Tags:         t.Tags,
				Blocking:     t.Blocking,
				CostEstimate: t.CostEstimate,
			}
		}
	}
	return nil
}

// IsCacheValid reports whether the index's last sync is still within ttl.
// ttl == 0 means "always valid" (used by tests); ttl < 0 falls back to the
// default TTL as an invalid-config guard.
func (idx *ToolIndex) IsCacheValid(ttl time.Duration) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.lastSync.IsZero() {
		return false
	}
	if len(idx.tools) == 0 {
		return false
	}
	if ttl == 0 {
		return true
	}
	if ttl < 0 {
		ttl = defaultCacheTTL
	}
	return time.Since(idx.lastSync) < ttl
}

// ShouldSync decides whether the index needs a fresh sync before use.
func (idx *ToolIndex) ShouldSync(cachePath string, ttl time.Duration, forceRefresh bool) bool {
	if forceRefresh {
		return true
	}
	if _, err := os.Stat(cachePath); os.IsNotExist(err) {
		return true
	}
	return !idx.IsCacheValid(ttl)
}

// AllTools returns every indexed tool.
func (idx *ToolIndex) AllTools() []ToolIndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]ToolIndexEntry, 0, len(idx.tools))
	for _, e := range idx.tools {
		out = append(out, e)
	}
	return out
}

// ToolsByTag returns every indexed tool carrying the given tag.
func (idx *ToolIndex) ToolsByTag(tag string) []ToolIndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []ToolIndexEntry
	for _, e := range idx.tools {
		for _, t := range e.Tags {
			if t == tag {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// ServerByTool returns the server id owning toolName, or "" if unknown.
func (idx *ToolIndex) ServerByTool(toolName string) string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tools[toolName].ServerID
}

// ToolEntry returns the entry for toolName and whether it exists.
func (idx *ToolIndex) ToolEntry(toolName string) (ToolIndexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.tools[toolName]
	return e, ok
}
