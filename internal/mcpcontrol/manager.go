package mcpcontrol

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/srprobotics/homeagent/internal/llmclient"
)

// ServerSpec describes one configured MCP server to connect to.
type ServerSpec struct {
	ServerID string
	URL      string
	Timeout  time.Duration
	Headers  map[string]string
}

// ManagerConfig configures Manager construction.
type ManagerConfig struct {
	Servers            []ServerSpec
	IndexCachePath     string
	LocalToolManifestDir string
	CacheTTL           time.Duration
	ForceRefreshOnInit bool
}

// Manager is the MCP control-plane facade: it owns every server Connection,
// the ToolIndex, and the Router built over them. Unlike the legacy source's
// process-wide singleton, Manager is a plain value meant to be constructed
// once and handed to whatever needs it (the Agent facade, the MCP
// Executor) as an explicit dependency.
type Manager struct {
	Connections map[string]*Connection
	Index       *ToolIndex
	Router      *Router

	indexCachePath string
	logger         *slog.Logger
}

// NewManager constructs every Connection in cfg.Servers, loads/refreshes
// the ToolIndex, and builds the Router over llm. Per-server connection
// failures are logged and tolerated: the manager proceeds with whichever
// servers succeeded, matching the legacy source's best-effort init.
func NewManager(ctx context.Context, cfg ManagerConfig, llm llmclient.Client, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "mcp_manager")

	index, err := NewToolIndex(cfg.LocalToolManifestDir, log)
	if err != nil {
		return nil, err
	}

	connections := make(map[string]*Connection, len(cfg.Servers))
	connectFailures := 0
	for _, spec := range cfg.Servers {
		conn := NewConnection(spec.ServerID, spec.URL, spec.Timeout, spec.Headers, log)
		if err := conn.Connect(ctx); err != nil {
			log.Warn("failed to connect to MCP server", "server_id", spec.ServerID, "error", err)
			connectFailures++
		}
		connections[spec.ServerID] = conn
	}

	indexPath := cfg.IndexCachePath
	if indexPath == "" && cfg.LocalToolManifestDir != "" {
		indexPath = filepath.Join(cfg.LocalToolManifestDir, "tool_index_cache.json")
	}

	if indexPath != "" {
		if err := index.LoadFromFile(indexPath); err != nil {
			log.Warn("failed to load tool index cache", "error", err)
		}
	}

	if indexPath != "" && index.ShouldSync(indexPath, cfg.CacheTTL, cfg.ForceRefreshOnInit) {
		index.SyncFromServers(ctx, connections)
		connectedAny := len(connections) > connectFailures
		if connectedAny {
			if err := index.SaveToFile(indexPath); err != nil {
				log.Warn("failed to save tool index cache", "error", err)
			}
		} else {
			log.Warn("all MCP servers failed to connect, falling back to stale cache if present")
		}
	}

	router := NewRouter(llm, index, log)

	return &Manager{
		Connections:    connections,
		Index:          index,
		Router:         router,
		indexCachePath: indexPath,
		logger:         log,
	}, nil
}

// Close tears down every connection.
func (m *Manager) Close() {
	for id, conn := range m.Connections {
		if err := conn.Close(); err != nil {
			m.logger.Warn("error closing connection", "server_id", id, "error", err)
		}
	}
}

// HealthCheckAll probes every ready connection in parallel-ish fashion (one
// goroutine per connection) and returns which ones are healthy.
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]bool {
	results := make(map[string]bool, len(m.Connections))
	done := make(chan struct {
		id string
		ok bool
	}, len(m.Connections))

	for id, conn := range m.Connections {
		id, conn := id, conn
		go func() {
			done <- struct {
				id string
				ok bool
			}{id, conn.HealthCheck(ctx)}
		}()
	}
	for range m.Connections {
		r := <-done
		results[r.id] = r.ok
	}
	return results
}
