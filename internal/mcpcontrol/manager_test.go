package mcpcontrol

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/srprobotics/homeagent/internal/llmclient"
)

func TestNewManagerNoServers(t *testing.T) {
	manager, err := NewManager(context.Background(), ManagerConfig{}, &fakeLLMClient{}, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if len(manager.Connections) != 0 {
		t.Errorf("expected no connections, got %d", len(manager.Connections))
	}
	if manager.Index == nil {
		t.Fatal("expected non-nil index")
	}
	if manager.Router == nil {
		t.Fatal("expected non-nil router")
	}
	manager.Close()
}

func TestNewManagerTracksFailedConnections(t *testing.T) {
	manager, err := NewManager(context.Background(), ManagerConfig{
		Servers: []ServerSpec{{ServerID: "bad", URL: "not-a-url"}},
	}, &fakeLLMClient{}, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	conn, ok := manager.Connections["bad"]
	if !ok {
		t.Fatal("expected the failing server to still be tracked")
	}
	if conn.State() != StateError {
		t.Errorf("expected error state for unreachable server, got %s", conn.State())
	}
	manager.Close()
}

func TestNewManagerUsesLocalManifestDirForIndexCache(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(context.Background(), ManagerConfig{
		LocalToolManifestDir: dir,
	}, &fakeLLMClient{}, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	want := filepath.Join(dir, "tool_index_cache.json")
	if manager.indexCachePath != want {
		t.Errorf("expected index cache path %q, got %q", want, manager.indexCachePath)
	}
	manager.Close()
}

func TestManagerHealthCheckAllEmpty(t *testing.T) {
	manager, _ := NewManager(context.Background(), ManagerConfig{}, &fakeLLMClient{}, nil)
	results := manager.HealthCheckAll(context.Background())
	if len(results) != 0 {
		t.Errorf("expected no health check results with no connections, got %v", results)
	}
}

var _ llmclient.Client = (*fakeLLMClient)(nil)
