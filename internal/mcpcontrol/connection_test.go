package mcpcontrol

import (
	"context"
	"testing"
	"time"
)

func TestNewConnectionDefaults(t *testing.T) {
	conn := NewConnection("ha", "https://example.invalid", 0, nil, nil)
	if conn.Timeout != defaultCallTimeout {
		t.Errorf("expected default timeout, got %s", conn.Timeout)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("expected disconnected state, got %s", conn.State())
	}
}

func TestConnectionConnectRejectsInvalidScheme(t *testing.T) {
	conn := NewConnection("ha", "ftp://example.invalid", time.Second, nil, nil)
	err := conn.Connect(context.Background())
	if err == nil {
		t.Fatal("expected error for non-http(s) scheme")
	}
	if conn.State() != StateError {
		t.Errorf("expected error state after failed connect, got %s", conn.State())
	}
}

func TestConnectionCallToolWhenNotReady(t *testing.T) {
	conn := NewConnection("ha", "https://example.invalid", time.Second, nil, nil)
	result := conn.CallTool(context.Background(), "turn_on_light", nil)
	if result.Success {
		t.Fatal("expected failure when connection is not ready")
	}
	if result.Error == "" {
		t.Error("expected an error message")
	}
}

func TestConnectionListToolsWhenNotReady(t *testing.T) {
	conn := NewConnection("ha", "https://example.invalid", time.Second, nil, nil)
	_, err := conn.ListTools(context.Background())
	if err == nil {
		t.Fatal("expected error when connection is not ready")
	}
}

func TestConnectionHealthCheckWhenNotReady(t *testing.T) {
	conn := NewConnection("ha", "https://example.invalid", time.Second, nil, nil)
	if conn.HealthCheck(context.Background()) {
		t.Fatal("expected health check to fail when not ready")
	}
}

func TestConnectionCloseWithoutConnectIsNoop(t *testing.T) {
	conn := NewConnection("ha", "https://example.invalid", time.Second, nil, nil)
	if err := conn.Close(); err != nil {
		t.Errorf("expected no-op close to succeed, got %v", err)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("expected disconnected state, got %s", conn.State())
	}
}
