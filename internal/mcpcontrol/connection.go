// Package mcpcontrol implements the control plane for external MCP tool
// servers: connection lifecycle, the tool index, and the LLM-function-
// calling router that picks a tool for a given goal.
package mcpcontrol

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// ConnectionState is the lifecycle state of an MCP connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateReady        ConnectionState = "ready"
	StateError        ConnectionState = "error"
)

const (
	connectTimeout    = 10 * time.Second
	initTimeout       = 10 * time.Second
	healthTimeout     = 5 * time.Second
	defaultCallTimeout = 60 * time.Second
	maxHealthFailures = 3
)

// CallResult is the normalized envelope every tool call returns, mirroring
// the wire shape external callers and the Router both expect.
type CallResult struct {
	Success bool           `json:"success"`
	Result  *ToolOutput    `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ToolOutput is the normalized body of a successful tool call.
type ToolOutput struct {
	Content any            `json:"content"`
	IsError bool           `json:"isError"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Connection manages one MCP server's streaming-HTTP session: connect,
// health-check, and call-tool, all state-gated.
type Connection struct {
	ServerID string
	URL      string
	Timeout  time.Duration
	Headers  map[string]string

	logger *slog.Logger

	mu                 sync.Mutex
	state              ConnectionState
	client             *client.Client
	healthCheckFailures int
}

// NewConnection builds a disconnected Connection for serverID at url.
func NewConnection(serverID, rawURL string, timeout time.Duration, headers map[string]string, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Connection{
		ServerID: serverID,
		URL:      rawURL,
		Timeout:  timeout,
		Headers:  headers,
		logger:   logger.With("component", "mcp_connection", "server_id", serverID),
		state:    StateDisconnected,
	}
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect validates the URL, opens a streaming-HTTP MCP session, and
// initializes it. Returns an error describing which stage failed; the
// connection transitions to StateError on any failure and StateReady on
// success.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()

	parsed, err := url.Parse(c.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		c.setError()
		return fmt.Errorf("invalid MCP server URL %q: must be http(s)://", c.URL)
	}

	cli, err := client.NewStreamableHttpClient(c.URL, client.WithHTTPHeaders(c.Headers))
	if err != nil {
		c.setError()
		return fmt.Errorf("build streamable-http client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := cli.Start(connectCtx); err != nil {
		c.setError()
		return fmt.Errorf("start MCP session (check the server is reachable at %s): %w", c.URL, err)
	}

	initCtx, initCancel := context.WithTimeout(ctx, initTimeout)
	defer initCancel()
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "homeagent", Version: "1.0.0"}
	if _, err := cli.Initialize(initCtx, initReq); err != nil {
		_ = cli.Close()
		c.setError()
		return fmt.Errorf("initialize MCP session (server may not speak MCP): %w", err)
	}

	c.mu.Lock()
	c.client = cli
	c.state = StateReady
	c.healthCheckFailures = 0
	c.mu.Unlock()
	c.logger.Info("connected")
	return nil
}

func (c *Connection) setError() {
	c.mu.Lock()
	c.state = StateError
	c.mu.Unlock()
}

// Close tears down the session and resets to Disconnected.
func (c *Connection) Close() error {
	c.mu.Lock()
	cli := c.client
	c.client = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if cli != nil {
		return cli.Close()
	}
	return nil
}

// Reconnect closes then re-opens the session.
func (c *Connection) Reconnect(ctx context.Context) error {
	_ = c.Close()
	return c.Connect(ctx)
}

// HealthCheck probes the connection with a ListTools call. After
// maxHealthFailures consecutive failures it marks the connection Error.
func (c *Connection) HealthCheck(ctx context.Context) bool {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return false
	}
	cli := c.client
	c.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if _, err := cli.ListTools(hctx, mcp.ListToolsRequest{}); err != nil {
		c.mu.Lock()
		c.healthCheckFailures++
		failures := c.healthCheckFailures
		if failures >= maxHealthFailures {
			c.state = StateError
		}
		c.mu.Unlock()
		c.logger.Warn("health check failed", "error", err, "failures", failures, "max", maxHealthFailures)
		return false
	}

	c.mu.Lock()
	c.healthCheckFailures = 0
	c.mu.Unlock()
	return true
}

// ListTools returns the remote server's advertised tools. Returns an error
// if the connection isn't ready.
func (c *Connection) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	c.mu.Lock()
	if c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("connection not ready (state: %s)", state)
	}
	cli := c.client
	c.mu.Unlock()

	resp, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// CallTool invokes toolName on the remote server with arguments, returning
// the normalized CallResult envelope. It never returns a Go error for
// ordinary tool failures; those come back as CallResult.Success == false.
func (c *Connection) CallTool(ctx context.Context, toolName string, arguments map[string]any) *CallResult {
	c.mu.Lock()
	state := c.state
	cli := c.client
	c.mu.Unlock()

	if state != StateReady || cli == nil {
		return &CallResult{Success: false, Error: fmt.Sprintf("connection not ready (state: %s)", state)}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = arguments

	result, err := cli.CallTool(callCtx, req)
	if err != nil {
		if callCtx.Err() != nil {
			return &CallResult{Success: false, Error: fmt.Sprintf("tool call timeout after %s", c.Timeout)}
		}
		return &CallResult{Success: false, Error: err.Error()}
	}

	return &CallResult{Success: true, Result: serializeCallToolResult(result)}
}

func serializeCallToolResult(result *mcp.CallToolResult) *ToolOutput {
	if result == nil {
		return &ToolOutput{Content: "", IsError: false}
	}
	var sb strings.Builder
	for i, block := range result.Content {
		if tc, ok := mcp.AsTextContent(block); ok {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(tc.Text)
		}
	}
	out := &ToolOutput{Content: sb.String(), IsError: result.IsError}
	return out
}
