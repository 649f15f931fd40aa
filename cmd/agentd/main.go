// Command agentd is the composition root of the home agent runtime: it
// loads configuration, wires the MCP control plane, the LLM client, the
// task executors, and the agent facade, then starts the task loop and
// patrol trigger and blocks until signaled to stop.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/srprobotics/homeagent/internal/action/builtin"
	"github.com/srprobotics/homeagent/internal/agent"
	"github.com/srprobotics/homeagent/internal/audit"
	"github.com/srprobotics/homeagent/internal/config"
	"github.com/srprobotics/homeagent/internal/dispatcher"
	"github.com/srprobotics/homeagent/internal/executors"
	"github.com/srprobotics/homeagent/internal/llmclient"
	"github.com/srprobotics/homeagent/internal/mcpcontrol"
)

func main() {
	configPath := flag.String("config", "./config.json", "path to the agent config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config, using defaults", "path", *configPath, "error", err)
		cfg = config.DefaultConfig()
	}

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.Server.LogLevel))
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llm := llmclient.NewOpenAIClient(cfg.Models.Model, cfg.Models.BaseURL, cfg.Models.APIKey)

	mcpServers := make([]mcpcontrol.ServerSpec, 0, len(cfg.MCP.Servers))
	for _, s := range cfg.MCP.Servers {
		mcpServers = append(mcpServers, mcpcontrol.ServerSpec{
			ServerID: s.ServerID,
			URL:      s.URL,
			Timeout:  time.Duration(s.TimeoutS) * time.Second,
			Headers:  s.Headers,
		})
	}

	manager, err := mcpcontrol.NewManager(ctx, mcpcontrol.ManagerConfig{
		Servers:              mcpServers,
		IndexCachePath:       cfg.MCP.IndexCachePath,
		LocalToolManifestDir: cfg.MCP.LocalToolManifestDir,
		CacheTTL:             time.Duration(cfg.MCP.CacheTTLSeconds) * time.Second,
		ForceRefreshOnInit:   cfg.MCP.ForceRefreshOnInit,
	}, llm, logger)
	if err != nil {
		logger.Error("failed to build MCP manager", "error", err)
		os.Exit(1)
	}
	defer manager.Close()

	var auditSink *audit.Sink
	if cfg.Server.DataDir != "" {
		dbPath := filepath.Join(cfg.Server.DataDir, "task_history.db")
		auditSink, err = audit.Open(dbPath, logger)
		if err != nil {
			logger.Warn("failed to open task audit sink, continuing without it", "error", err)
		} else {
			defer auditSink.Close()
		}
	}

	a := agent.New(agent.Config{
		MaxConcurrentTasks: cfg.Runtime.MaxConcurrentTasks,
		LoopInterval:       cfg.Runtime.LoopInterval,
		CleanupInterval:    cfg.Runtime.CleanupInterval,
		PatrolEnabled:      cfg.Patrol.Enabled,
		PatrolInterval:     cfg.Patrol.Interval,
		PatrolActionName:   cfg.Patrol.ActionName,
	}, logger)

	if auditSink != nil {
		a.Loop.AuditSink = auditSink.Record
	}

	registerDefaultActions(a, logger)

	mcpExecutor := executors.NewMcpExecutor(manager.Router, manager.Connections, nil, a.Queue, llm, logger)
	mcpExecutor.HomeContextTTL = time.Duration(cfg.MCP.HomeContextTTLSeconds) * time.Second
	mcpExecutor.EnablePlanBasedMode = cfg.MCP.EnablePlanBasedMode
	mcpExecutor.MaxPlanSteps = cfg.MCP.MaxPlanSteps
	mcpExecutor.MaxPlanRevisions = cfg.MCP.MaxPlanRevisions
	mcpExecutor.PlanVerificationMode = cfg.MCP.PlanVerificationMode

	conversationExecutor := executors.NewConversationExecutor(a, a, llm, nil, logger)
	conversationExecutor.WakeWords = cfg.Wake.WakeWords
	conversationExecutor.IdleTimeout = cfg.Wake.IdleTimeout
	conversationExecutor.MaxIdleRounds = cfg.Wake.MaxIdleRounds
	conversationExecutor.MaxHistoryLength = cfg.Wake.MaxHistoryLength

	disp := dispatcher.New(a.Queue, manager.Index, a, llm, nil, nil, logger)
	dispatcherExecutor := executors.NewDispatcherExecutor(disp, a, logger)

	a.RegisterDefaultExecutors(mcpExecutor, conversationExecutor, dispatcherExecutor)

	logger.Info("starting agent", "max_concurrent_tasks", cfg.Runtime.MaxConcurrentTasks, "patrol_enabled", cfg.Patrol.Enabled)
	a.Start(ctx)

	<-ctx.Done()
	logger.Info("shutting down")
	a.Stop()
}

func registerDefaultActions(a *agent.Agent, logger *slog.Logger) {
	if err := a.RegisterAction("speak", builtin.NewSpeak(logger), nil); err != nil {
		logger.Error("failed to register speak action", "error", err)
	}
	if err := a.RegisterAction("listen", builtin.NewListen(logger), nil); err != nil {
		logger.Error("failed to register listen action", "error", err)
	}
	if err := a.RegisterAction("watch", builtin.NewWatch(logger), nil); err != nil {
		logger.Error("failed to register watch action", "error", err)
	}
	if err := a.RegisterAction("alert", builtin.NewAlert(logger), nil); err != nil {
		logger.Error("failed to register alert action", "error", err)
	}
}
