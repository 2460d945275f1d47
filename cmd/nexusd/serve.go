package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/channels/discord"
	"github.com/haasonsaas/nexus/internal/channels/slack"
	"github.com/haasonsaas/nexus/internal/channels/telegram"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/dispatch"
	"github.com/haasonsaas/nexus/internal/gateway"
	"github.com/haasonsaas/nexus/internal/memorystore"
	"github.com/haasonsaas/nexus/internal/scheduler"
	"github.com/haasonsaas/nexus/internal/sessionstore"
	"github.com/haasonsaas/nexus/internal/slashcmd"
	"github.com/haasonsaas/nexus/internal/toolregistry"
	"github.com/haasonsaas/nexus/internal/turn"
	"github.com/haasonsaas/nexus/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("configuration loaded", "home", cfg.Home, "agents", len(cfg.Agents), "http_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort))

	b := bus.New(cfg.Gateway.BusCapacity)
	hub := gateway.NewHub(cfg.Gateway.EventsCapacity)
	logHub := gateway.NewLogHub(cfg.Gateway.EventsCapacity)
	connectors := gateway.NewConnectorRegistry()
	connectors.Register(gateway.NewGatewayConnector(hub))
	registerChannelConnectors(connectors, cfg.Channels)

	slash := slashcmd.NewRegistry()
	slashcmd.RegisterBuiltins(slash)

	sched := scheduler.New(schedulerBus{b}, hub, slog.Default().With("component", "scheduler"))

	dispatchers, err := buildDispatchers(cfg, b, hub, connectors, sched)
	if err != nil {
		return fmt.Errorf("build dispatchers: %w", err)
	}

	server := gateway.NewServer(cfg, configPath, b, hub, logHub, slash, connectors, slog.Default().With("component", "gateway"), 64)
	server.Scheduler = sched

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go server.RunForwarder(runCtx)
	for _, d := range dispatchers {
		go d.Run(runCtx, b)
	}
	startScheduledWork(runCtx, sched, cfg)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler: server.Routes(),
	}
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	slog.Info("gateway listening", "addr", httpServer.Addr)

	select {
	case <-runCtx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("shutdown signal received, draining")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Gateway.DrainTimeoutSecs)*time.Second)
	defer shutdownCancel()

	if !dispatch.DrainAll(dispatchers, time.Duration(cfg.Gateway.DrainTimeoutSecs)*time.Second) {
		slog.Warn("drain timed out; some turns may have been interrupted")
	}
	sched.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	hub.Close()
	logHub.Close()
	slog.Info("gateway stopped")
	return nil
}

// schedulerBus adapts *bus.Bus (whose Send never errors) to scheduler.Bus.
type schedulerBus struct{ b *bus.Bus }

func (s schedulerBus) Send(msg *models.InboundEnvelope) error {
	s.b.Send(msg)
	return nil
}

// registerChannelConnectors builds and registers every channel whose bot
// token is configured, and applies the shared outbound rate limit to each.
func registerChannelConnectors(registry *gateway.ConnectorRegistry, cfg config.ChannelsConfig) {
	if cfg.Discord.BotToken != "" {
		c, err := discord.New(cfg.Discord.BotToken)
		if err != nil {
			slog.Error("discord connector disabled", "error", err)
		} else {
			registry.Register(c)
		}
	}
	if cfg.Telegram.BotToken != "" {
		c, err := telegram.New(cfg.Telegram.BotToken)
		if err != nil {
			slog.Error("telegram connector disabled", "error", err)
		} else {
			registry.Register(c)
		}
	}
	if cfg.Slack.BotToken != "" {
		registry.Register(slack.New(cfg.Slack.BotToken))
	}

	if cfg.RateLimitPerSec > 0 {
		for _, name := range []string{"discord", "telegram", "slack"} {
			registry.SetRateLimit(name, cfg.RateLimitPerSec, cfg.RateLimitBurst)
		}
	}
}

// buildDispatchers constructs one Dispatcher per configured agent, wiring
// its workspace, tool registry, session/memory stores, and turn.Engine.
func buildDispatchers(cfg *config.Config, b *bus.Bus, hub *gateway.Hub, connectors *gateway.ConnectorRegistry, sched *scheduler.Scheduler) ([]*dispatch.Dispatcher, error) {
	routing := dispatch.Routing{ChannelMap: map[string]string{}, DefaultAgent: ""}
	for _, a := range cfg.Agents {
		if a.IsDefault {
			routing.DefaultAgent = a.ID
		}
		for channel, target := range a.ChannelMap {
			routing.ChannelMap[channel] = target
		}
	}

	var dispatchers []*dispatch.Dispatcher
	for _, a := range cfg.Agents {
		agentRoot := cfg.AgentWorkspace(a.ID)
		workspaceDir := filepath.Join(agentRoot, "workspace")
		if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
			return nil, fmt.Errorf("agent %s: create workspace: %w", a.ID, err)
		}

		tools := toolregistry.New()
		registerBuiltinTools(tools, workspaceDir, cfg.Tools)

		mem, err := memorystore.Open(filepath.Join(agentRoot, "memory.db"))
		if err != nil {
			return nil, fmt.Errorf("agent %s: open memory store: %w", a.ID, err)
		}

		engine := &turn.Engine{
			AgentID:           a.ID,
			Home:              cfg.Home,
			Workspace:         workspaceDir,
			Tools:             tools,
			Sessions:          sessionstore.New(workspaceDir),
			Memory:            mem,
			Provider:          unconfiguredProvider{},
			Events:            hub,
			Logger:            slog.Default().With("component", "turn", "agent_id", a.ID),
			EnabledSkills:     nil,
			MaxToolIterations: a.MaxToolIterations,
		}

		d := dispatch.New(a.ID, a.IsDefault, routing, engine, connectors, slog.Default().With("component", "dispatch", "agent_id", a.ID))
		dispatchers = append(dispatchers, d)

		loadPersistedCronJobs(sched, a.ID, agentRoot)
	}
	return dispatchers, nil
}

// loadPersistedCronJobs registers every job already persisted to
// cron_jobs.json so a restart resumes scheduled work without requiring the
// operator to re-POST each job.
func loadPersistedCronJobs(sched *scheduler.Scheduler, agentID, agentRoot string) {
	jobs, err := scheduler.ReadCronJobs(agentRoot)
	if err != nil {
		slog.Warn("failed to read persisted cron jobs", "agent_id", agentID, "error", err)
		return
	}
	for _, job := range jobs {
		if err := sched.RegisterJob(context.Background(), scheduler.CronConfig{AgentID: agentID, Workspace: agentRoot}, job); err != nil {
			slog.Error("failed to register persisted cron job", "agent_id", agentID, "job", job.Name, "error", err)
		}
	}
}

// startScheduledWork starts each agent's heartbeat loop plus the shared
// janitor sweep.
func startScheduledWork(ctx context.Context, sched *scheduler.Scheduler, cfg *config.Config) {
	var workspaces []string
	for _, a := range cfg.Agents {
		agentRoot := cfg.AgentWorkspace(a.ID)
		workspaces = append(workspaces, agentRoot)
		sched.RunHeartbeat(ctx, scheduler.HeartbeatConfig{
			AgentID:      a.ID,
			Workspace:    agentRoot,
			IntervalSecs: int64(a.HeartbeatInterval),
		})
	}

	sched.RunJanitor(ctx, scheduler.JanitorConfig{
		Home:              cfg.Home,
		AgentWorkspaces:   workspaces,
		CronSessionExpiry: time.Duration(cfg.Scheduler.CronSessionExpiryDays) * 24 * time.Hour,
		SessionExpiry:     time.Duration(cfg.Scheduler.SessionExpiryDays) * 24 * time.Hour,
		CronEventsMaxKeep: cfg.Scheduler.CronEventsMaxKeep,
		FirstPassDelay:    time.Duration(cfg.Scheduler.JanitorFirstPassSecs) * time.Second,
		Interval:          time.Duration(cfg.Scheduler.JanitorIntervalSecs) * time.Second,
	})
}
