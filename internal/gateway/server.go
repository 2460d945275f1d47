// Package gateway implements the daemon's ingress/egress surface: the /ws
// and /ws/logs WebSocket endpoints, the HTTP API of spec §6, and the
// outbound ChannelConnector registry of spec §4.9.
package gateway

import (
	"log/slog"
	"time"

	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/scheduler"
	"github.com/haasonsaas/nexus/internal/slashcmd"
)

// Server owns every shared dependency the gateway's WebSocket and HTTP
// surfaces read from: the inbound bus, the event/log hubs, the slash
// registry, the outbound connector registry, and the live config.
type Server struct {
	Config     *config.Config
	ConfigPath string
	Bus        *bus.Bus
	Hub        *Hub
	LogHub     *LogHub
	Slash      *slashcmd.Registry
	Connectors *ConnectorRegistry
	Logger     *slog.Logger

	// Scheduler is optional: when set, /api/cron/jobs/:id/update registers
	// the job on the live cron engine in addition to persisting it.
	Scheduler *scheduler.Scheduler

	startedAt time.Time
	commands  chan forwardedCommand
}

// NewServer wires a Server from its required dependencies. commandBuffer
// sizes the internal commands channel the WebSocket read loops feed and
// the command forwarder drains; 0 uses a sane default.
func NewServer(cfg *config.Config, configPath string, b *bus.Bus, hub *Hub, logHub *LogHub, slash *slashcmd.Registry, connectors *ConnectorRegistry, logger *slog.Logger, commandBuffer int) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if commandBuffer <= 0 {
		commandBuffer = 64
	}
	return &Server{
		Config:     cfg,
		ConfigPath: configPath,
		Bus:        b,
		Hub:        hub,
		LogHub:     logHub,
		Slash:      slash,
		Connectors: connectors,
		Logger:     logger,
		startedAt:  time.Now(),
		commands:   make(chan forwardedCommand, commandBuffer),
	}
}
