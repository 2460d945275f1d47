package gateway

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/slashcmd"
	"github.com/haasonsaas/nexus/pkg/models"
)

// wsClientChannel is the channel name every /ws text frame is published
// under, per spec §4.9.
const wsClientChannel = "gateway:ws-client"

// defaultTargetAgent is the literal target_agent a forwarded command falls
// back to when the frame carries no explicit agent id.
const defaultTargetAgent = "default"

// forwardedCommand is one raw text frame read off a /ws connection, queued
// for the command forwarder.
type forwardedCommand struct {
	Raw string
}

type parsedCommand struct {
	Command     string `json:"command"`
	TargetAgent string `json:"target_agent"`
}

// parseCommand implements spec §4.9's forwarder parsing: JSON
// {command, target_agent} if the frame decodes that way and command is
// non-empty, otherwise the raw text verbatim addressed to "default".
func parseCommand(raw string) (command, targetAgent string) {
	var p parsedCommand
	if err := json.Unmarshal([]byte(raw), &p); err == nil && strings.TrimSpace(p.Command) != "" {
		target := p.TargetAgent
		if target == "" {
			target = defaultTargetAgent
		}
		return p.Command, target
	}
	return raw, defaultTargetAgent
}

// RunForwarder drains s.commands until ctx is cancelled, per spec §4.9:
// each forwarded frame is parsed, published as gateway_command_forwarded,
// then either intercepted through the slash registry (for "/"-prefixed
// commands) or published on the bus as an inbound envelope.
func (s *Server) RunForwarder(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fc, ok := <-s.commands:
			if !ok {
				return
			}
			s.handleForwarded(ctx, fc.Raw)
		}
	}
}

func (s *Server) handleForwarded(ctx context.Context, raw string) {
	command, targetAgent := parseCommand(raw)
	s.Hub.Publish(EventGatewayCommandForwarded, map[string]any{
		"command":      command,
		"target_agent": targetAgent,
	})

	trimmed := strings.TrimSpace(command)
	if strings.HasPrefix(trimmed, "/") {
		s.dispatchSlash(ctx, targetAgent, trimmed)
		return
	}

	agentID := targetAgent
	if agentID == defaultTargetAgent {
		agentID = ""
	}
	s.Bus.Send(&models.InboundEnvelope{
		AgentID:    agentID,
		Channel:    wsClientChannel,
		Author:     "ws-client",
		Content:    command,
		TimestampS: time.Now().Unix(),
	})
}

func (s *Server) dispatchSlash(ctx context.Context, targetAgent, raw string) {
	agentID := s.resolveAgentID(targetAgent)
	if agentID == "" {
		s.Hub.Publish(EventSlashError, map[string]any{"error": "no agent available to handle " + raw})
		return
	}
	cctx := s.slashContext(agentID)
	resp, err := s.Slash.Dispatch(ctx, wsClientChannel, raw, cctx)
	if err != nil {
		s.Hub.Publish(EventSlashError, map[string]any{"agent_id": agentID, "error": err.Error()})
		return
	}
	s.Hub.Publish(EventSlashResponse, map[string]any{"agent_id": agentID, "text": resp.Text})
}

// resolveAgentID maps a forwarded frame's target_agent to a configured
// agent id: an explicit id passes through if known, "default" (or an
// unknown id) falls back to the config's default agent, or the sole
// configured agent when none is marked default.
func (s *Server) resolveAgentID(targetAgent string) string {
	if targetAgent != "" && targetAgent != defaultTargetAgent && s.Config.AgentByID(targetAgent) != nil {
		return targetAgent
	}
	for _, a := range s.Config.Agents {
		if a.IsDefault {
			return a.ID
		}
	}
	if len(s.Config.Agents) == 1 {
		return s.Config.Agents[0].ID
	}
	return ""
}

func (s *Server) slashContext(agentID string) slashcmd.Context {
	root := s.Config.AgentWorkspace(agentID)
	return slashcmd.Context{
		AgentID:    agentID,
		AgentRoot:  root,
		Workspace:  filepath.Join(root, "workspace"),
		Channel:    wsClientChannel,
		ConfigPath: s.ConfigPath,
		Home:       s.Config.Home,
	}
}
