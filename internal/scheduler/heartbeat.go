package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

const defaultHeartbeatMessage = "heartbeat tick"

// HeartbeatConfig describes one agent's heartbeat loop.
type HeartbeatConfig struct {
	AgentID string
	// Workspace is the agent root <home>/agents/<id>, not the sandboxed
	// <agent_root>/workspace subdirectory.
	Workspace    string
	IntervalSecs int64
}

// RunHeartbeat spawns cfg's heartbeat loop in the background. It returns
// immediately; the loop stops when ctx is done or Shutdown is called. The
// first heartbeat comes one full interval after the call, so heartbeat
// sends never race workspace bootstrap.
func (s *Scheduler) RunHeartbeat(ctx context.Context, cfg HeartbeatConfig) {
	if cfg.IntervalSecs <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Duration(cfg.IntervalSecs) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.safeHeartbeatTick(cfg)
			}
		}
	}()
}

// safeHeartbeatTick isolates a panicking tick body so one bad tick never
// kills the loop or the process.
func (s *Scheduler) safeHeartbeatTick(cfg HeartbeatConfig) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.logger().Error("heartbeat tick panicked", "agent_id", cfg.AgentID, "panic", r)
			}
		}()
		if err := s.heartbeatTick(cfg); err != nil {
			s.logger().Error("heartbeat tick failed", "agent_id", cfg.AgentID, "error", err)
		}
	}()
	<-done
}

func (s *Scheduler) heartbeatTick(cfg HeartbeatConfig) error {
	message, err := readOptional(filepath.Join(cfg.Workspace, "HEARTBEAT.md"))
	if err != nil {
		return fmt.Errorf("read HEARTBEAT.md: %w", err)
	}
	if message == "" {
		message = defaultHeartbeatMessage
	}

	now := s.now()
	nowUnix := now.Unix()

	if err := os.WriteFile(filepath.Join(cfg.Workspace, "HEARTBEAT_OK"), []byte(fmt.Sprintf("%d", nowUnix)), 0o644); err != nil {
		return fmt.Errorf("write HEARTBEAT_OK: %w", err)
	}

	next := nowUnix + cfg.IntervalSecs
	interval := cfg.IntervalSecs
	status := models.HeartbeatStatus{
		AgentID:        cfg.AgentID,
		Enabled:        true,
		Health:         models.HeartbeatOK,
		LastTick:       &nowUnix,
		NextTick:       &next,
		IntervalSecs:   &interval,
		MessagePreview: truncate(message, 200),
	}
	statusBytes, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal heartbeat status: %w", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Workspace, "heartbeat_status.json"), statusBytes, 0o644); err != nil {
		return fmt.Errorf("write heartbeat_status.json: %w", err)
	}

	eventsDir := filepath.Join(cfg.Workspace, "cron_events")
	if err := os.MkdirAll(eventsDir, 0o755); err != nil {
		return fmt.Errorf("create cron_events dir: %w", err)
	}
	eventPath := filepath.Join(eventsDir, fmt.Sprintf("heartbeat_%d.json", nowUnix))
	if err := os.WriteFile(eventPath, statusBytes, 0o644); err != nil {
		return fmt.Errorf("write heartbeat event: %w", err)
	}

	if s.Bus != nil {
		if err := s.Bus.Send(&models.InboundEnvelope{
			AgentID:    cfg.AgentID,
			Channel:    "heartbeat",
			Author:     "scheduler",
			Content:    message,
			TimestampS: nowUnix,
		}); err != nil {
			return fmt.Errorf("send heartbeat envelope: %w", err)
		}
	}

	s.events().Emit("heartbeat", map[string]any{"agent_id": cfg.AgentID, "status": status})
	return nil
}

func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
