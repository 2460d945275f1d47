package gateway

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/slashcmd"
)

func TestParseCommand_JSONEnvelope(t *testing.T) {
	cmd, target := parseCommand(`{"command":"/status","target_agent":"bot-a"}`)
	if cmd != "/status" || target != "bot-a" {
		t.Fatalf("unexpected parse: cmd=%q target=%q", cmd, target)
	}
}

func TestParseCommand_JSONEnvelopeWithoutTarget(t *testing.T) {
	cmd, target := parseCommand(`{"command":"hello"}`)
	if cmd != "hello" || target != defaultTargetAgent {
		t.Fatalf("unexpected parse: cmd=%q target=%q", cmd, target)
	}
}

func TestParseCommand_RawTextFallsBackToDefault(t *testing.T) {
	cmd, target := parseCommand("plain text, not json")
	if cmd != "plain text, not json" || target != defaultTargetAgent {
		t.Fatalf("unexpected parse: cmd=%q target=%q", cmd, target)
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	home := t.TempDir()
	cfg := &config.Config{
		Home: home,
		Agents: []config.AgentConfig{
			{ID: "a1", Name: "Agent One", IsDefault: true},
		},
	}
	registry := slashcmd.NewRegistry()
	slashcmd.RegisterBuiltins(registry)
	return NewServer(cfg, filepath.Join(home, "config.yaml"), bus.New(bus.MinCapacity), NewHub(MinHubCapacityForTest), NewLogHub(MinHubCapacityForTest), registry, NewConnectorRegistry(), nil, 8)
}

func TestHandleForwarded_SlashCommandDispatchesToRegistry(t *testing.T) {
	s := newTestServer(t)
	sub := s.Hub.Subscribe()
	defer sub.Close()

	ctx := context.Background()
	s.handleForwarded(ctx, `{"command":"/status","target_agent":"a1"}`)

	var gotForwarded, gotResponse bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.Recv:
			switch ev.Type {
			case EventGatewayCommandForwarded:
				gotForwarded = true
			case EventSlashResponse:
				gotResponse = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	if !gotForwarded || !gotResponse {
		t.Fatalf("expected both gateway_command_forwarded and slash_response, got forwarded=%v response=%v", gotForwarded, gotResponse)
	}
}

func TestHandleForwarded_PlainTextPublishesToBus(t *testing.T) {
	s := newTestServer(t)
	busSub := s.Bus.Subscribe()
	defer busSub.Close()

	s.handleForwarded(context.Background(), "hello there")

	select {
	case env := <-busSub.Recv:
		if env.Message == nil || env.Message.Content != "hello there" || env.Message.Channel != wsClientChannel {
			t.Fatalf("unexpected envelope: %#v", env.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bus delivery")
	}
}

func TestResolveAgentID_FallsBackToDefaultAgent(t *testing.T) {
	s := newTestServer(t)
	if got := s.resolveAgentID("default"); got != "a1" {
		t.Fatalf("expected a1, got %q", got)
	}
	if got := s.resolveAgentID("unknown-agent"); got != "a1" {
		t.Fatalf("expected fallback to a1 for unknown target, got %q", got)
	}
	if got := s.resolveAgentID("a1"); got != "a1" {
		t.Fatalf("expected explicit a1 to pass through, got %q", got)
	}
}

func TestHandleForwarded_SlashErrorOnUnknownCommand(t *testing.T) {
	s := newTestServer(t)
	sub := s.Hub.Subscribe()
	defer sub.Close()

	s.handleForwarded(context.Background(), "/does-not-exist")

	var gotErr bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.Recv:
			if ev.Type == EventSlashError {
				gotErr = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for slash_error")
		}
	}
	if !gotErr {
		t.Fatal("expected a slash_error event for an unknown command")
	}
}

func TestMostRecentSession_PicksNewestFile(t *testing.T) {
	workspace := t.TempDir()
	sessionsDir := filepath.Join(workspace, "sessions")
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	old := filepath.Join(sessionsDir, "old.jsonl")
	newer := filepath.Join(sessionsDir, "new.jsonl")
	if err := os.WriteFile(old, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newer, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	id, ok := mostRecentSession(workspace)
	if !ok || id != "new" {
		t.Fatalf("expected new, got id=%q ok=%v", id, ok)
	}
}
