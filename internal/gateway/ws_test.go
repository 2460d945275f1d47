package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/slashcmd"
)

func newWSTestServer(t *testing.T) (*Server, *httptest.Server) {
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
	s := NewServer(cfg, filepath.Join(home, "config.yaml"), bus.New(bus.MinCapacity), NewHub(MinHubCapacityForTest), NewLogHub(MinHubCapacityForTest), registry, NewConnectorRegistry(), nil, 8)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return s, srv
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func TestHandleWS_SendsAgentListThenReplaysAndStreamsEvents(t *testing.T) {
	s, srv := newWSTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL, "/ws"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var agentList Event
	if err := readEvent(ctx, conn, &agentList); err != nil {
		t.Fatal(err)
	}
	if agentList.Type != EventAgentList {
		t.Fatalf("expected first frame to be agent_list, got %q", agentList.Type)
	}
	ids, ok := agentList.Payload["agent_ids"].([]any)
	if !ok || len(ids) != 1 || ids[0] != "a1" {
		t.Fatalf("unexpected agent_ids payload: %#v", agentList.Payload)
	}

	s.Hub.Emit(EventHeartbeat, map[string]any{"agent_id": "a1"})

	var streamed Event
	if err := readEvent(ctx, conn, &streamed); err != nil {
		t.Fatal(err)
	}
	if streamed.Type != EventHeartbeat {
		t.Fatalf("expected heartbeat event to stream through, got %#v", streamed)
	}
}

func TestHandleWS_ReplaysMostRecentSession(t *testing.T) {
	s, srv := newWSTestServer(t)
	workspace := filepath.Join(s.Config.AgentWorkspace("a1"), "workspace")
	sessionsDir := filepath.Join(workspace, "sessions")
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	line := `{"timestamp_ms":1,"role":"user","content":"hi"}` + "\n"
	if err := os.WriteFile(filepath.Join(sessionsDir, "sess_1.jsonl"), []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL, "/ws"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var agentList Event
	if err := readEvent(ctx, conn, &agentList); err != nil {
		t.Fatal(err)
	}

	var replay Event
	if err := readEvent(ctx, conn, &replay); err != nil {
		t.Fatal(err)
	}
	if replay.Type != EventSessionMessage {
		t.Fatalf("expected session_message replay frame, got %q: %#v", replay.Type, replay.Payload)
	}
	if replay.Payload["session_id"] != "sess_1" {
		t.Fatalf("expected replay from sess_1, got %#v", replay.Payload)
	}
}

func TestHandleWS_ForwardsTextFrameAsCommand(t *testing.T) {
	s, srv := newWSTestServer(t)
	sub := s.Hub.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL, "/ws"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var agentList Event
	if err := readEvent(ctx, conn, &agentList); err != nil {
		t.Fatal(err)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte("hello from client")); err != nil {
		t.Fatal(err)
	}

	go s.RunForwarder(ctx)

	select {
	case ev := <-sub.Recv:
		if ev.Type != EventGatewayCommandForwarded || ev.Payload["command"] != "hello from client" {
			t.Fatalf("unexpected forwarded event: %#v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for gateway_command_forwarded event")
	}
}

func TestHandleWSLogs_ForwardsPublishedLines(t *testing.T) {
	s, srv := newWSTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL, "/ws/logs"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the server's subscribe-before-publish race a moment to settle:
	// HandleWSLogs subscribes synchronously before entering its read loop,
	// but the client connection completing doesn't guarantee that has run.
	time.Sleep(50 * time.Millisecond)
	s.LogHub.Publish([]byte(`{"level":"info","msg":"hi"}`))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"level":"info","msg":"hi"}` {
		t.Fatalf("unexpected log line: %s", data)
	}
}

func readEvent(ctx context.Context, conn *websocket.Conn, out *Event) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
