package slashcmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/nexus/internal/scheduler"
	"github.com/haasonsaas/nexus/internal/sessionstore"
	"github.com/haasonsaas/nexus/pkg/models"
)

func testRegistry() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}

func newTestCtx(t *testing.T) Context {
	t.Helper()
	home := t.TempDir()
	agentRoot := filepath.Join(home, "agents", "a1")
	workspace := filepath.Join(agentRoot, "workspace")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(home, "config.yaml")
	yamlBody := "home: " + home + "\nagents:\n  - id: a1\n    name: Agent One\n"
	if err := os.WriteFile(configPath, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}
	return Context{
		AgentID:    "a1",
		AgentRoot:  agentRoot,
		Workspace:  workspace,
		Channel:    "tui",
		ConfigPath: configPath,
		Home:       home,
	}
}

func TestHandleNew_CreatesAndSwitchesCurrentSession(t *testing.T) {
	r := testRegistry()
	cctx := newTestCtx(t)

	resp, err := r.Dispatch(context.Background(), "tui", "/new", cctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(resp.Text, "new session started: sess_") {
		t.Fatalf("unexpected response: %q", resp.Text)
	}
	id := strings.TrimPrefix(resp.Text, "new session started: ")

	store := sessionstore.New(cctx.Workspace)
	current, err := store.LoadCurrent()
	if err != nil {
		t.Fatal(err)
	}
	if current != id {
		t.Fatalf("expected current session %q, got %q", id, current)
	}
}

func TestHandleNew_AppendsGlobalIndex(t *testing.T) {
	r := testRegistry()
	cctx := newTestCtx(t)
	resp, err := r.Dispatch(context.Background(), "tui", "/new", cctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := strings.TrimPrefix(resp.Text, "new session started: ")

	data, err := os.ReadFile(filepath.Join(cctx.Home, "sessions", "index.jsonl"))
	if err != nil {
		t.Fatalf("read global index: %v", err)
	}
	if !strings.Contains(string(data), id) {
		t.Fatalf("expected global index to contain %q, got %q", id, data)
	}
}

func TestHandleEnd_NoActiveSession(t *testing.T) {
	r := testRegistry()
	cctx := newTestCtx(t)
	resp, err := r.Dispatch(context.Background(), "tui", "/end", cctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "no active session" {
		t.Fatalf("unexpected response: %q", resp.Text)
	}
}

func TestHandleEnd_ClearsCurrentSession(t *testing.T) {
	r := testRegistry()
	cctx := newTestCtx(t)
	store := sessionstore.New(cctx.Workspace)
	if err := store.SetCurrent("sess_abc"); err != nil {
		t.Fatal(err)
	}
	resp, err := r.Dispatch(context.Background(), "tui", "/end", cctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "session ended" {
		t.Fatalf("unexpected response: %q", resp.Text)
	}
	current, err := store.LoadCurrent()
	if err != nil {
		t.Fatal(err)
	}
	if current != "" {
		t.Fatalf("expected cleared current session, got %q", current)
	}
}

func TestHandleSwitchSession_RequiresArg(t *testing.T) {
	r := testRegistry()
	cctx := newTestCtx(t)
	resp, err := r.Dispatch(context.Background(), "tui", "/switch_session", cctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "usage: /switch_session <id>" {
		t.Fatalf("unexpected response: %q", resp.Text)
	}
}

func TestHandleListSessions_ListsJSONLFilesOnly(t *testing.T) {
	r := testRegistry()
	cctx := newTestCtx(t)
	sessionsDir := filepath.Join(cctx.Workspace, "sessions")
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"sess_a.jsonl", "sess_a.receipts.jsonl", "sess_b.jsonl"} {
		if err := os.WriteFile(filepath.Join(sessionsDir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := r.Dispatch(context.Background(), "tui", "/list_sessions", cctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resp.Text, "sess_a") || !strings.Contains(resp.Text, "sess_b") {
		t.Fatalf("expected both sessions listed, got %q", resp.Text)
	}
	if strings.Contains(resp.Text, "receipts") {
		t.Fatalf("receipts sidecar leaked into listing: %q", resp.Text)
	}
}

func TestHandleAgents_ListsSiblingAgentDirs(t *testing.T) {
	r := testRegistry()
	cctx := newTestCtx(t)
	agentsRoot := filepath.Dir(cctx.AgentRoot)
	if err := os.MkdirAll(filepath.Join(agentsRoot, "a2"), 0o755); err != nil {
		t.Fatal(err)
	}
	resp, err := r.Dispatch(context.Background(), "tui", "/agents", cctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resp.Text, "a1") || !strings.Contains(resp.Text, "a2") {
		t.Fatalf("expected both agents listed, got %q", resp.Text)
	}
}

func TestHandleSetModel_PersistsToConfig(t *testing.T) {
	r := testRegistry()
	cctx := newTestCtx(t)
	resp, err := r.Dispatch(context.Background(), "tui", "/set-model gpt-5", cctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "model set to: gpt-5" {
		t.Fatalf("unexpected response: %q", resp.Text)
	}
	data, err := os.ReadFile(cctx.ConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "gpt-5") {
		t.Fatalf("expected config to persist model, got %q", data)
	}
}

func TestHandleStatus_ReportsSessionAndModel(t *testing.T) {
	r := testRegistry()
	cctx := newTestCtx(t)
	store := sessionstore.New(cctx.Workspace)
	if err := store.SetCurrent("sess_xyz"); err != nil {
		t.Fatal(err)
	}
	resp, err := r.Dispatch(context.Background(), "tui", "/status", cctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resp.Text, "sess_xyz") || !strings.Contains(resp.Text, "agent: a1") {
		t.Fatalf("unexpected status text: %q", resp.Text)
	}
}

func TestHandleHeartbeat_NoDataFound(t *testing.T) {
	r := testRegistry()
	cctx := newTestCtx(t)
	resp, err := r.Dispatch(context.Background(), "tui", "/heartbeat", cctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resp.Text, "no heartbeat data found") {
		t.Fatalf("unexpected response: %q", resp.Text)
	}
}

func TestHandleHeartbeat_ReportsStatusFromFile(t *testing.T) {
	r := testRegistry()
	cctx := newTestCtx(t)
	writeHeartbeatStatus(t, cctx.AgentRoot, models.HeartbeatStatus{
		AgentID: "a1",
		Health:  models.HeartbeatOK,
	})
	resp, err := r.Dispatch(context.Background(), "tui", "/heartbeat", cctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resp.Text, "a1") || !strings.Contains(resp.Text, "OK") {
		t.Fatalf("unexpected response: %q", resp.Text)
	}
}

func TestHandleCron_ListEmpty(t *testing.T) {
	r := testRegistry()
	cctx := newTestCtx(t)
	resp, err := r.Dispatch(context.Background(), "tui", "/cron", cctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "no cron jobs found" {
		t.Fatalf("unexpected response: %q", resp.Text)
	}
}

func TestHandleCron_DeleteUsesNameAtAgentSplit(t *testing.T) {
	r := testRegistry()
	cctx := newTestCtx(t)
	writeCronJobs(t, cctx.AgentRoot, []models.PersistedCronJob{
		{AgentID: "a1", Name: "daily", Schedule: "0 9 * * *"},
	})
	resp, err := r.Dispatch(context.Background(), "tui", "/cron delete daily@a1", cctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "deleted cron job: daily@a1" {
		t.Fatalf("unexpected response: %q", resp.Text)
	}
	jobs, err := scheduler.ReadCronJobs(cctx.AgentRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected job removed, got %#v", jobs)
	}
}

func TestHandleHelp_ListsEveryBuiltin(t *testing.T) {
	r := testRegistry()
	cctx := newTestCtx(t)
	resp, err := r.Dispatch(context.Background(), "tui", "/help", cctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{"/new", "/end", "/session", "/status", "/cron", "/heartbeat"} {
		if !strings.Contains(resp.Text, name) {
			t.Fatalf("expected help to mention %s, got %q", name, resp.Text)
		}
	}
}

func writeHeartbeatStatus(t *testing.T, agentRoot string, status models.HeartbeatStatus) {
	t.Helper()
	if err := os.MkdirAll(agentRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(status)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(agentRoot, "heartbeat_status.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeCronJobs(t *testing.T, agentRoot string, jobs []models.PersistedCronJob) {
	t.Helper()
	if err := os.MkdirAll(agentRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(jobs)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(agentRoot, "cron_jobs.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
}
