package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/slashcmd"
	"github.com/haasonsaas/nexus/pkg/models"
)

func newHTTPTestServer(t *testing.T) (*Server, *http.ServeMux) {
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
	return s, s.Routes()
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	_, mux := newHTTPTestServer(t)
	rec := doRequest(t, mux, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	_, mux := newHTTPTestServer(t)
	rec := doRequest(t, mux, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["agents"]; !ok {
		t.Fatal("expected agents field in status response")
	}
}

func TestWithAuth_NoTokenConfiguredAllowsThrough(t *testing.T) {
	_, mux := newHTTPTestServer(t)
	rec := doRequest(t, mux, http.MethodGet, "/api/agents", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when no auth token configured, got %d", rec.Code)
	}
}

func TestWithAuth_RejectsMismatchedToken(t *testing.T) {
	s, mux := newHTTPTestServer(t)
	s.Config.Server.AuthToken = "secret"

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/agents?token=secret", nil)
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct query token, got %d", rec2.Code)
	}

	req3 := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	req3.Header.Set("Authorization", "Bearer secret")
	rec3 := httptest.NewRecorder()
	mux.ServeHTTP(rec3, req3)
	if rec3.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct bearer token, got %d", rec3.Code)
	}
}

func TestHandleAgentsCollection_PostThenGet(t *testing.T) {
	_, mux := newHTTPTestServer(t)
	rec := doRequest(t, mux, http.MethodPost, "/api/agents", config.AgentConfig{ID: "a2", Name: "Agent Two"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, http.MethodPost, "/api/agents", config.AgentConfig{ID: "a2"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate agent id, got %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/agents", nil)
	var agents []config.AgentConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &agents); err != nil {
		t.Fatal(err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
}

func TestHandleAgentsCollection_RejectsInvalidID(t *testing.T) {
	_, mux := newHTTPTestServer(t)
	rec := doRequest(t, mux, http.MethodPost, "/api/agents", config.AgentConfig{ID: "../escape"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for path-escaping agent id, got %d", rec.Code)
	}
}

func TestHandleAgentItem_GetPutDelete(t *testing.T) {
	_, mux := newHTTPTestServer(t)

	rec := doRequest(t, mux, http.MethodGet, "/api/agents/a1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodPut, "/api/agents/a1", config.AgentConfig{ID: "ignored", Name: "Renamed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated config.AgentConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatal(err)
	}
	if updated.ID != "a1" || updated.Name != "Renamed" {
		t.Fatalf("expected id to stay a1 and name to update, got %#v", updated)
	}

	rec = doRequest(t, mux, http.MethodDelete, "/api/agents/a1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/agents/a1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestHandleAgentFile_PutThenGet(t *testing.T) {
	_, mux := newHTTPTestServer(t)

	rec := doRequest(t, mux, http.MethodPut, "/api/agents/a1/files/soul", map[string]string{"content": "you are nexus"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/agents/a1/files/SOUL", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "you are nexus" {
		t.Fatalf("unexpected file content: %q", rec.Body.String())
	}
}

func TestHandleAgentFile_RejectsUnknownName(t *testing.T) {
	_, mux := newHTTPTestServer(t)
	rec := doRequest(t, mux, http.MethodGet, "/api/agents/a1/files/random", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-allowlisted file name, got %d", rec.Code)
	}
}

func TestHandleAgentSessions_ListAndFetch(t *testing.T) {
	s, mux := newHTTPTestServer(t)
	workspace := filepath.Join(s.Config.AgentWorkspace("a1"), "workspace", "sessions")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(workspace, "sess_1.jsonl"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, mux, http.MethodGet, "/api/agents/a1/sessions", nil)
	var ids []string
	if err := json.Unmarshal(rec.Body.Bytes(), &ids); err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "sess_1" {
		t.Fatalf("expected [sess_1], got %v", ids)
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/agents/a1/sessions/sess_1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, http.MethodDelete, "/api/agents/a1/sessions/sess_1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestHandleAgentSessions_RejectsPathEscapingSessionID(t *testing.T) {
	_, mux := newHTTPTestServer(t)
	rec := doRequest(t, mux, http.MethodGet, "/api/agents/a1/sessions/..%2F..%2Fetc", nil)
	if rec.Code != http.StatusBadRequest && rec.Code != http.StatusNotFound {
		t.Fatalf("expected path traversal attempt to be rejected, got %d", rec.Code)
	}
}

func TestHandleWebhook_RequiresMatchingSecret(t *testing.T) {
	s, mux := newHTTPTestServer(t)
	s.Config.Agents[0].WebhookSecret = "hook-secret"

	rec := doRequest(t, mux, http.MethodPost, "/api/webhook/a1", map[string]string{"content": "hi"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodPost, "/api/webhook/a1?secret=hook-secret", map[string]string{"content": "hi"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with correct secret, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleWebhook_UnknownAgent404s(t *testing.T) {
	_, mux := newHTTPTestServer(t)
	rec := doRequest(t, mux, http.MethodPost, "/api/webhook/does-not-exist", map[string]string{"content": "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleSkills_PostThenGet(t *testing.T) {
	_, mux := newHTTPTestServer(t)
	rec := doRequest(t, mux, http.MethodPost, "/api/skills", map[string]any{
		"name": "greeter",
		"skill": models.Skill{
			Instructions: "greet the user warmly",
			Scope:        "global",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/skills", nil)
	var skills map[string]models.Skill
	if err := json.Unmarshal(rec.Body.Bytes(), &skills); err != nil {
		t.Fatal(err)
	}
	sk, ok := skills["greeter"]
	if !ok || sk.Instructions != "greet the user warmly" {
		t.Fatalf("expected greeter skill to round-trip, got %#v", skills)
	}
}

func TestHandleSkills_RejectsInvalidName(t *testing.T) {
	_, mux := newHTTPTestServer(t)
	rec := doRequest(t, mux, http.MethodPost, "/api/skills", map[string]any{
		"name":  "../escape",
		"skill": models.Skill{Instructions: "x"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCronJobs_RequiresAgentID(t *testing.T) {
	_, mux := newHTTPTestServer(t)
	rec := doRequest(t, mux, http.MethodGet, "/api/cron/jobs", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without agent_id, got %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/cron/jobs?agent_id=a1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with agent_id, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCronJobItem_UpdateWithoutLiveScheduler(t *testing.T) {
	_, mux := newHTTPTestServer(t)
	rec := doRequest(t, mux, http.MethodPost, "/api/cron/jobs/daily-report/update?agent_id=a1", models.PersistedCronJob{
		Schedule: "0 9 * * *",
		Message:  "good morning",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var job models.PersistedCronJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.Name != "daily-report" || job.AgentID != "a1" {
		t.Fatalf("expected name/agent_id to be forced from the path/query, got %#v", job)
	}
}

func TestHandleConfig_GetAndPut(t *testing.T) {
	s, mux := newHTTPTestServer(t)
	rec := doRequest(t, mux, http.MethodGet, "/api/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	next := *s.Config
	next.Server.HTTPPort = 9999
	rec = doRequest(t, mux, http.MethodPut, "/api/config", next)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on config update, got %d: %s", rec.Code, rec.Body.String())
	}
	if s.Config.Server.HTTPPort != 9999 {
		t.Fatalf("expected server's live config to be swapped, got port %d", s.Config.Server.HTTPPort)
	}
}

func TestValidateSegment(t *testing.T) {
	cases := map[string]bool{
		"a1":        true,
		"":          false,
		".":         false,
		"..":        false,
		"a/b":       false,
		"a..b":      false,
		`a\b`:       false,
		"sess_abcd": true,
	}
	for seg, want := range cases {
		if got := validateSegment(seg); got != want {
			t.Errorf("validateSegment(%q) = %v, want %v", seg, got, want)
		}
	}
}
