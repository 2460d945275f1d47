package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/scheduler"
	"github.com/haasonsaas/nexus/internal/sessionstore"
	"github.com/haasonsaas/nexus/pkg/models"
)

// bootstrapFileAllowlist is the §6 allowlist for /api/agents/:id/files/:name.
var bootstrapFileAllowlist = map[string]string{
	"SOUL":      "SOUL.md",
	"TOOLS":     "TOOLS.md",
	"HEARTBEAT": "HEARTBEAT.md",
	"BOOTSTRAP": "BOOTSTRAP.md",
}

// Routes builds the gateway's HTTP mux: /ws, /ws/logs, /metrics, and the
// /api surface of spec §6. Every /api route except health/status passes
// through the bearer-token/query-token auth middleware.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/ws/logs", s.HandleWSLogs)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/health", s.handleHealth)

	auth := s.withAuth
	mux.Handle("/api/status", auth(http.HandlerFunc(s.handleStatus)))
	mux.Handle("/api/config", auth(http.HandlerFunc(s.handleConfig)))
	mux.Handle("/api/agents", auth(http.HandlerFunc(s.handleAgentsCollection)))
	mux.Handle("/api/agents/", auth(http.HandlerFunc(s.handleAgentsSubtree)))
	mux.Handle("/api/heartbeat/status", auth(http.HandlerFunc(s.handleHeartbeatStatus)))
	mux.Handle("/api/heartbeat/status/", auth(http.HandlerFunc(s.handleHeartbeatStatus)))
	mux.Handle("/api/cron/jobs", auth(http.HandlerFunc(s.handleCronJobs)))
	mux.Handle("/api/cron/jobs/", auth(http.HandlerFunc(s.handleCronJobItem)))
	mux.Handle("/api/webhook/", auth(http.HandlerFunc(s.handleWebhook)))
	mux.Handle("/api/skills", auth(http.HandlerFunc(s.handleSkills)))

	return mux
}

// --- auth ---

var authWarnOnce sync.Once

// withAuth enforces Authorization: Bearer <token> or ?token=..., per spec
// §6. If no token is configured, auth is disabled with a one-time warning.
// When server.jwt_secret is also configured, a presented value that fails
// the static comparison is retried as a signed HS256 JWT (minted via
// `nexusd auth mint`) before the request is rejected.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.Config.Server.AuthToken
		jwtSecret := s.Config.Server.JWTSecret
		if token == "" && jwtSecret == "" {
			authWarnOnce.Do(func() {
				s.Logger.Warn("gateway auth token not configured; HTTP API is unauthenticated")
			})
			next.ServeHTTP(w, r)
			return
		}

		presented := r.URL.Query().Get("token")
		if header := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(header), "bearer ") {
			presented = strings.TrimSpace(header[len("bearer "):])
		}

		if token != "" && presented == token {
			next.ServeHTTP(w, r)
			return
		}
		if jwtSecret != "" && validGatewayToken(presented, jwtSecret) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}

// gatewayClaims identifies the agent (or "*" for unrestricted access) a
// minted token authorizes.
type gatewayClaims struct {
	Agent string `json:"agent"`
	jwt.RegisteredClaims
}

// validGatewayToken reports whether presented is a well-formed, unexpired
// HS256 JWT signed with secret. The claimed agent is not yet scoped to
// individual routes; presence of a valid signature is sufficient to pass
// this middleware, matching the coarse static-token model it augments.
func validGatewayToken(presented, secret string) bool {
	if presented == "" {
		return false
	}
	token, err := jwt.ParseWithClaims(presented, &gatewayClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	return err == nil && token.Valid
}

// --- path segment validation ---

// validateSegment rejects the path-segment shapes spec §6 calls out:
// empty, containing '/', '\', NUL, or being "." or ".." or containing "..".
func validateSegment(seg string) bool {
	if seg == "" || seg == "." || seg == ".." {
		return false
	}
	if strings.ContainsAny(seg, "/\\\x00") {
		return false
	}
	if strings.Contains(seg, "..") {
		return false
	}
	return true
}

// --- JSON helpers ---

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONResponse(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- health & status ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"home":       s.Config.Home,
		"agents":     s.agentIDs(),
		"started_at": s.startedAt.Format(time.RFC3339),
		"uptime_s":   int64(time.Since(s.startedAt).Seconds()),
	})
}

// --- config ---

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, s.Config)
	case http.MethodPut:
		var next config.Config
		if err := decodeJSON(r, &next); err != nil {
			writeError(w, http.StatusBadRequest, "invalid config body: "+err.Error())
			return
		}
		if err := next.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := next.Save(s.ConfigPath); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.Config = &next
		writeJSONResponse(w, http.StatusOK, s.Config)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- agents ---

func (s *Server) handleAgentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, s.Config.Agents)
	case http.MethodPost:
		var agent config.AgentConfig
		if err := decodeJSON(r, &agent); err != nil {
			writeError(w, http.StatusBadRequest, "invalid agent body: "+err.Error())
			return
		}
		if !validateSegment(agent.ID) {
			writeError(w, http.StatusBadRequest, "invalid agent id")
			return
		}
		if s.Config.AgentByID(agent.ID) != nil {
			writeError(w, http.StatusConflict, "agent already exists")
			return
		}
		s.Config.Agents = append(s.Config.Agents, agent)
		if err := s.Config.Save(s.ConfigPath); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSONResponse(w, http.StatusCreated, agent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAgentsSubtree dispatches every /api/agents/... path: the bare item
// (/api/agents/:id), its files (/api/agents/:id/files/:name), and its
// sessions (/api/agents/:id/sessions[/:sid]).
func (s *Server) handleAgentsSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" || !validateSegment(parts[0]) {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	agentID := parts[0]

	switch {
	case len(parts) == 1:
		s.handleAgentItem(w, r, agentID)
	case len(parts) == 3 && parts[1] == "files":
		s.handleAgentFile(w, r, agentID, parts[2])
	case len(parts) == 2 && parts[1] == "sessions":
		s.handleAgentSessions(w, r, agentID, "")
	case len(parts) == 3 && parts[1] == "sessions":
		s.handleAgentSessions(w, r, agentID, parts[2])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleAgentItem(w http.ResponseWriter, r *http.Request, agentID string) {
	switch r.Method {
	case http.MethodGet:
		agent := s.Config.AgentByID(agentID)
		if agent == nil {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeJSONResponse(w, http.StatusOK, agent)
	case http.MethodPut:
		agent := s.Config.AgentByID(agentID)
		if agent == nil {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		var updated config.AgentConfig
		if err := decodeJSON(r, &updated); err != nil {
			writeError(w, http.StatusBadRequest, "invalid agent body: "+err.Error())
			return
		}
		updated.ID = agentID
		*agent = updated
		if err := s.Config.Save(s.ConfigPath); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSONResponse(w, http.StatusOK, agent)
	case http.MethodDelete:
		idx := -1
		for i, a := range s.Config.Agents {
			if a.ID == agentID {
				idx = i
				break
			}
		}
		if idx == -1 {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		s.Config.Agents = append(s.Config.Agents[:idx], s.Config.Agents[idx+1:]...)
		if err := s.Config.Save(s.ConfigPath); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleAgentFile(w http.ResponseWriter, r *http.Request, agentID, name string) {
	filename, ok := bootstrapFileAllowlist[strings.ToUpper(name)]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown bootstrap file: "+name)
		return
	}
	path := filepath.Join(s.Config.AgentWorkspace(agentID), filename)

	switch r.Method {
	case http.MethodGet:
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case http.MethodPut:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid file body: "+err.Error())
			return
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := os.WriteFile(path, []byte(body.Content), 0o644); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "saved"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleAgentSessions(w http.ResponseWriter, r *http.Request, agentID, sessionID string) {
	workspace := filepath.Join(s.Config.AgentWorkspace(agentID), "workspace")
	store := sessionstore.New(workspace)

	if sessionID == "" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		dir := filepath.Join(workspace, "sessions")
		entries, err := os.ReadDir(dir)
		if err != nil {
			writeJSONResponse(w, http.StatusOK, []string{})
			return
		}
		var ids []string
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".receipts.jsonl") {
				continue
			}
			ids = append(ids, strings.TrimSuffix(name, ".jsonl"))
		}
		sort.Strings(ids)
		writeJSONResponse(w, http.StatusOK, ids)
		return
	}

	if !validateSegment(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		history, err := store.LoadHistory(sessionID, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSONResponse(w, http.StatusOK, history)
	case http.MethodDelete:
		_ = os.Remove(filepath.Join(workspace, "sessions", sessionID+".jsonl"))
		_ = os.Remove(filepath.Join(workspace, "sessions", sessionID+".receipts.jsonl"))
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- heartbeat ---

func (s *Server) handleHeartbeatStatus(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/heartbeat/status")
	rest = strings.Trim(rest, "/")

	if rest == "" {
		statuses := map[string]*models.HeartbeatStatus{}
		for _, id := range s.agentIDs() {
			st, err := scheduler.LoadHeartbeatStatus(s.Config.AgentWorkspace(id))
			if err == nil {
				statuses[id] = st
			}
		}
		writeJSONResponse(w, http.StatusOK, statuses)
		return
	}

	if !validateSegment(rest) {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	st, err := scheduler.LoadHeartbeatStatus(s.Config.AgentWorkspace(rest))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "no heartbeat data found")
		return
	}
	writeJSONResponse(w, http.StatusOK, st)
}

// --- cron ---

func (s *Server) agentRootForQuery(r *http.Request) (string, bool) {
	agentID := r.URL.Query().Get("agent_id")
	if !validateSegment(agentID) {
		return "", false
	}
	return s.Config.AgentWorkspace(agentID), true
}

func (s *Server) handleCronJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	root, ok := s.agentRootForQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid or missing agent_id")
		return
	}
	jobs, err := scheduler.ReadCronJobs(root)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, jobs)
}

// handleCronJobItem serves /api/cron/jobs/:id/runs, /:id/delete and
// /:id/update, all scoped by the ?agent_id= query parameter.
func (s *Server) handleCronJobItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/cron/jobs/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || !validateSegment(parts[0]) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	jobName, action := parts[0], parts[1]
	root, ok := s.agentRootForQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid or missing agent_id")
		return
	}
	agentID := r.URL.Query().Get("agent_id")

	switch action {
	case "runs":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		runs, err := scheduler.ReadCronRuns(root, jobName+"@"+agentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSONResponse(w, http.StatusOK, runs)

	case "delete":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := scheduler.RemovePersistedCronJob(root, jobName, agentID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "deleted"})

	case "update":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var job models.PersistedCronJob
		if err := decodeJSON(r, &job); err != nil {
			writeError(w, http.StatusBadRequest, "invalid job body: "+err.Error())
			return
		}
		job.Name = jobName
		job.AgentID = agentID
		if s.Scheduler != nil {
			if err := s.Scheduler.RegisterJob(r.Context(), scheduler.CronConfig{AgentID: agentID, Workspace: root}, job); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSONResponse(w, http.StatusOK, job)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// --- webhook ---

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	agentID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/webhook/"), "/")
	if !validateSegment(agentID) {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	agent := s.Config.AgentByID(agentID)
	if agent == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if agent.WebhookSecret != "" && r.URL.Query().Get("secret") != agent.WebhookSecret {
		writeError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	var body struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook body: "+err.Error())
		return
	}

	channel := "webhook:" + agentID
	s.Hub.Publish(EventWebhookReceived, map[string]any{"agent_id": agentID, "content": body.Content})
	s.Bus.Send(&models.InboundEnvelope{
		AgentID:    agentID,
		Channel:    channel,
		Author:     "webhook",
		Content:    body.Content,
		TimestampS: time.Now().Unix(),
	})
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// --- skills ---

// handleSkills implements GET/POST /api/skills. Skills are stored as
// <home>/skills/<name>.json, one models.Skill per file; a live
// toolregistry.Registry.SyncSkills pass (wired once a Server holds
// per-agent tool registries) is the remaining step to make an authored
// skill show up in a running turn without a restart.
func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	dir := filepath.Join(s.Config.Home, "skills")

	switch r.Method {
	case http.MethodGet:
		entries, err := os.ReadDir(dir)
		if err != nil {
			writeJSONResponse(w, http.StatusOK, map[string]models.Skill{})
			return
		}
		out := map[string]models.Skill{}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			var sk models.Skill
			if err := json.Unmarshal(data, &sk); err != nil {
				continue
			}
			out[strings.TrimSuffix(name, ".json")] = sk
		}
		writeJSONResponse(w, http.StatusOK, out)

	case http.MethodPost:
		var body struct {
			Name  string       `json:"name"`
			Skill models.Skill `json:"skill"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid skill body: "+err.Error())
			return
		}
		if !validateSegment(body.Name) {
			writeError(w, http.StatusBadRequest, "invalid skill name")
			return
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		data, err := json.Marshal(body.Skill)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := os.WriteFile(filepath.Join(dir, body.Name+".json"), data, 0o644); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSONResponse(w, http.StatusCreated, body.Skill)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
