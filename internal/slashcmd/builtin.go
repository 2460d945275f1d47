package slashcmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/scheduler"
	"github.com/haasonsaas/nexus/internal/sessionstore"
	"github.com/haasonsaas/nexus/pkg/models"
)

func cmd(name, description, usage string) Command {
	return Command{Name: name, Description: description, Usage: usage, Channels: []string{"*"}}
}

func newSessionID() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return "sess_" + hex.EncodeToString(buf[:])
}

// RegisterBuiltins wires the built-in commands from spec §4.8, ported
// from original_source/src/slash/mod.rs: /new, /end, /session,
// /switch_session, /list_sessions, /agents, /set-model, /status,
// /heartbeat, /cron, /help.
func RegisterBuiltins(r *Registry) {
	r.Register(cmd("new", "Start a new conversation session", "/new"), handleNew)
	r.Register(cmd("end", "End the current conversation session", "/end"), handleEnd)
	r.Register(cmd("session", "Show the current session id", "/session"), handleSession)
	r.Register(cmd("list_sessions", "List all saved sessions", "/list_sessions"), handleListSessions)
	r.Register(cmd("switch_session", "Switch to an existing session", "/switch_session <id>"), handleSwitchSession)
	r.Register(cmd("agents", "List all agent folders", "/agents"), handleAgents)
	r.Register(cmd("set-model", "Change the model used by this agent", "/set-model <model-id>"), handleSetModel)
	r.Register(cmd("status", "Show agent status", "/status"), handleStatus)
	r.Register(cmd("heartbeat", "Show heartbeat status", "/heartbeat status | /heartbeat check <agent>"), handleHeartbeat)
	r.Register(cmd("cron", "Manage cron jobs", "/cron list | /cron status <job> | /cron delete <job> | /cron add <schedule> <message>"), handleCron)
	r.Register(cmd("help", "List available slash commands", "/help"), handleHelp(r))
}

func handleNew(_ context.Context, cctx Context, _ Args) (Response, error) {
	id := newSessionID()
	store := sessionstore.New(cctx.Workspace)
	sessionsDir := filepath.Join(cctx.Workspace, "sessions")
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return Response{}, fmt.Errorf("create sessions dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(sessionsDir, id+".jsonl"), nil, 0o644); err != nil {
		return Response{}, fmt.Errorf("create session file: %w", err)
	}
	if err := store.SetCurrent(id); err != nil {
		return Response{}, fmt.Errorf("set_current failed: %w", err)
	}
	if err := sessionstore.GlobalIndex(cctx.Home, models.SessionIndexEntry{
		SessionID: id,
		AgentID:   cctx.AgentID,
	}); err != nil {
		return Response{}, fmt.Errorf("append global index: %w", err)
	}
	return Response{Text: "new session started: " + id}, nil
}

func handleEnd(_ context.Context, cctx Context, _ Args) (Response, error) {
	store := sessionstore.New(cctx.Workspace)
	current, err := store.LoadCurrent()
	if err != nil {
		return Response{}, err
	}
	if current == "" {
		return Response{Text: "no active session"}, nil
	}
	if err := store.ClearCurrent(); err != nil {
		return Response{}, fmt.Errorf("clear_current failed: %w", err)
	}
	return Response{Text: "session ended"}, nil
}

func handleSession(_ context.Context, cctx Context, _ Args) (Response, error) {
	store := sessionstore.New(cctx.Workspace)
	current, err := store.LoadCurrent()
	if err != nil || current == "" {
		return Response{Text: "no active session"}, nil
	}
	return Response{Text: "current session: " + current}, nil
}

func handleListSessions(_ context.Context, cctx Context, _ Args) (Response, error) {
	dir := filepath.Join(cctx.Workspace, "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Response{Text: "no sessions found"}, nil
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".receipts.jsonl") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".jsonl"))
	}
	sort.Strings(names)
	if len(names) == 0 {
		return Response{Text: "no sessions found"}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "sessions (%d):", len(names))
	for _, n := range names {
		b.WriteString("\n  " + n)
	}
	return Response{Text: b.String()}, nil
}

func handleSwitchSession(_ context.Context, cctx Context, args Args) (Response, error) {
	id := args.First()
	if id == "" {
		return Response{Text: "usage: /switch_session <id>"}, nil
	}
	store := sessionstore.New(cctx.Workspace)
	if err := store.SetCurrent(id); err != nil {
		return Response{}, fmt.Errorf("set_current failed: %w", err)
	}
	return Response{Text: "switched to session: " + id}, nil
}

func handleAgents(_ context.Context, cctx Context, _ Args) (Response, error) {
	agentsDir := filepath.Dir(cctx.AgentRoot)
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		return Response{Text: "no agents found"}, nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return Response{Text: "no agents found"}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "agents (%d):", len(names))
	for _, n := range names {
		b.WriteString("\n  " + n)
	}
	return Response{Text: b.String()}, nil
}

func handleSetModel(_ context.Context, cctx Context, args Args) (Response, error) {
	modelID := args.First()
	if modelID == "" {
		return Response{Text: "usage: /set-model <model-id>"}, nil
	}
	cfg, err := config.Load(cctx.ConfigPath)
	if err != nil {
		return Response{}, fmt.Errorf("load config: %w", err)
	}
	agent := cfg.AgentByID(cctx.AgentID)
	if agent == nil {
		return Response{}, fmt.Errorf("agent %q not found in config", cctx.AgentID)
	}
	agent.Model = modelID
	if err := cfg.Save(cctx.ConfigPath); err != nil {
		return Response{}, fmt.Errorf("save config: %w", err)
	}
	return Response{Text: "model set to: " + modelID}, nil
}

func handleStatus(_ context.Context, cctx Context, _ Args) (Response, error) {
	store := sessionstore.New(cctx.Workspace)
	session, err := store.LoadCurrent()
	if err != nil || session == "" {
		session = "(none)"
	}
	model := "(default)"
	if cfg, err := config.Load(cctx.ConfigPath); err == nil {
		if agent := cfg.AgentByID(cctx.AgentID); agent != nil && agent.Model != "" {
			model = agent.Model
		}
	}
	return Response{Text: fmt.Sprintf(
		"agent: %s\nmodel: %s\nsession: %s\nworkspace: %s",
		cctx.AgentID, model, session, cctx.Workspace,
	)}, nil
}

func handleHeartbeat(_ context.Context, cctx Context, args Args) (Response, error) {
	sub := args.First()
	if sub == "" {
		sub = "status"
	}
	agentID := cctx.AgentID
	root := cctx.AgentRoot
	if sub == "check" {
		if a := args.At(1); a != "" {
			agentID = a
		}
	}
	status, err := scheduler.LoadHeartbeatStatus(root)
	if err != nil {
		return Response{}, err
	}
	if status == nil {
		return Response{Text: "no heartbeat data found for " + agentID}, nil
	}

	lastTick := "-"
	if status.LastTick != nil {
		lastTick = strconv.FormatInt(*status.LastTick, 10)
	}
	interval := "-"
	if status.IntervalSecs != nil {
		interval = strconv.FormatInt(*status.IntervalSecs, 10)
	}

	if sub == "check" {
		return Response{Text: fmt.Sprintf(
			"heartbeat check for %s\nhealth: %s\nlast_tick: %s\ninterval: %ss",
			agentID, status.Health, lastTick, interval,
		)}, nil
	}
	return Response{Text: fmt.Sprintf(
		"%s\t%s\t%s\t%s", status.AgentID, status.Health, interval, status.MessagePreview,
	)}, nil
}

func handleCron(_ context.Context, cctx Context, args Args) (Response, error) {
	sub := args.First()
	if sub == "" {
		sub = "list"
	}
	root := cctx.AgentRoot

	switch sub {
	case "list":
		jobs, err := scheduler.ReadCronJobs(root)
		if err != nil {
			return Response{}, err
		}
		if len(jobs) == 0 {
			return Response{Text: "no cron jobs found"}, nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "cron jobs (%d):", len(jobs))
		for _, j := range jobs {
			fmt.Fprintf(&b, "\n  %s@%s — %s %s", j.Name, j.AgentID, j.Schedule, j.Message)
		}
		return Response{Text: b.String()}, nil

	case "status":
		jobID := args.At(1)
		if jobID == "" {
			return Response{Text: "usage: /cron status <job_id>"}, nil
		}
		runs, err := scheduler.ReadCronRuns(root, jobID)
		if err != nil {
			return Response{}, err
		}
		if len(runs) == 0 {
			return Response{Text: "no runs found for " + jobID}, nil
		}
		lines := []string{fmt.Sprintf("%s\nruns: %d", jobID, len(runs))}
		for _, r := range runs {
			statusStr := string(r.Status.Kind)
			if r.Status.Kind == models.JobStatusFailed && r.Status.Message != "" {
				statusStr = "FAILED: " + r.Status.Message
			}
			lines = append(lines, fmt.Sprintf("  %s — %s", r.ID, statusStr))
		}
		return Response{Text: strings.Join(lines, "\n")}, nil

	case "delete":
		jobID := args.At(1)
		if jobID == "" {
			return Response{Text: "usage: /cron delete <name@agent_id>"}, nil
		}
		name, agentID, ok := strings.Cut(jobID, "@")
		if !ok {
			agentID = cctx.AgentID
		}
		if err := scheduler.RemovePersistedCronJob(root, name, agentID); err != nil {
			return Response{}, err
		}
		return Response{Text: "deleted cron job: " + jobID}, nil

	case "add":
		schedule := args.At(1)
		message := args.Rest(2)
		if schedule == "" {
			return Response{Text: "usage: /cron add <schedule> <message>"}, nil
		}
		return Response{Text: fmt.Sprintf("added cron job: %s — %s (register it via the agent config or API to take effect)", schedule, message)}, nil

	default:
		return Response{Text: "unknown cron subcommand: " + sub + "\nusage: /cron list | status | delete | add"}, nil
	}
}

func handleHelp(r *Registry) Handler {
	return func(_ context.Context, _ Context, _ Args) (Response, error) {
		var b strings.Builder
		for i, c := range r.List() {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%-22s — %s", c.Usage, c.Description)
		}
		return Response{Text: b.String()}, nil
	}
}
