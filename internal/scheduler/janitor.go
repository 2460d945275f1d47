package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// JanitorConfig describes one sweep pass across every agent workspace plus
// the global session index.
type JanitorConfig struct {
	Home              string
	AgentWorkspaces   []string // <home>/agents/<id>, one per configured agent
	CronSessionExpiry time.Duration
	SessionExpiry     time.Duration
	CronEventsMaxKeep int
	FirstPassDelay    time.Duration
	Interval          time.Duration
}

// RunJanitor spawns the periodic sweep: first pass after cfg.FirstPassDelay,
// then every cfg.Interval, per spec §4.7.
func (s *Scheduler) RunJanitor(ctx context.Context, cfg JanitorConfig) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(cfg.FirstPassDelay)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-timer.C:
				s.Sweep(cfg)
				timer.Reset(cfg.Interval)
			}
		}
	}()
}

// Sweep runs one janitor pass synchronously; exported so it can be invoked
// directly (tests, an operator CLI subcommand) without waiting on a timer.
func (s *Scheduler) Sweep(cfg JanitorConfig) {
	for _, ws := range cfg.AgentWorkspaces {
		if err := sweepAgentWorkspace(ws, cfg); err != nil {
			s.logger().Error("janitor sweep failed", "workspace", ws, "error", err)
		}
	}
	if cfg.Home != "" {
		if err := rewriteGlobalIndex(cfg.Home); err != nil {
			s.logger().Error("janitor global index rewrite failed", "error", err)
		}
	}
}

func sweepAgentWorkspace(agentRoot string, cfg JanitorConfig) error {
	sessionsDir := filepath.Join(agentRoot, "workspace", "sessions")
	current := ""
	if data, err := os.ReadFile(filepath.Join(sessionsDir, "CURRENT_SESSION")); err == nil {
		current = strings.TrimSpace(string(data))
	}

	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			entries = nil
		} else {
			return err
		}
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".receipts.jsonl") {
			continue
		}
		id := strings.TrimSuffix(name, ".jsonl")
		if id == current {
			continue
		}
		expiry := cfg.SessionExpiry
		if strings.HasPrefix(id, "cron_") {
			expiry = cfg.CronSessionExpiry
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) < expiry {
			continue
		}
		_ = os.Remove(filepath.Join(sessionsDir, name))
		_ = os.Remove(filepath.Join(sessionsDir, id+".receipts.jsonl"))
	}

	if err := capDirectory(filepath.Join(agentRoot, "cron_events"), cfg.CronEventsMaxKeep); err != nil {
		return err
	}

	_ = os.RemoveAll(filepath.Join(agentRoot, "heartbeat_logs"))
	return nil
}

// capDirectory keeps at most maxKeep newest files under dir, deleting the
// rest. maxKeep<=0 disables the cap.
func capDirectory(dir string, maxKeep int) error {
	if maxKeep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(entries) <= maxKeep {
		return nil
	}

	type fileInfo struct {
		name    string
		modTime time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: e.Name(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	for _, f := range files[min(maxKeep, len(files)):] {
		_ = os.Remove(filepath.Join(dir, f.name))
	}
	return nil
}

// rewriteGlobalIndex drops index entries whose session file no longer
// exists, rewriting <home>/sessions/index.jsonl in place.
func rewriteGlobalIndex(home string) error {
	path := filepath.Join(home, "sessions", "index.jsonl")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var kept []models.SessionIndexEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry models.SessionIndexEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		sessionPath := filepath.Join(home, "agents", entry.AgentID, "workspace", "sessions", entry.SessionID+".jsonl")
		if _, err := os.Stat(sessionPath); err != nil {
			continue
		}
		kept = append(kept, entry)
	}

	var out strings.Builder
	for _, entry := range kept {
		line, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		out.Write(line)
		out.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(out.String()), 0o644)
}
