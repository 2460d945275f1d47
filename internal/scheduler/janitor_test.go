package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/nexus/pkg/models"
)

func touchFile(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestSweep_DeletesExpiredSessionsButKeepsCurrent(t *testing.T) {
	agentRoot := t.TempDir()
	sessionsDir := filepath.Join(agentRoot, "workspace", "sessions")
	touchFile(t, filepath.Join(sessionsDir, "old-session.jsonl"), 40*24*time.Hour)
	touchFile(t, filepath.Join(sessionsDir, "current-session.jsonl"), 40*24*time.Hour)
	require.NoError(t, os.WriteFile(filepath.Join(sessionsDir, "CURRENT_SESSION"), []byte("current-session"), 0o644))

	s := New(nil, nil, nil)
	s.Sweep(JanitorConfig{
		AgentWorkspaces:   []string{agentRoot},
		SessionExpiry:     30 * 24 * time.Hour,
		CronSessionExpiry: 7 * 24 * time.Hour,
	})

	_, err := os.Stat(filepath.Join(sessionsDir, "old-session.jsonl"))
	require.True(t, os.IsNotExist(err), "expired non-current session should be removed")
	_, err = os.Stat(filepath.Join(sessionsDir, "current-session.jsonl"))
	require.NoError(t, err, "current session must survive regardless of age")
}

func TestSweep_UsesShorterExpiryForCronSessions(t *testing.T) {
	agentRoot := t.TempDir()
	sessionsDir := filepath.Join(agentRoot, "workspace", "sessions")
	touchFile(t, filepath.Join(sessionsDir, "cron_daily_170000.jsonl"), 10*24*time.Hour)

	s := New(nil, nil, nil)
	s.Sweep(JanitorConfig{
		AgentWorkspaces:   []string{agentRoot},
		SessionExpiry:     30 * 24 * time.Hour,
		CronSessionExpiry: 7 * 24 * time.Hour,
	})

	_, err := os.Stat(filepath.Join(sessionsDir, "cron_daily_170000.jsonl"))
	require.True(t, os.IsNotExist(err), "cron sessions use the shorter cron_session_expiry_days cutoff")
}

func TestCapDirectory_KeepsOnlyNewestFiles(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		path := filepath.Join(dir, time.Now().Format("20060102")+string(rune('a'+i))+".json")
		touchFile(t, path, time.Duration(5-i)*time.Hour)
	}
	require.NoError(t, capDirectory(dir, 2))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestRewriteGlobalIndex_DropsEntriesWithMissingSessionFile(t *testing.T) {
	home := t.TempDir()
	indexPath := filepath.Join(home, "sessions", "index.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(indexPath), 0o755))

	alive := models.SessionIndexEntry{SessionID: "alive", AgentID: "a1"}
	gone := models.SessionIndexEntry{SessionID: "gone", AgentID: "a1"}
	aliveSessionPath := filepath.Join(home, "agents", "a1", "workspace", "sessions", "alive.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(aliveSessionPath), 0o755))
	require.NoError(t, os.WriteFile(aliveSessionPath, []byte("{}"), 0o644))

	f, err := os.Create(indexPath)
	require.NoError(t, err)
	for _, e := range []models.SessionIndexEntry{alive, gone} {
		line, _ := json.Marshal(e)
		_, _ = f.Write(append(line, '\n'))
	}
	require.NoError(t, f.Close())

	s := New(nil, nil, nil)
	s.Sweep(JanitorConfig{Home: home})

	data, err := os.ReadFile(indexPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "alive")
	require.NotContains(t, string(data), "gone")
}
