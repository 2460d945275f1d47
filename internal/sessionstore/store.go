// Package sessionstore persists conversation exchanges and turn receipts
// as append-only JSONL files under an agent's workspace, per spec §4.3.
package sessionstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

const currentSessionFile = "CURRENT_SESSION"

// Store confines all session files under a single agent workspace root.
type Store struct {
	Root string // <workspace>
}

// New creates a Store rooted at workspace.
func New(workspace string) *Store {
	return &Store{Root: workspace}
}

func (s *Store) sessionsDir() string {
	return filepath.Join(s.Root, "sessions")
}

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.sessionsDir(), id+".jsonl")
}

func (s *Store) receiptsPath(id string) string {
	return filepath.Join(s.sessionsDir(), id+".receipts.jsonl")
}

// SetCurrent writes id to the CURRENT_SESSION pointer file.
func (s *Store) SetCurrent(id string) error {
	if err := os.MkdirAll(s.sessionsDir(), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	return os.WriteFile(filepath.Join(s.sessionsDir(), currentSessionFile), []byte(id), 0o644)
}

// ClearCurrent removes the CURRENT_SESSION pointer file, if present.
func (s *Store) ClearCurrent() error {
	err := os.Remove(filepath.Join(s.sessionsDir(), currentSessionFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// LoadCurrent reads the CURRENT_SESSION pointer. Returns "" if unset.
func (s *Store) LoadCurrent() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionsDir(), currentSessionFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Append writes one Exchange line to session id, creating the sessions
// directory if needed. Each write is a single os.File.Write call so a line
// lands atomically on typical filesystems.
func (s *Store) Append(id string, ex models.Exchange) error {
	if err := os.MkdirAll(s.sessionsDir(), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	line, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("marshal exchange: %w", err)
	}
	return appendLine(s.sessionPath(id), line)
}

// AppendReceipt writes one TurnReceipt line to session id's receipts
// sidecar.
func (s *Store) AppendReceipt(id string, r models.TurnReceipt) error {
	if err := os.MkdirAll(s.sessionsDir(), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	return appendLine(s.receiptsPath(id), line)
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// LoadHistory returns up to the last limit exchanges from session id, in
// file order, skipping unparsable lines. limit<=0 means unbounded.
func (s *Store) LoadHistory(id string, limit int) ([]models.Exchange, error) {
	f, err := os.Open(s.sessionPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []models.Exchange
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var ex models.Exchange
		if err := json.Unmarshal(line, &ex); err != nil {
			continue // skip malformed lines
		}
		all = append(all, ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// CleanupExpired unlinks session files (and their receipts sidecars) whose
// mtime is older than maxAge, skipping the currently active session.
func (s *Store) CleanupExpired(maxAge time.Duration) error {
	current, err := s.LoadCurrent()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(s.sessionsDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".receipts.jsonl") {
			continue
		}
		id := strings.TrimSuffix(name, ".jsonl")
		if id == current {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(s.sessionsDir(), name))
		_ = os.Remove(s.receiptsPath(id))
	}
	return nil
}

// GlobalIndex appends one SessionIndexEntry line to <home>/sessions/index.jsonl.
func GlobalIndex(home string, entry models.SessionIndexEntry) error {
	dir := filepath.Join(home, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create global sessions dir: %w", err)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal index entry: %w", err)
	}
	return appendLine(filepath.Join(dir, "index.jsonl"), line)
}
