package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/haasonsaas/nexus/internal/sessionstore"
)

// wsWriteCapacity is not referenced by the handlers below: a /ws
// connection's outbound queue is its Hub subscription, sized by NewHub,
// and a full queue drops events (followed by a lagged notice) rather
// than the connection.
const wsWriteCapacity = 256

// HandleWS implements the /ws endpoint of spec §4.9: agent_list, then a
// per-agent session replay, then the duplex event/command loop.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.Logger.Warn("ws accept failed", "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	agentIDs := s.agentIDs()
	if err := writeJSON(ctx, conn, Event{Type: EventAgentList, Payload: map[string]any{"agent_ids": agentIDs}}); err != nil {
		return
	}

	for _, agentID := range agentIDs {
		if !s.replaySessionFor(ctx, conn, agentID) {
			s.Logger.Debug("ws client disconnected mid-replay", "agent_id", agentID)
			return
		}
	}

	s.duplex(ctx, cancel, conn)
}

// HandleWSLogs implements /ws/logs: a plain fan-out of already-formatted
// structured log lines, no replay or command channel.
func (s *Server) HandleWSLogs(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.Logger.Warn("ws/logs accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.LogHub.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-sub.Recv:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, line.Data); err != nil {
				return
			}
		}
	}
}

func (s *Server) agentIDs() []string {
	ids := make([]string, 0, len(s.Config.Agents))
	for _, a := range s.Config.Agents {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	return ids
}

// replaySessionFor replays the most-recently-modified session file for
// agentID, in file order, as session_message events. Returns false if the
// client appears to have disconnected, in which case the caller abandons
// the whole connect sequence silently per spec §4.9 step 2.
func (s *Server) replaySessionFor(ctx context.Context, conn *websocket.Conn, agentID string) bool {
	workspace := filepath.Join(s.Config.AgentWorkspace(agentID), "workspace")
	sessionID, ok := mostRecentSession(workspace)
	if !ok {
		return true
	}
	store := sessionstore.New(workspace)
	history, err := store.LoadHistory(sessionID, 0)
	if err != nil {
		s.Logger.Warn("replay load failed", "agent_id", agentID, "session_id", sessionID, "error", err)
		return true
	}
	for _, ex := range history {
		ev := Event{Type: EventSessionMessage, Payload: map[string]any{
			"agent_id":   agentID,
			"session_id": sessionID,
			"exchange":   ex,
		}}
		if err := writeJSON(ctx, conn, ev); err != nil {
			return false
		}
	}
	return true
}

// mostRecentSession returns the id (filename minus .jsonl) of the
// newest-modified session file under workspace/sessions, skipping the
// receipts sidecar and the CURRENT_SESSION pointer.
func mostRecentSession(workspace string) (string, bool) {
	dir := filepath.Join(workspace, "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var bestName string
	var bestModNanos int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".receipts.jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if bestName == "" || info.ModTime().UnixNano() > bestModNanos {
			bestName = name
			bestModNanos = info.ModTime().UnixNano()
		}
	}
	if bestName == "" {
		return "", false
	}
	return strings.TrimSuffix(bestName, ".jsonl"), true
}

// duplex runs spec §4.9 step 3: forward every broadcast event to the
// socket, forward every inbound text frame into the commands channel. The
// read side runs in its own goroutine since websocket.Conn.Read blocks;
// a read error (including client close) cancels ctx, which unwinds the
// write loop below.
func (s *Server) duplex(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ != websocket.MessageText {
				continue
			}
			select {
			case s.commands <- forwardedCommand{Raw: string(data)}:
			case <-ctx.Done():
				return
			default:
				s.Logger.Warn("ws command channel full, dropping frame")
			}
		}
	}()

	sub := s.Hub.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case ev, ok := <-sub.Recv:
			if !ok {
				wg.Wait()
				return
			}
			if err := writeJSON(ctx, conn, ev); err != nil {
				cancel()
				wg.Wait()
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
