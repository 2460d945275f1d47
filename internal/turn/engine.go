// Package turn implements the state machine that drives one conversation
// turn: prompt assembly, the provider call, the tool-call loop, and
// session persistence, per spec §4.6.
package turn

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/memorystore"
	cqueue "github.com/haasonsaas/nexus/internal/process"
	"github.com/haasonsaas/nexus/internal/provider"
	"github.com/haasonsaas/nexus/internal/sessionstore"
	"github.com/haasonsaas/nexus/internal/toolregistry"
	"github.com/haasonsaas/nexus/internal/workspace"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Event type names published through Events, matching the gateway event
// taxonomy (spec §6).
const (
	EventSessionCreated = "session_created"
	EventSessionMessage = "session_message"
	EventStreamDelta    = "stream_delta"
	EventTypingStop     = "typing_stop"
	EventTokenUsage     = "token_usage"
	EventToolStart      = "tool_start"
	EventToolEnd        = "tool_end"
	EventToolError      = "tool_error"
	EventTurnReceipt    = "turn_receipt"
)

// Events publishes turn lifecycle events outward (to the gateway's /ws
// fan-out). Implementations must not block meaningfully — the turn engine
// never waits on a subscriber.
type Events interface {
	Emit(eventType string, payload map[string]any)
}

// NoopEvents discards every event; useful for tests and headless runs.
type NoopEvents struct{}

func (NoopEvents) Emit(string, map[string]any) {}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time

// Engine drives turns for a single agent.
type Engine struct {
	AgentID           string
	Home              string // <home> root; used only for the global session index
	Workspace         string
	Tools             *toolregistry.Registry
	Sessions          *sessionstore.Store
	Memory            *memorystore.Store // optional; nil disables the memory block
	Provider          provider.Manager
	Events            Events
	Logger            *slog.Logger
	EnabledSkills     []string // nil means all skills
	MaxToolIterations int      // default 3
	HistoryLimit      int      // default 40
	MemoryBlockChars  int      // default 4000
	MessageBudget     int      // default 24000 chars across the assembled prompt
	Now               Clock
}

// DefaultMaxToolIterations is spec §4.6's default tool-loop cap.
const DefaultMaxToolIterations = 3

// DefaultHistoryLimit is spec §4.6 step 2.5's default prior-exchange count.
const DefaultHistoryLimit = 40

// DefaultMemoryBlockChars is spec §4.6 step 2.3's default memory cap.
const DefaultMemoryBlockChars = 4000

// DefaultMessageBudget bounds the assembled prompt before the context-budget
// pass starts dropping history.
const DefaultMessageBudget = 24000

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) events() Events {
	if e.Events != nil {
		return e.Events
	}
	return NoopEvents{}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) maxToolIterations() int {
	if e.MaxToolIterations > 0 {
		return e.MaxToolIterations
	}
	return DefaultMaxToolIterations
}

func (e *Engine) historyLimit() int {
	if e.HistoryLimit > 0 {
		return e.HistoryLimit
	}
	return DefaultHistoryLimit
}

func (e *Engine) memoryBlockChars() int {
	if e.MemoryBlockChars > 0 {
		return e.MemoryBlockChars
	}
	return DefaultMemoryBlockChars
}

func (e *Engine) messageBudget() int {
	if e.MessageBudget > 0 {
		return e.MessageBudget
	}
	return DefaultMessageBudget
}

// RunTurn drives one full exchange for msg and returns the reply text.
func (e *Engine) RunTurn(ctx context.Context, msg *models.InboundEnvelope) (string, error) {
	ctx = cqueue.WithLane(ctx, laneForChannel(msg.Channel))

	sessionID, restore, err := e.selectSession(msg)
	if err != nil {
		return "", fmt.Errorf("session selection: %w", err)
	}
	defer restore()

	messages, err := e.assemblePrompt(ctx, sessionID, msg.Content)
	if err != nil {
		return "", fmt.Errorf("assemble prompt: %w", err)
	}

	functionDefs := e.Tools.FunctionDefs()

	started := e.now()
	resp, usage, err := e.Provider.SendChatWithFunctions(ctx, messages, functionDefs)
	if err != nil {
		return "", fmt.Errorf("initial model call: %w", err)
	}
	if usage != nil {
		e.events().Emit(EventTokenUsage, map[string]any{"agent_id": e.AgentID, "usage": usage})
	}

	var retried bool
	resp, retried = e.enforcementRetry(ctx, messages, functionDefs, resp)

	receipt := models.TurnReceipt{
		Agent:       e.AgentID,
		Session:     sessionID,
		StartedAtMs: started.UnixMilli(),
		UserPrompt:  truncate(msg.Content, 200),
		ModelCalls:  1,
	}
	if retried {
		receipt.ModelCalls++
	}
	if usage != nil {
		receipt.Tokens = *usage
	}

	replyText, messages, functionDefs, records, modelCalls := e.toolLoop(ctx, messages, functionDefs, resp)
	receipt.ToolCalls = records
	receipt.ModelCalls += modelCalls
	receipt.ReplySummary = truncate(replyText, 200)
	receipt.DurationMs = e.now().Sub(started).Milliseconds()

	e.streamReply(replyText)
	e.persistAndEmit(sessionID, msg.Content, replyText, receipt)

	return replyText, nil
}

// selectSession implements step 1. It returns the session id to use and a
// restore func that undoes any in-memory override on exit.
func (e *Engine) selectSession(msg *models.InboundEnvelope) (string, func(), error) {
	if msg.SessionID != "" {
		e.events().Emit(EventSessionCreated, map[string]any{"agent_id": e.AgentID, "session_id": msg.SessionID, "override": true})
		return msg.SessionID, func() {}, nil
	}

	current, err := e.Sessions.LoadCurrent()
	if err != nil {
		return "", func() {}, err
	}
	if current != "" {
		return current, func() {}, nil
	}

	id := newSessionID()
	if err := e.Sessions.SetCurrent(id); err != nil {
		return "", func() {}, err
	}
	if e.Home != "" {
		if err := sessionstore.GlobalIndex(e.Home, models.SessionIndexEntry{
			SessionID:   id,
			AgentID:     e.AgentID,
			CreatedAtMs: e.now().UnixMilli(),
		}); err != nil {
			e.logger().Warn("append global session index failed", "error", err)
		}
	}
	e.events().Emit(EventSessionCreated, map[string]any{"agent_id": e.AgentID, "session_id": id, "override": false})
	return id, func() {}, nil
}

// laneForChannel derives a process.CommandLane from an inbound channel name
// so foreground exec calls from a cron/heartbeat trigger never serialize
// behind (or race with) a concurrent user-initiated call in the same
// workspace.
func laneForChannel(channel string) cqueue.CommandLane {
	if strings.HasPrefix(channel, "cron:") || channel == "heartbeat" {
		return cqueue.LaneCron
	}
	return cqueue.LaneMain
}

func newSessionID() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return "sess_" + hex.EncodeToString(buf[:])
}

// assemblePrompt implements step 2.
func (e *Engine) assemblePrompt(ctx context.Context, sessionID, userContent string) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage

	bootstrap, err := workspace.Bootstrap(e.Workspace)
	if err != nil {
		return nil, err
	}
	if bootstrap != "" {
		messages = append(messages, models.ChatMessage{Role: models.ChatRoleSystem, Content: bootstrap})
	}

	if skills := e.Tools.PromptInstructions(e.EnabledSkills); skills != "" {
		messages = append(messages, models.ChatMessage{Role: models.ChatRoleSystem, Content: skills})
	}

	if e.Memory != nil {
		block, err := e.Memory.PromptBlock(ctx, e.memoryBlockChars())
		if err != nil {
			e.logger().Warn("memory prompt block failed", "error", err)
		} else if block != "" {
			messages = append(messages, models.ChatMessage{Role: models.ChatRoleSystem, Content: block})
		}
	}

	if fence := e.toolMetadataFence(); fence != "" {
		messages = append(messages, models.ChatMessage{Role: models.ChatRoleSystem, Content: fence})
	}

	history, err := e.Sessions.LoadHistory(sessionID, e.historyLimit())
	if err != nil {
		e.logger().Warn("load history failed", "error", err)
	}
	for _, ex := range history {
		if ex.Role != models.ChatRoleUser && ex.Role != models.ChatRoleAssistant {
			continue
		}
		messages = append(messages, models.ChatMessage{Role: ex.Role, Content: ex.Content})
	}

	messages = append(messages, models.ChatMessage{Role: models.ChatRoleUser, Content: userContent})

	return e.budgetPass(messages), nil
}

const toolGuidance = "Prefer a specialised tool discovered via search_tools over exec_shell whenever one exists for the task."

func (e *Engine) toolMetadataFence() string {
	core := e.Tools.ListCore()
	if len(core) == 0 {
		return ""
	}
	payload, err := json.MarshalIndent(core, "", "  ")
	if err != nil {
		return ""
	}
	return toolGuidance + "\n```json\n" + string(payload) + "\n```"
}

// budgetPass implements the context-budget pass: while the assembled
// message list exceeds the char budget, drop the oldest user or assistant
// message after the first entry, one message per pass, never the first
// entry and never the final new user message.
func (e *Engine) budgetPass(messages []models.ChatMessage) []models.ChatMessage {
	budget := e.messageBudget()
	for totalChars(messages) > budget && len(messages) > 2 {
		// messages[0] is the earliest system/preamble entry; drop the
		// oldest non-final entry after it.
		cut := -1
		for i := 1; i < len(messages)-1; i++ {
			if messages[i].Role == models.ChatRoleUser || messages[i].Role == models.ChatRoleAssistant {
				cut = i
				break
			}
		}
		if cut < 0 {
			break
		}
		messages = append(messages[:cut], messages[cut+1:]...)
	}
	return messages
}

func totalChars(messages []models.ChatMessage) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content)
	}
	return n
}

var fencedToolCallOnly = regexp.MustCompile(`^\s*` + "```json" + `\s*\n([\s\S]*?)\n\s*` + "```" + `\s*$`)

// enforcementRetry implements step 4a. The second return value reports
// whether a corrective SendChatWithFunctions call was actually issued, so
// callers can count it toward the turn's model-call total even when the
// retry fails to elicit a tool call.
func (e *Engine) enforcementRetry(ctx context.Context, messages []models.ChatMessage, functionDefs []models.FunctionDef, resp provider.Response) (provider.Response, bool) {
	if resp.Kind != provider.KindFinal || len(functionDefs) == 0 || !e.Provider.SupportsFunctions() {
		return resp, false
	}
	if isFencedToolCallOnly(resp.Text) {
		return resp, false
	}

	names := make([]string, 0, len(functionDefs))
	for _, d := range functionDefs {
		names = append(names, d.Name)
	}
	corrective := models.ChatMessage{
		Role:    models.ChatRoleSystem,
		Content: "Respond using one of the available tools if the request requires one. Available tools: " + strings.Join(names, ", "),
	}
	retryMessages := append(append([]models.ChatMessage{}, messages...), corrective)

	retryResp, _, err := e.Provider.SendChatWithFunctions(ctx, retryMessages, functionDefs)
	if err != nil {
		return resp, true
	}
	if retryResp.IsFunctionCall() || (retryResp.Kind == provider.KindFinal && isFencedToolCallOnly(retryResp.Text)) {
		return retryResp, true
	}
	return resp, true
}

func isFencedToolCallOnly(text string) bool {
	m := fencedToolCallOnly.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	var body struct {
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	}
	return json.Unmarshal([]byte(m[1]), &body) == nil && body.Name != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
