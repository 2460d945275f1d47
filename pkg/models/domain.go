package models

import "encoding/json"

// InboundEnvelope is the unit carried by the message bus from every producer
// (connectors, the scheduler, the gateway command forwarder) to agent
// dispatchers.
type InboundEnvelope struct {
	AgentID   string `json:"agent_id,omitempty"`
	Channel   string `json:"channel"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	TimestampS int64 `json:"timestamp_s"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatRole is the role of a ChatMessage in a provider conversation.
type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleTool      ChatRole = "tool"
)

// ToolCallEntry is one function-call entry carried on an assistant ChatMessage.
type ToolCallEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatMessage is one entry in the provider-facing conversation.
type ChatMessage struct {
	Role       ChatRole        `json:"role"`
	Content    string          `json:"content"`
	ToolCalls  []ToolCallEntry `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// Exchange is one persisted session line.
type Exchange struct {
	TimestampMs int64          `json:"timestamp_ms"`
	Role        ChatRole       `json:"role"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ToolCallRecord summarises one tool invocation inside a turn receipt.
type ToolCallRecord struct {
	Tool        string `json:"tool"`
	ArgsSummary string `json:"args_summary"`
	Success     bool   `json:"success"`
	DurationMs  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
}

// TokenUsage carries provider-reported token accounting for a turn.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// TurnReceipt is the structured summary record persisted alongside a session
// for every completed turn.
type TurnReceipt struct {
	Agent        string           `json:"agent"`
	Session      string           `json:"session,omitempty"`
	StartedAtMs  int64            `json:"started_at_ms"`
	DurationMs   int64            `json:"duration_ms"`
	UserPrompt   string           `json:"user_prompt"`
	ToolCalls    []ToolCallRecord `json:"tool_calls"`
	Tokens       TokenUsage       `json:"tokens"`
	ModelCalls   int              `json:"model_calls"`
	ReplySummary string           `json:"reply_summary"`
}

// JobKind distinguishes a persisted cron job that fires forever from one that
// self-removes after its first success.
type JobKind string

const (
	JobKindRecurring JobKind = "Recurring"
	JobKindOneShot   JobKind = "OneShot"
)

// JobStatusKind is the discriminant of a JobStatus.
type JobStatusKind string

const (
	JobStatusPending JobStatusKind = "PENDING"
	JobStatusRunning JobStatusKind = "RUNNING"
	JobStatusSuccess JobStatusKind = "SUCCESS"
	JobStatusFailed  JobStatusKind = "FAILED"
)

// JobStatus is a tagged status; Message is only meaningful when Kind is
// JobStatusFailed.
type JobStatus struct {
	Kind    JobStatusKind `json:"kind"`
	Message string        `json:"message,omitempty"`
}

func Success() JobStatus { return JobStatus{Kind: JobStatusSuccess} }
func Pending() JobStatus { return JobStatus{Kind: JobStatusPending} }
func Running() JobStatus { return JobStatus{Kind: JobStatusRunning} }
func Failed(msg string) JobStatus {
	return JobStatus{Kind: JobStatusFailed, Message: msg}
}

// PersistedCronJob is one entry in an agent workspace's cron_jobs.json.
// Identity key is Name+"@"+AgentID.
type PersistedCronJob struct {
	AgentID        string   `json:"agent_id"`
	Name           string   `json:"name"`
	Schedule       string   `json:"schedule"`
	Message        string   `json:"message,omitempty"`
	Kind           JobKind  `json:"kind"`
	DependsOn      []string `json:"depends_on,omitempty"`
	MaxRetries     *int     `json:"max_retries,omitempty"`
	RetryDelaySecs *int     `json:"retry_delay_secs,omitempty"`
	Condition      string   `json:"condition,omitempty"`
	RetryCount     int      `json:"retry_count"`
	LastStatus     *JobStatus `json:"last_status,omitempty"`
}

// Key returns the job's identity key, "<name>@<agent_id>".
func (j PersistedCronJob) Key() string {
	return j.Name + "@" + j.AgentID
}

// JobRun is one append-only execution record for a PersistedCronJob.
type JobRun struct {
	ID            string     `json:"id"`
	JobID         string     `json:"job_id"`
	ScheduledAt   int64      `json:"scheduled_at"`
	ExecutedAt    *int64     `json:"executed_at,omitempty"`
	CompletedAt   *int64     `json:"completed_at,omitempty"`
	Status        JobStatus  `json:"status"`
	OutputPreview string     `json:"output_preview,omitempty"`
	Error         string     `json:"error,omitempty"`
	DurationMs    *int64     `json:"duration_ms,omitempty"`
}

// HeartbeatHealth is the discriminant of HeartbeatStatus.Health.
type HeartbeatHealth string

const (
	HeartbeatOK     HeartbeatHealth = "OK"
	HeartbeatMissed HeartbeatHealth = "MISSED"
	HeartbeatError  HeartbeatHealth = "ERROR"
)

// HeartbeatStatus mirrors an agent's heartbeat_status.json on disk.
type HeartbeatStatus struct {
	AgentID        string          `json:"agent_id"`
	Enabled        bool            `json:"enabled"`
	Health         HeartbeatHealth `json:"health"`
	HealthMessage  string          `json:"health_message,omitempty"`
	LastTick       *int64          `json:"last_tick,omitempty"`
	NextTick       *int64          `json:"next_tick,omitempty"`
	IntervalSecs   *int64          `json:"interval_secs,omitempty"`
	MessagePreview string          `json:"message_preview,omitempty"`
}

// Skill is an instructional Markdown block injected into the prompt; it may
// share its name with a builtin tool to enrich it.
type Skill struct {
	Instructions    string `json:"instructions"`
	Scope           string `json:"scope,omitempty"`
	Version         string `json:"version,omitempty"`
	Description     string `json:"description,omitempty"`
	OperatorManaged bool   `json:"operator_managed,omitempty"`
}

// ToolMeta is the JSON-schema-bearing metadata half of a ToolEntry, the half
// shipped to the provider as a function definition.
type ToolMeta struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ArgsSchema  json.RawMessage `json:"args_schema,omitempty"`
}

// FunctionDef is a ToolMeta narrowed to the shape a provider call expects.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// RichMessage is a connector payload richer than plain text (embeds, buttons,
// attachments); connectors that cannot render it fall back to PlainText.
type RichMessage struct {
	PlainText string         `json:"plain_text"`
	Title     string         `json:"title,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// SessionIndexEntry is one line of the global <home>/sessions/index.jsonl.
type SessionIndexEntry struct {
	SessionID   string `json:"session_id"`
	AgentID     string `json:"agent_id"`
	CreatedAtMs int64  `json:"created_at_ms"`
	Title       string `json:"title,omitempty"`
}
