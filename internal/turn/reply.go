package turn

import (
	"github.com/haasonsaas/nexus/internal/channels"
	"github.com/haasonsaas/nexus/pkg/models"
)

// streamChunkTarget is the approximate chunk size spec §4.6 step 6 streams
// replies at.
const streamChunkTarget = 80

// streamReply implements step 6: chunk text on whitespace near
// streamChunkTarget chars and emit one stream_delta event per chunk, the
// last carrying done:true. Replies at or under the target emit a single
// event.
func (e *Engine) streamReply(text string) {
	chunks := chunkOnWhitespace(text, streamChunkTarget)
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	for i, chunk := range chunks {
		e.events().Emit(EventStreamDelta, map[string]any{
			"agent_id": e.AgentID,
			"delta":    chunk,
			"done":     i == len(chunks)-1,
		})
	}
}

// chunkOnWhitespace splits text into stream-sized pieces, preferring
// paragraph/sentence/word boundaries over a hard cut at target chars.
func chunkOnWhitespace(text string, target int) []string {
	return channels.NewMessageChunker(target).Chunk(text)
}

// persistAndEmit implements step 7.
func (e *Engine) persistAndEmit(sessionID, userContent, replyText string, receipt models.TurnReceipt) {
	now := e.now().UnixMilli()

	userExchange := models.Exchange{TimestampMs: now, Role: models.ChatRoleUser, Content: userContent}
	if err := e.Sessions.Append(sessionID, userExchange); err != nil {
		e.logger().Error("persist user exchange failed", "error", err)
	} else {
		e.events().Emit(EventSessionMessage, map[string]any{"agent_id": e.AgentID, "session_id": sessionID, "exchange": userExchange})
	}

	assistantExchange := models.Exchange{TimestampMs: e.now().UnixMilli(), Role: models.ChatRoleAssistant, Content: replyText}
	if err := e.Sessions.Append(sessionID, assistantExchange); err != nil {
		e.logger().Error("persist assistant exchange failed", "error", err)
	} else {
		e.events().Emit(EventSessionMessage, map[string]any{"agent_id": e.AgentID, "session_id": sessionID, "exchange": assistantExchange})
	}

	if err := e.Sessions.AppendReceipt(sessionID, receipt); err != nil {
		e.logger().Error("persist receipt failed", "error", err)
	} else {
		e.events().Emit(EventTurnReceipt, map[string]any{"agent_id": e.AgentID, "receipt": receipt})
	}

	e.events().Emit(EventTypingStop, map[string]any{"agent_id": e.AgentID})
}
