package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/provider"
	"github.com/haasonsaas/nexus/pkg/models"
)

var fencedJSONBlock = regexp.MustCompile("```json\\s*\\n([\\s\\S]*?)\\n\\s*```")

type fencedCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// toolLoop implements step 5. It returns the final reply text, the
// conversation as left after the loop, the (possibly expanded) function
// defs, the accumulated tool call records, and the number of additional
// model calls made beyond the initial one.
func (e *Engine) toolLoop(ctx context.Context, messages []models.ChatMessage, functionDefs []models.FunctionDef, resp provider.Response) (string, []models.ChatMessage, []models.FunctionDef, []models.ToolCallRecord, int) {
	var records []models.ToolCallRecord
	modelCalls := 0

	for iter := 0; iter < e.maxToolIterations(); iter++ {
		switch resp.Kind {
		case provider.KindFinal:
			call, rest, ok := extractFencedCall(resp.Text)
			if !ok {
				return resp.Text, messages, functionDefs, records, modelCalls
			}

			argsRaw := call.Args
			if len(argsRaw) == 0 {
				argsRaw = json.RawMessage(`{}`)
			}
			result, rec := e.runTool(ctx, call.Name, argsRaw)
			records = append(records, rec)

			messages = append(messages, models.ChatMessage{Role: models.ChatRoleAssistant, Content: resp.Text})
			if strings.TrimSpace(rest) != "" {
				messages = append(messages, models.ChatMessage{Role: models.ChatRoleAssistant, Content: rest})
			}
			messages = append(messages, models.ChatMessage{
				Role:    models.ChatRoleUser,
				Content: fmt.Sprintf("[Tool Result for %s]: %s", call.Name, resultJSON(result)),
			})

			functionDefs = e.mergeSearchTools(functionDefs, call.Name, result)

			next, usage, err := e.Provider.SendChatWithFunctions(ctx, messages, functionDefs)
			modelCalls++
			if usage != nil {
				e.events().Emit(EventTokenUsage, map[string]any{"agent_id": e.AgentID, "usage": usage})
			}
			if err != nil {
				messages = append(messages, models.ChatMessage{Role: models.ChatRoleSystem, Content: "model call failed: " + err.Error()})
				continue
			}
			resp = next

		case provider.KindFunctionCall:
			call := resp.Calls[0]
			if call.ID == "" {
				call.ID = syntheticCallID()
			}
			result, rec := e.runTool(ctx, call.Name, parseArguments(call.Arguments))
			records = append(records, rec)

			messages = append(messages, models.ChatMessage{
				Role:      models.ChatRoleAssistant,
				ToolCalls: []models.ToolCallEntry{{ID: call.ID, Name: call.Name, Arguments: call.Arguments}},
			})
			messages = append(messages, models.ChatMessage{
				Role:       models.ChatRoleTool,
				ToolCallID: call.ID,
				Content:    resultJSON(result),
			})

			functionDefs = e.mergeSearchTools(functionDefs, call.Name, result)

			next, usage, err := e.Provider.SendChatWithFunctions(ctx, messages, functionDefs)
			modelCalls++
			if usage != nil {
				e.events().Emit(EventTokenUsage, map[string]any{"agent_id": e.AgentID, "usage": usage})
			}
			if err != nil {
				messages = append(messages, models.ChatMessage{Role: models.ChatRoleSystem, Content: "model call failed: " + err.Error()})
				continue
			}
			resp = next

		case provider.KindMultiFunctionCall:
			calls := make([]provider.Call, len(resp.Calls))
			copy(calls, resp.Calls)
			for i := range calls {
				if calls[i].ID == "" {
					calls[i].ID = syntheticCallID()
				}
			}

			entries := make([]models.ToolCallEntry, len(calls))
			for i, c := range calls {
				entries[i] = models.ToolCallEntry{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
			}
			messages = append(messages, models.ChatMessage{Role: models.ChatRoleAssistant, ToolCalls: entries})

			type outcome struct {
				id     string
				result *toolregistryResult
				rec    models.ToolCallRecord
				call   provider.Call
			}
			outcomes := make([]outcome, len(calls))
			var wg sync.WaitGroup
			for i, c := range calls {
				wg.Add(1)
				go func(i int, c provider.Call) {
					defer wg.Done()
					result, rec := e.runTool(ctx, c.Name, parseArguments(c.Arguments))
					outcomes[i] = outcome{id: c.ID, result: result, rec: rec, call: c}
				}(i, c)
			}
			wg.Wait()

			for _, o := range outcomes {
				records = append(records, o.rec)
				messages = append(messages, models.ChatMessage{
					Role:       models.ChatRoleTool,
					ToolCallID: o.id,
					Content:    resultJSON(o.result),
				})
				functionDefs = e.mergeSearchTools(functionDefs, o.call.Name, o.result)
			}

			next, usage, err := e.Provider.SendChatWithFunctions(ctx, messages, functionDefs)
			modelCalls++
			if usage != nil {
				e.events().Emit(EventTokenUsage, map[string]any{"agent_id": e.AgentID, "usage": usage})
			}
			if err != nil {
				messages = append(messages, models.ChatMessage{Role: models.ChatRoleSystem, Content: "model call failed: " + err.Error()})
				continue
			}
			resp = next
		}
	}

	if resp.IsFunctionCall() {
		names := make([]string, 0, len(resp.Calls))
		for _, c := range resp.Calls {
			names = append(names, c.Name)
		}
		return "[tool loop exhausted] last call(s): " + strings.Join(names, ", "), messages, functionDefs, records, modelCalls
	}
	return resp.Text, messages, functionDefs, records, modelCalls
}

// toolregistryResult mirrors toolregistry.Result without importing it into
// this file's signatures verbatim, kept local to avoid a second import line
// collision with the provider package's own Result-shaped types.
type toolregistryResult struct {
	Content string
	IsError bool
}

func (e *Engine) runTool(ctx context.Context, name string, args json.RawMessage) (*toolregistryResult, models.ToolCallRecord) {
	started := e.now()
	e.events().Emit(EventToolStart, map[string]any{"agent_id": e.AgentID, "tool": name})

	res, err := e.Tools.Call(ctx, name, args, e.Workspace)
	duration := e.now().Sub(started).Milliseconds()

	if err != nil {
		e.events().Emit(EventToolError, map[string]any{"agent_id": e.AgentID, "tool": name, "error": err.Error()})
		return &toolregistryResult{Content: err.Error(), IsError: true}, models.ToolCallRecord{
			Tool:        name,
			ArgsSummary: truncate(string(args), 200),
			Success:     false,
			DurationMs:  duration,
			Error:       err.Error(),
		}
	}

	if res.IsError {
		e.events().Emit(EventToolError, map[string]any{"agent_id": e.AgentID, "tool": name, "error": res.Content})
	} else {
		e.events().Emit(EventToolEnd, map[string]any{"agent_id": e.AgentID, "tool": name})
	}

	rec := models.ToolCallRecord{
		Tool:        name,
		ArgsSummary: truncate(string(args), 200),
		Success:     !res.IsError,
		DurationMs:  duration,
	}
	if res.IsError {
		rec.Error = res.Content
	}
	return &toolregistryResult{Content: res.Content, IsError: res.IsError}, rec
}

// mergeSearchTools expands functionDefs with newly discovered tool schemas
// when name is search_tools and the call succeeded, deduping by name.
func (e *Engine) mergeSearchTools(functionDefs []models.FunctionDef, name string, result *toolregistryResult) []models.FunctionDef {
	if name != "search_tools" || result == nil || result.IsError {
		return functionDefs
	}
	var found []models.ToolMeta
	if err := json.Unmarshal([]byte(result.Content), &found); err != nil {
		return functionDefs
	}
	seen := make(map[string]bool, len(functionDefs))
	for _, d := range functionDefs {
		seen[d.Name] = true
	}
	for _, m := range found {
		if seen[m.Name] {
			continue
		}
		seen[m.Name] = true
		functionDefs = append(functionDefs, models.FunctionDef{Name: m.Name, Description: m.Description, Parameters: m.ArgsSchema})
	}
	return functionDefs
}

func resultJSON(r *toolregistryResult) string {
	if r == nil {
		return `{"error":"no result"}`
	}
	if r.IsError {
		payload, _ := json.Marshal(map[string]string{"error": r.Content})
		return string(payload)
	}
	if json.Valid([]byte(r.Content)) {
		return r.Content
	}
	payload, _ := json.Marshal(map[string]string{"result": r.Content})
	return string(payload)
}

// extractFencedCall finds the first ```json fenced block in text and
// parses it as {"name", "args"}. ok is false if no fence is present. When
// a fence is present but fails to parse, ok is also false so the caller
// exits the loop with the raw text as the reply (per spec's "if parsing
// fails, warn and exit with the raw text").
func extractFencedCall(text string) (fencedCall, string, bool) {
	loc := fencedJSONBlock.FindStringSubmatchIndex(text)
	if loc == nil {
		return fencedCall{}, "", false
	}
	body := text[loc[2]:loc[3]]
	var call fencedCall
	if err := json.Unmarshal([]byte(body), &call); err != nil || call.Name == "" {
		return fencedCall{}, "", false
	}
	rest := strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
	return call, rest, true
}

func parseArguments(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" || !json.Valid([]byte(raw)) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(raw)
}

// syntheticCallID mints call_<nanos-hex>, for tool calls the provider
// returned without an id (spec §4.6 step 5, FunctionCall branch).
func syntheticCallID() string {
	return fmt.Sprintf("call_%x", time.Now().UnixNano())
}
